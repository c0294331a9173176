package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS returns a middleware that sets CORS headers for cross-origin requests.
// AllowedOrigins can be "*" or a comma-separated list. An entry ending in "*" matches by
// prefix, e.g. "chrome-extension://*" admits every installed extension.
func CORS(allowedOrigins string) gin.HandlerFunc {
	exact, prefixes := parseOrigins(allowedOrigins)
	allowAll := len(exact) == 0 && len(prefixes) == 0 || exact["*"]
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := ""
		switch {
		case allowAll:
			allowOrigin = "*"
		case origin != "" && (exact[origin] || hasAnyPrefix(origin, prefixes)):
			allowOrigin = origin
			c.Header("Vary", "Origin")
		}
		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Tab-Id, X-Request-Id")
			c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-Id")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(s string) (map[string]bool, []string) {
	exact := make(map[string]bool)
	var prefixes []string
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o != "*" && strings.HasSuffix(o, "*"):
			prefixes = append(prefixes, strings.TrimSuffix(o, "*"))
		default:
			exact[o] = true
		}
	}
	return exact, prefixes
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
