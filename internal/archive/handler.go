package archive

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler serves read access to the archive.
type Handler struct {
	store Store
}

// NewHandler creates an archive handler.
func NewHandler(s Store) *Handler {
	return &Handler{store: s}
}

// Sessions handles GET /archive/sessions?platform=&limit=.
func (h *Handler) Sessions(c *gin.Context) {
	platform := models.Platform(c.Query("platform"))
	if platform != "" && !platform.Valid() {
		response.BadRequest(c, "invalid platform")
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			response.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := h.store.Recent(c.Request.Context(), platform, limit)
	if err != nil {
		response.Internal(c, "failed to load archived sessions")
		return
	}
	response.OK(c, gin.H{"sessions": list, "count": len(list)})
}

// Totals handles GET /archive/totals?from=&to= (epoch milliseconds, to exclusive).
func (h *Handler) Totals(c *gin.Context) {
	from, errFrom := strconv.ParseInt(c.Query("from"), 10, 64)
	to, errTo := strconv.ParseInt(c.Query("to"), 10, 64)
	if errFrom != nil || errTo != nil || to <= from {
		response.BadRequest(c, "from and to must be epoch milliseconds with from < to")
		return
	}
	stats, err := h.store.Totals(c.Request.Context(), from, to)
	if err != nil {
		response.Internal(c, "failed to sum archived sessions")
		return
	}
	response.OK(c, stats)
}
