package insights

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
)

const maxVibeDays = 30

// Handler serves GET /insights/*.
type Handler struct {
	svc *Service
}

// NewHandler creates an insights handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func platformQuery(c *gin.Context) (models.Platform, bool) {
	p := models.Platform(c.Query("platform"))
	if p != "" && p != "all" && !p.Valid() {
		response.BadRequest(c, "invalid platform")
		return "", false
	}
	if p == "all" {
		p = ""
	}
	return p, true
}

// Week handles GET /insights/week?platform=.
func (h *Handler) Week(c *gin.Context) {
	p, ok := platformQuery(c)
	if !ok {
		return
	}
	days, err := h.svc.Week(c.Request.Context(), p)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, gin.H{"days": days})
}

// Compare handles GET /insights/compare?platform=.
func (h *Handler) Compare(c *gin.Context) {
	p, ok := platformQuery(c)
	if !ok {
		return
	}
	cmp, err := h.svc.Compare(c.Request.Context(), p)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, cmp)
}

// Vibe handles GET /insights/vibe?days=.
func (h *Handler) Vibe(c *gin.Context) {
	days := 1
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxVibeDays {
			response.BadRequest(c, "days must be between 1 and 30")
			return
		}
		days = n
	}
	v, err := h.svc.Vibe(c.Request.Context(), days)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, v)
}

// Nudges handles GET /insights/nudges.
func (h *Handler) Nudges(c *gin.Context) {
	n, err := h.svc.Nudges(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, n)
}
