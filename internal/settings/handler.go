package settings

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
)

// Handler serves GET and PATCH /settings.
type Handler struct {
	svc *Service
}

// NewHandler creates a settings handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Get handles GET /settings.
func (h *Handler) Get(c *gin.Context) {
	s, err := h.svc.Get(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, s)
}

// Update handles PATCH /settings.
func (h *Handler) Update(c *gin.Context) {
	var p Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	s, err := h.svc.Update(c.Request.Context(), p)
	if errors.Is(err, ErrInvalid) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, s)
}
