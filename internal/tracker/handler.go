package tracker

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
)

// Handler exposes the message contract, reporter views and watchdog inputs over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	reporter   *Reporter
	watchdog   *Watchdog
}

// NewHandler creates a tracker handler.
func NewHandler(dispatcher *Dispatcher, reporter *Reporter, watchdog *Watchdog) *Handler {
	return &Handler{dispatcher: dispatcher, reporter: reporter, watchdog: watchdog}
}

// PostMessage handles POST /messages. The body is a Message; the sender tab may also come
// from the X-Tab-Id header. Responses use the raw message-contract shapes.
func (h *Handler) PostMessage(c *gin.Context) {
	var msg Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, Ack{Success: false})
		return
	}
	if msg.TabID == 0 {
		if id, err := strconv.Atoi(c.GetHeader("X-Tab-Id")); err == nil && id > 0 {
			msg.TabID = id
		}
	}
	out, _ := h.dispatcher.Dispatch(c.Request.Context(), msg)
	c.JSON(http.StatusOK, out)
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.reporter.RealtimeStatus(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, status)
}

// GetDailyStats handles GET /stats/daily.
func (h *Handler) GetDailyStats(c *gin.Context) {
	stats, err := h.reporter.DailyStatsOnly(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, stats)
}

// TabRemoved handles POST /tabs/:id/removed.
func (h *Handler) TabRemoved(c *gin.Context) {
	tabID, ok := parseTabID(c)
	if !ok {
		return
	}
	finalized, err := h.watchdog.OnTabRemoved(c.Request.Context(), tabID)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, gin.H{"finalized": finalized})
}

type tabUpdateRequest struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

// TabUpdated handles POST /tabs/:id/updated.
func (h *Handler) TabUpdated(c *gin.Context) {
	tabID, ok := parseTabID(c)
	if !ok {
		return
	}
	var req tabUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	finalized, err := h.watchdog.OnTabUpdated(c.Request.Context(), tabID, req.Status, req.URL)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, gin.H{"finalized": finalized})
}

func parseTabID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid tab id")
		return 0, false
	}
	return id, true
}
