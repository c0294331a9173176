package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/response"
	"github.com/SeanDreamHsu/shorts-counter/pkg/storage"
)

const maxImportBytes = 10 << 20

// BackupScheduler queues an off-site copy of the history.
type BackupScheduler interface {
	EnqueueHistoryBackup(ctx context.Context, sessions []models.HistoricalSession) (jobID, key string, err error)
}

// BackupBrowser lists stored backups with download links.
type BackupBrowser interface {
	ListBackups(ctx context.Context) ([]storage.BackupObject, error)
}

// Handler serves the /history endpoints.
type Handler struct {
	svc     *Service
	backups BackupScheduler
	browser BackupBrowser
	today   func() string
	logger  *zap.Logger
}

// NewHandler creates a history handler. backups may be nil when no queue is configured.
func NewHandler(svc *Service, backups BackupScheduler, today func() string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, backups: backups, today: today, logger: logger}
}

// SetBackupBrowser enables GET /history/backups.
func (h *Handler) SetBackupBrowser(b BackupBrowser) {
	h.browser = b
}

// List handles GET /history?platform=.
func (h *Handler) List(c *gin.Context) {
	platform := models.Platform(c.Query("platform"))
	if platform != "" && !platform.Valid() {
		response.BadRequest(c, "invalid platform")
		return
	}
	list, err := h.svc.List(c.Request.Context(), platform)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, gin.H{"sessions": list, "count": len(list)})
}

// Export handles GET /history/export: the raw JSON array as a download.
func (h *Handler) Export(c *gin.Context) {
	list, err := h.svc.Export(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	body, err := sonic.ConfigStd.MarshalIndent(list, "", "  ")
	if err != nil {
		response.Internal(c, "failed to encode history")
		return
	}
	name := "shorts-history.json"
	if h.today != nil {
		name = fmt.Sprintf("shorts-history-%s.json", h.today())
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/json", body)
}

// Import handles POST /history/import. The body is an exported array, or {"sessions": [...]}.
func (h *Handler) Import(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	records, err := DecodeImport(raw)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.svc.Import(c.Request.Context(), records)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, res)
}

// Delete handles DELETE /history/:id.
func (h *Handler) Delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.NoContent(c)
}

// Reset handles POST /history/reset.
func (h *Handler) Reset(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context()); err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, gin.H{"reset": true})
}

// Backup handles POST /history/backup.
func (h *Handler) Backup(c *gin.Context) {
	if h.backups == nil {
		response.ServiceUnavailable(c, "backups not configured")
		return
	}
	ctx := c.Request.Context()
	list, err := h.svc.Export(ctx)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	jobID, key, err := h.backups.EnqueueHistoryBackup(ctx, list)
	if err != nil {
		h.logger.Error("enqueue history backup", zap.Error(err))
		response.ServiceUnavailable(c, "failed to queue backup")
		return
	}
	response.Accepted(c, gin.H{"job_id": jobID, "key": key, "sessions": len(list)})
}

// ListBackups handles GET /history/backups.
func (h *Handler) ListBackups(c *gin.Context) {
	if h.browser == nil {
		response.ServiceUnavailable(c, "backups not configured")
		return
	}
	list, err := h.browser.ListBackups(c.Request.Context())
	if err != nil {
		h.logger.Error("list backups", zap.Error(err))
		response.ServiceUnavailable(c, "failed to list backups")
		return
	}
	response.OK(c, gin.H{"backups": list})
}

// DecodeImport parses an import file: a JSON array of sessions or an object with a sessions array.
func DecodeImport(raw []byte) ([]ImportRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty import")
	}
	var records []ImportRecord
	if raw[0] == '[' {
		if err := sonic.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("invalid import file: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Sessions []ImportRecord `json:"sessions"`
	}
	if err := sonic.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid import file: %w", err)
	}
	if wrapped.Sessions == nil {
		return nil, errors.New("invalid import file: expected an array of sessions")
	}
	return wrapped.Sessions, nil
}
