// Package worker drains the background job queue: archiving finalized sessions and
// uploading history backups.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/queue"
)

// ErrNotConfigured is returned for a job whose destination is not configured on this worker.
var ErrNotConfigured = errors.New("job destination not configured")

// Jobs is the queue side the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Archiver stores a finalized session.
type Archiver interface {
	Save(ctx context.Context, s models.HistoricalSession) error
}

// BackupUploader writes a backup object.
type BackupUploader interface {
	UploadBackup(ctx context.Context, key string, body []byte) error
}

// Processor executes archive and backup jobs. archive or backups may be nil.
type Processor struct {
	jobs    Jobs
	archive Archiver
	backups BackupUploader
	backoff time.Duration
	logger  *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(jobs Jobs, archive Archiver, backups BackupUploader, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{jobs: jobs, archive: archive, backups: backups, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeArchiveSession:
		var payload queue.ArchiveSessionPayload
		if err := sonic.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if p.archive == nil {
			return fmt.Errorf("archive session %s: %w", payload.Session.ID, ErrNotConfigured)
		}
		if err := p.archive.Save(ctx, payload.Session); err != nil {
			return fmt.Errorf("archive session %s: %w", payload.Session.ID, err)
		}
		p.logger.Info("session archived", zap.String("session_id", payload.Session.ID), zap.String("platform", string(payload.Session.Platform)))
		return nil
	case queue.JobTypeHistoryBackup:
		var payload queue.HistoryBackupPayload
		if err := sonic.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if p.backups == nil {
			return fmt.Errorf("backup %s: %w", payload.Key, ErrNotConfigured)
		}
		sessions := payload.Sessions
		if sessions == nil {
			sessions = []models.HistoricalSession{}
		}
		body, err := sonic.ConfigStd.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("encode backup: %w", err)
		}
		if err := p.backups.UploadBackup(ctx, payload.Key, body); err != nil {
			return fmt.Errorf("backup %s: %w", payload.Key, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *Processor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
