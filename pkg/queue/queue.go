package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/storage"
)

const (
	// QueueArchive is the Redis list key for session archive jobs.
	QueueArchive = "worker:archive"
	// QueueBackups is the Redis list key for history backup jobs.
	QueueBackups = "worker:backups"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeArchiveSession JobType = "archive_session"
	JobTypeHistoryBackup  JobType = "history_backup"
)

// ArchiveSessionPayload carries one finalized session to the archive.
type ArchiveSessionPayload struct {
	Session models.HistoricalSession `json:"session"`
}

// HistoryBackupPayload carries a history snapshot and the object key to write it to.
type HistoryBackupPayload struct {
	Key      string                     `json:"key"`
	Sessions []models.HistoricalSession `json:"sessions"`
}

// Job is a generic job envelope. Queue records the list the job was first pushed to.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Lists is the subset of the Redis client the queue uses.
type Lists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client Lists
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client Lists, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, now: time.Now}
}

func (q *Queue) push(ctx context.Context, list string, typ JobType, payload any) (*Job, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Queue:     list,
		Payload:   body,
		CreatedAt: q.now(),
	}
	raw, err := sonic.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, list, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// EnqueueArchiveSession enqueues a finalized session for archiving.
func (q *Queue) EnqueueArchiveSession(ctx context.Context, s models.HistoricalSession) error {
	job, err := q.push(ctx, QueueArchive, JobTypeArchiveSession, ArchiveSessionPayload{Session: s})
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued archive job", zap.String("job_id", job.ID), zap.String("session_id", s.ID))
	return nil
}

// EnqueueHistoryBackup enqueues a history backup and returns the job id and target object key.
func (q *Queue) EnqueueHistoryBackup(ctx context.Context, sessions []models.HistoricalSession) (string, string, error) {
	key := storage.BackupKey(q.now())
	job, err := q.push(ctx, QueueBackups, JobTypeHistoryBackup, HistoryBackupPayload{Key: key, Sessions: sessions})
	if err != nil {
		return "", "", err
	}
	q.logger.Info("enqueued history backup", zap.String("job_id", job.ID), zap.String("key", key), zap.Int("sessions", len(sessions)))
	return job.ID, key, nil
}

// Dequeue blocks until a job is available on any work queue or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueArchive, QueueBackups).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := sonic.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	if job.Queue == "" {
		job.Queue = result[0]
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job on its original queue with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := sonic.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	list := job.Queue
	if list == "" {
		list = QueueArchive
	}
	if err := q.client.RPush(ctx, list, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.String("queue", list), zap.Int("attempt", job.Attempt))
	return nil
}
