// Package archive keeps a durable, queryable copy of every finalized session outside the
// state store, where history is bounded only by what the client keeps.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/config"
	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/database"
)

// ErrDisabled is returned by Open when no archive driver is configured.
var ErrDisabled = errors.New("archive disabled")

// Store persists finalized sessions. Save is idempotent by session id so retried jobs are safe.
type Store interface {
	Save(ctx context.Context, s models.HistoricalSession) error
	Recent(ctx context.Context, platform models.Platform, limit int) ([]models.HistoricalSession, error)
	Totals(ctx context.Context, from, to int64) (models.DailyStats, error)
	Close() error
}

// Open connects the configured archive backend. Postgres is migrated on open.
func Open(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, ErrDisabled
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.DSN(), logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewPostgres(pool), nil
	case "sqlite":
		return NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

func encodeLog(log []models.VideoLogEntry) (string, error) {
	if log == nil {
		log = []models.VideoLogEntry{}
	}
	b, err := sonic.Marshal(log)
	if err != nil {
		return "", fmt.Errorf("encode video log: %w", err)
	}
	return string(b), nil
}

func decodeLog(raw []byte) ([]models.VideoLogEntry, error) {
	out := []models.VideoLogEntry{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode video log: %w", err)
	}
	return out, nil
}
