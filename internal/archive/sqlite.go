package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

// SQLite is a single-file archive for installs without Postgres.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the archive database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS archived_sessions (
  id TEXT PRIMARY KEY,
  platform TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  end_time INTEGER NOT NULL,
  video_count INTEGER NOT NULL DEFAULT 0,
  accumulated_time INTEGER NOT NULL DEFAULT 0,
  video_log TEXT NOT NULL DEFAULT '[]',
  archived_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_archived_sessions_start ON archived_sessions (start_time DESC);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create archived_sessions table: %w", err)
	}
	return nil
}

// Save inserts s; a session already archived is left unchanged.
func (s *SQLite) Save(ctx context.Context, sess models.HistoricalSession) error {
	videoLog, err := encodeLog(sess.VideoLog)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO archived_sessions (id, platform, start_time, end_time, video_count, accumulated_time, video_log)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	if _, err := s.db.ExecContext(ctx, stmt,
		sess.ID, string(sess.Platform), sess.StartTime, sess.EndTime, sess.VideoCount, sess.AccumulatedTime, videoLog,
	); err != nil {
		return fmt.Errorf("insert archived session: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest start first. An empty platform matches all.
func (s *SQLite) Recent(ctx context.Context, platform models.Platform, limit int) ([]models.HistoricalSession, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, platform, start_time, end_time, video_count, accumulated_time, video_log
FROM archived_sessions WHERE (? = '' OR platform = ?)
ORDER BY start_time DESC LIMIT ?`, string(platform), string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("query archived sessions: %w", err)
	}
	defer rows.Close()
	list := []models.HistoricalSession{}
	for rows.Next() {
		var (
			sess models.HistoricalSession
			p    string
			raw  string
		)
		if err := rows.Scan(&sess.ID, &p, &sess.StartTime, &sess.EndTime, &sess.VideoCount, &sess.AccumulatedTime, &raw); err != nil {
			return nil, fmt.Errorf("scan archived session: %w", err)
		}
		sess.Platform = models.Platform(p)
		if sess.VideoLog, err = decodeLog([]byte(raw)); err != nil {
			return nil, err
		}
		list = append(list, sess)
	}
	return list, rows.Err()
}

// Totals sums sessions whose start lies in [from, to).
func (s *SQLite) Totals(ctx context.Context, from, to int64) (models.DailyStats, error) {
	var stats models.DailyStats
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(accumulated_time), 0), COALESCE(SUM(video_count), 0)
FROM archived_sessions WHERE start_time >= ? AND start_time < ?`, from, to).Scan(&stats.TotalTime, &stats.TotalVideos)
	if err != nil {
		return models.DailyStats{}, fmt.Errorf("sum archived sessions: %w", err)
	}
	return stats, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
