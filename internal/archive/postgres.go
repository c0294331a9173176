package archive

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

// Postgres stores archived sessions in archived_sessions.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres archive on an already migrated pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Save inserts s; a session already archived is left unchanged.
func (p *Postgres) Save(ctx context.Context, s models.HistoricalSession) error {
	videoLog, err := encodeLog(s.VideoLog)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO archived_sessions (id, platform, start_time, end_time, video_count, accumulated_time, video_log)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, string(s.Platform), s.StartTime, s.EndTime, s.VideoCount, s.AccumulatedTime, videoLog)
	return err
}

// Recent returns up to limit sessions, newest start first. An empty platform matches all.
func (p *Postgres) Recent(ctx context.Context, platform models.Platform, limit int) ([]models.HistoricalSession, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, platform, start_time, end_time, video_count, accumulated_time, video_log
		 FROM archived_sessions WHERE ($1 = '' OR platform = $1)
		 ORDER BY start_time DESC LIMIT $2`,
		string(platform), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.HistoricalSession{}
	for rows.Next() {
		var (
			s    models.HistoricalSession
			name string
			raw  []byte
		)
		if err := rows.Scan(&s.ID, &name, &s.StartTime, &s.EndTime, &s.VideoCount, &s.AccumulatedTime, &raw); err != nil {
			return nil, err
		}
		s.Platform = models.Platform(name)
		if s.VideoLog, err = decodeLog(raw); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Totals sums sessions whose start lies in [from, to).
func (p *Postgres) Totals(ctx context.Context, from, to int64) (models.DailyStats, error) {
	const q = `SELECT COALESCE(SUM(accumulated_time), 0), COALESCE(SUM(video_count), 0)
		FROM archived_sessions WHERE start_time >= $1 AND start_time < $2`
	var stats models.DailyStats
	err := p.pool.QueryRow(ctx, q, from, to).Scan(&stats.TotalTime, &stats.TotalVideos)
	return stats, err
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
