package tracker

import (
	"context"
	"time"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

// Reporter assembles read-only views. It never enters the serializer: a read taken
// during a concurrent write may be slightly stale.
type Reporter struct {
	state *StateRepository
	clock Clock
	loc   *time.Location
}

// NewReporter creates a reporter; loc defines calendar-day boundaries (nil means time.Local).
func NewReporter(state *StateRepository, clock Clock, loc *time.Location) *Reporter {
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Reporter{state: state, clock: clock, loc: loc}
}

// RealtimeStatus returns today's totals and the live session projection.
func (r *Reporter) RealtimeStatus(ctx context.Context) (models.RealtimeStatus, error) {
	st, err := r.state.Snapshot(ctx)
	if err != nil {
		return models.RealtimeStatus{}, err
	}
	now := r.clock.Now()
	return models.RealtimeStatus{
		DailyStats: DailyTotals(st.History, st.Session, now, r.loc),
		Session:    Project(st.Session, now.UnixMilli()),
	}, nil
}

// DailyStatsOnly returns today's totals without the session projection.
func (r *Reporter) DailyStatsOnly(ctx context.Context) (models.DailyStats, error) {
	st, err := r.state.Snapshot(ctx)
	if err != nil {
		return models.DailyStats{}, err
	}
	return DailyTotals(st.History, st.Session, r.clock.Now(), r.loc), nil
}

// Snapshot exposes the raw state for other read-only views.
func (r *Reporter) Snapshot(ctx context.Context) (State, error) {
	return r.state.Snapshot(ctx)
}

// Now returns the reporter's clock reading.
func (r *Reporter) Now() time.Time { return r.clock.Now() }

// Location returns the calendar-day timezone.
func (r *Reporter) Location() *time.Location { return r.loc }

// DailyTotals sums the sessions that started on now's local day, plus the live session
// when it also started that day.
func DailyTotals(history []models.HistoricalSession, live *models.ActiveSession, now time.Time, loc *time.Location) models.DailyStats {
	start := StartOfDay(now, loc).UnixMilli()
	end := StartOfDay(now, loc).AddDate(0, 0, 1).UnixMilli()
	return RangeTotals(history, live, start, end, now.UnixMilli())
}

// RangeTotals sums sessions whose start lies in [from, to).
func RangeTotals(history []models.HistoricalSession, live *models.ActiveSession, from, to, now int64) models.DailyStats {
	var stats models.DailyStats
	for _, h := range history {
		if h.StartTime >= from && h.StartTime < to {
			stats.TotalTime += h.AccumulatedTime
			stats.TotalVideos += h.VideoCount
		}
	}
	if live != nil && live.StartTime >= from && live.StartTime < to {
		stats.TotalTime += ProjectElapsed(live, now)
		stats.TotalVideos += live.VideoCount
	}
	return stats
}

// StartOfDay returns local midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
