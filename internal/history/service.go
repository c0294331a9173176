// Package history manages the finalized-session list: listing, per-item delete, reset,
// export and import. Writes go through the tracker's serializer.
package history

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

// ErrNotFound is returned when no session has the requested id.
var ErrNotFound = errors.New("session not found")

// ImportRecord is one session in an import file. AccumulatedTime is optional for
// exports made before it was recorded; the wall-clock span is used instead.
type ImportRecord struct {
	ID              string                 `json:"id"`
	StartTime       int64                  `json:"startTime"`
	EndTime         int64                  `json:"endTime"`
	Platform        models.Platform        `json:"platform"`
	VideoCount      int                    `json:"videoCount"`
	AccumulatedTime *int64                 `json:"accumulatedTime"`
	VideoLog        []models.VideoLogEntry `json:"videoLog"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// Service edits the history list.
type Service struct {
	state  *tracker.StateRepository
	serial *tracker.Serializer
	ids    tracker.IDGenerator
	logger *zap.Logger
}

// NewService creates a history service.
func NewService(state *tracker.StateRepository, serial *tracker.Serializer, ids tracker.IDGenerator, logger *zap.Logger) *Service {
	if ids == nil {
		ids = tracker.UUIDs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{state: state, serial: serial, ids: ids, logger: logger}
}

// List returns the history newest-first, optionally only for one platform.
func (s *Service) List(ctx context.Context, platform models.Platform) ([]models.HistoricalSession, error) {
	st, err := s.state.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if platform == "" {
		return st.History, nil
	}
	out := make([]models.HistoricalSession, 0, len(st.History))
	for _, h := range st.History {
		if h.Platform == platform {
			out = append(out, h)
		}
	}
	return out, nil
}

// Export returns the full history newest-first.
func (s *Service) Export(ctx context.Context) ([]models.HistoricalSession, error) {
	return s.List(ctx, "")
}

// Delete removes one session by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	found := false
	err := s.serial.Do(ctx, "history_delete", func(ctx context.Context) error {
		st, err := s.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		out := make([]models.HistoricalSession, 0, len(st.History))
		for _, h := range st.History {
			if h.ID != id {
				out = append(out, h)
			}
		}
		if len(out) == len(st.History) {
			return nil
		}
		found = true
		if err := s.state.Apply(ctx, tracker.Patch{}.History(out)); err != nil {
			return err
		}
		s.logger.Info("history session deleted", zap.String("session_id", id))
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Reset clears the history and drops the current session without archiving it.
func (s *Service) Reset(ctx context.Context) error {
	return s.serial.Do(ctx, "history_reset", func(ctx context.Context) error {
		p := tracker.Patch{}.History(nil).Session(nil).TrackingTab(0)
		if err := s.state.Apply(ctx, p); err != nil {
			return err
		}
		s.logger.Info("history reset")
		return nil
	})
}

// Import merges records into the history. Records whose id already exists are skipped,
// as are records with an unknown platform. The result is sorted newest-first.
func (s *Service) Import(ctx context.Context, records []ImportRecord) (ImportResult, error) {
	var res ImportResult
	err := s.serial.Do(ctx, "history_import", func(ctx context.Context) error {
		st, err := s.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(st.History)+len(records))
		for _, h := range st.History {
			seen[h.ID] = true
		}
		merged := append([]models.HistoricalSession{}, st.History...)
		r := ImportResult{}
		for _, rec := range records {
			h, ok := s.fromRecord(rec)
			if !ok || seen[h.ID] {
				r.Skipped++
				continue
			}
			seen[h.ID] = true
			merged = append(merged, h)
			r.Imported++
		}
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].StartTime > merged[j].StartTime })
		r.Total = len(merged)
		if r.Imported > 0 {
			if err := s.state.Apply(ctx, tracker.Patch{}.History(merged)); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("history imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *Service) fromRecord(rec ImportRecord) (models.HistoricalSession, bool) {
	if !rec.Platform.Valid() || rec.StartTime <= 0 || rec.EndTime < rec.StartTime || rec.VideoCount < 0 {
		return models.HistoricalSession{}, false
	}
	id := rec.ID
	if id == "" {
		id = s.ids.NewID()
	}
	acc := rec.EndTime - rec.StartTime
	if rec.AccumulatedTime != nil && *rec.AccumulatedTime >= 0 {
		acc = *rec.AccumulatedTime
	}
	log := rec.VideoLog
	if log == nil {
		log = []models.VideoLogEntry{}
	}
	return models.HistoricalSession{
		ID:              id,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		Platform:        rec.Platform,
		VideoCount:      rec.VideoCount,
		AccumulatedTime: acc,
		VideoLog:        log,
	}, true
}
