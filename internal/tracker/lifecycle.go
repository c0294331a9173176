package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

// ErrInvalidSignal is returned for an activity signal with a missing or unknown status or platform.
var ErrInvalidSignal = errors.New("invalid activity signal")

// Signal is an ACTIVE/INACTIVE report from a platform detector.
type Signal struct {
	Status   string
	Platform models.Platform
	TabID    int // 0 when the sender has no tab
}

// Validate checks status and platform.
func (s Signal) Validate() error {
	if s.Status != models.StatusActive && s.Status != models.StatusInactive {
		return fmt.Errorf("%w: status %q", ErrInvalidSignal, s.Status)
	}
	if !s.Platform.Valid() {
		return fmt.Errorf("%w: platform %q", ErrInvalidSignal, s.Platform)
	}
	return nil
}

// SignalResult confirms an activity signal to the detector.
type SignalResult struct {
	Success    bool `json:"success"`
	IsTracking bool `json:"isTracking"`
}

// FinalizedHook observes sessions after they were written to history.
type FinalizedHook func(models.HistoricalSession)

// Manager owns session transitions. Every mutation runs inside the serializer as one
// read-modify-write against the store.
type Manager struct {
	state       *StateRepository
	serial      *Serializer
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger
	onFinalized []FinalizedHook
}

// NewManager creates a lifecycle manager. Nil clock, ids or logger fall back to defaults.
func NewManager(state *StateRepository, serial *Serializer, clock Clock, ids IDGenerator, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if ids == nil {
		ids = UUIDs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{state: state, serial: serial, clock: clock, ids: ids, logger: logger}
}

// OnFinalized registers a hook called after each finalized session is persisted.
// Hooks run on the serializer goroutine and must not block.
func (m *Manager) OnFinalized(h FinalizedHook) {
	m.onFinalized = append(m.onFinalized, h)
}

// OnActivitySignal applies an ACTIVE/INACTIVE signal.
func (m *Manager) OnActivitySignal(ctx context.Context, sig Signal) (SignalResult, error) {
	if err := sig.Validate(); err != nil {
		return SignalResult{}, err
	}
	var res SignalResult
	err := m.serial.Do(ctx, "state_update", func(ctx context.Context) error {
		tracking, err := m.applySignal(ctx, sig)
		if err != nil {
			return err
		}
		res = SignalResult{Success: true, IsTracking: tracking}
		return nil
	})
	if err != nil {
		return SignalResult{}, err
	}
	return res, nil
}

func (m *Manager) applySignal(ctx context.Context, sig Signal) (bool, error) {
	st, err := m.state.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	now := nowMillis(m.clock)
	p := Patch{}
	var finalized *models.HistoricalSession

	cur := st.Session
	if cur != nil && cur.Platform != sig.Platform {
		// Switching platforms ends the previous session.
		h := m.archive(cur, now)
		st.History = prepend(st.History, h)
		p.Session(nil).History(st.History).TrackingTab(0)
		finalized = &h
		cur = nil
	}

	active := sig.Status == models.StatusActive
	if active && sig.TabID > 0 && sig.TabID != st.ActiveTabID {
		p.ActiveTab(sig.TabID)
	}

	tracking := false
	switch {
	case cur == nil && active:
		resume := now
		p.Session(&models.ActiveSession{
			StartTime:      now,
			Platform:       sig.Platform,
			LastResumeTime: &resume,
			IsTracking:     true,
			VideoLog:       []models.VideoLogEntry{},
		}).TrackingTab(sig.TabID)
		tracking = true
	case cur == nil:
		// INACTIVE without a session
	case active && cur.IsTracking:
		tracking = true
	case active:
		next := *cur
		resume := now
		next.IsTracking = true
		next.LastResumeTime = &resume
		p.Session(&next)
		// Resuming from a tab transfers ownership to it; a tabless resume keeps the owner.
		if sig.TabID > 0 && sig.TabID != st.TrackingTabID {
			p.TrackingTab(sig.TabID)
		}
		tracking = true
	case cur.IsTracking:
		next := *cur
		next.AccumulatedTime = ProjectElapsed(cur, now)
		next.IsTracking = false
		next.LastResumeTime = nil
		p.Session(&next)
	}

	if err := m.state.Apply(ctx, p); err != nil {
		return false, err
	}
	if finalized != nil {
		m.finalized(*finalized)
	}
	return tracking, nil
}

// OnVideoChanged counts one more video in the current session and logs its title when given.
func (m *Manager) OnVideoChanged(ctx context.Context, title string) error {
	return m.serial.Do(ctx, "video_changed", func(ctx context.Context) error {
		st, err := m.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		if st.Session == nil {
			return nil
		}
		next := *st.Session
		next.VideoCount++
		next.VideoLog = append([]models.VideoLogEntry{}, st.Session.VideoLog...)
		if title != "" {
			next.VideoLog = append(next.VideoLog, models.VideoLogEntry{Title: title, Timestamp: nowMillis(m.clock)})
		}
		return m.state.Apply(ctx, Patch{}.Session(&next))
	})
}

// Finalize closes the current session into history. No-op without a session.
func (m *Manager) Finalize(ctx context.Context) error {
	return m.serial.Do(ctx, "finalize", m.finalizeOp)
}

func (m *Manager) finalizeOp(ctx context.Context) error {
	st, err := m.state.Snapshot(ctx)
	if err != nil {
		return err
	}
	if st.Session == nil {
		return nil
	}
	h := m.archive(st.Session, nowMillis(m.clock))
	p := Patch{}.Session(nil).History(prepend(st.History, h)).TrackingTab(0)
	if err := m.state.Apply(ctx, p); err != nil {
		return err
	}
	m.finalized(h)
	return nil
}

func (m *Manager) archive(s *models.ActiveSession, now int64) models.HistoricalSession {
	end := now
	if end < s.StartTime {
		end = s.StartTime
	}
	log := s.VideoLog
	if log == nil {
		log = []models.VideoLogEntry{}
	}
	return models.HistoricalSession{
		ID:              m.ids.NewID(),
		StartTime:       s.StartTime,
		EndTime:         end,
		Platform:        s.Platform,
		VideoCount:      s.VideoCount,
		AccumulatedTime: ProjectElapsed(s, now),
		VideoLog:        log,
	}
}

func (m *Manager) finalized(h models.HistoricalSession) {
	m.logger.Info("session finalized",
		zap.String("session_id", h.ID),
		zap.String("platform", string(h.Platform)),
		zap.Int("videos", h.VideoCount),
		zap.Int64("accumulated_ms", h.AccumulatedTime),
	)
	for _, hook := range m.onFinalized {
		hook(h)
	}
}

func prepend(history []models.HistoricalSession, h models.HistoricalSession) []models.HistoricalSession {
	out := make([]models.HistoricalSession, 0, len(history)+1)
	out = append(out, h)
	return append(out, history...)
}
