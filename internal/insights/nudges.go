package insights

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

// NudgeConfig holds the thresholds for break reminders and visual decay.
type NudgeConfig struct {
	BreakEvery int
	DecayStart int
	DecayMax   int
}

func (c NudgeConfig) withDefaults() NudgeConfig {
	if c.BreakEvery <= 0 {
		c.BreakEvery = 15
	}
	if c.DecayStart < 0 {
		c.DecayStart = 0
	}
	if c.DecayMax <= c.DecayStart {
		c.DecayStart, c.DecayMax = 5, 25
	}
	return c
}

// BreakReminder reports whether the current session just crossed a reminder boundary.
type BreakReminder struct {
	Due     bool `json:"due"`
	Every   int  `json:"every"`
	NextAt  int  `json:"nextAt"`
	Session int  `json:"sessionVideos"`
}

// Decay is the grayscale filter a client applies while visual decay mode is on.
type Decay struct {
	Enabled   bool    `json:"enabled"`
	Grayscale float64 `json:"grayscale"`
}

// DailyLimit compares today's watch time with the configured limit.
type DailyLimit struct {
	Enabled  bool  `json:"enabled"`
	LimitMs  int64 `json:"limitMs"`
	UsedMs   int64 `json:"usedMs"`
	Exceeded bool  `json:"exceeded"`
}

// Nudges bundles every viewing nudge for the current moment.
type Nudges struct {
	BreakReminder BreakReminder `json:"breakReminder"`
	Decay         Decay         `json:"decay"`
	DailyLimit    DailyLimit    `json:"dailyLimit"`
}

// BreakDue is true on every multiple of every, never at zero.
func BreakDue(videos, every int) bool {
	return every > 0 && videos > 0 && videos%every == 0
}

// Grayscale maps a session's video count onto 0..100: zero up to start, 100 from full on.
func Grayscale(videos, start, full int) float64 {
	if videos <= start || full <= start {
		return 0
	}
	progress := math.Min(1, float64(videos-start)/float64(full-start))
	return math.Round(progress*1000) / 10
}

// Nudges evaluates the current session and today's totals against the settings.
func (s *Service) Nudges(ctx context.Context) (Nudges, error) {
	prefs, err := s.settings.Get(ctx)
	if err != nil {
		return Nudges{}, fmt.Errorf("read settings: %w", err)
	}
	st, err := s.reporter.Snapshot(ctx)
	if err != nil {
		return Nudges{}, err
	}
	now := s.reporter.Now()

	videos := 0
	if st.Session != nil {
		videos = st.Session.VideoCount
	}
	today := tracker.DailyTotals(st.History, st.Session, now, s.reporter.Location())
	limit := int64(prefs.DailyTimeLimit) * int64(time.Minute/time.Millisecond)

	n := Nudges{
		BreakReminder: BreakReminder{
			Due:     BreakDue(videos, s.nudge.BreakEvery),
			Every:   s.nudge.BreakEvery,
			NextAt:  (videos/s.nudge.BreakEvery + 1) * s.nudge.BreakEvery,
			Session: videos,
		},
		Decay: Decay{Enabled: prefs.VisualDecayMode},
		DailyLimit: DailyLimit{
			Enabled: prefs.DailyTimeLimitEnabled,
			LimitMs: limit,
			UsedMs:  today.TotalTime,
		},
	}
	if prefs.VisualDecayMode {
		n.Decay.Grayscale = Grayscale(videos, s.nudge.DecayStart, s.nudge.DecayMax)
	}
	n.DailyLimit.Exceeded = prefs.DailyTimeLimitEnabled && today.TotalTime >= limit
	return n, nil
}
