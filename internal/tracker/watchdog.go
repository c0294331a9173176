package tracker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TabStatusComplete is the navigation status that triggers a scope check.
const TabStatusComplete = "complete"

// inScopePatterns are URL fragments where a session may keep running.
var inScopePatterns = []string{"youtube.com/shorts", "tiktok.com"}

// InScope reports whether url is still on a short-form video surface.
func InScope(url string) bool {
	for _, p := range inScopePatterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// Watchdog finalizes sessions whose owning tab closed or navigated away without an INACTIVE signal.
type Watchdog struct {
	state   *StateRepository
	serial  *Serializer
	manager *Manager
	logger  *zap.Logger
}

// NewWatchdog creates a watchdog.
func NewWatchdog(state *StateRepository, serial *Serializer, manager *Manager, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{state: state, serial: serial, manager: manager, logger: logger}
}

// OnTabRemoved finalizes the session owned by tabID. Returns whether a session was finalized.
func (w *Watchdog) OnTabRemoved(ctx context.Context, tabID int) (bool, error) {
	return w.finalizeOwnedBy(ctx, "tab_removed", tabID)
}

// OnTabUpdated finalizes the session when its owning tab finished loading a page outside the
// short-form surfaces.
func (w *Watchdog) OnTabUpdated(ctx context.Context, tabID int, status, url string) (bool, error) {
	if status != TabStatusComplete || url == "" || InScope(url) {
		return false, nil
	}
	return w.finalizeOwnedBy(ctx, "tab_updated", tabID)
}

// The ownership check runs inside the serializer so it sees the state left by earlier signals.
func (w *Watchdog) finalizeOwnedBy(ctx context.Context, name string, tabID int) (bool, error) {
	if tabID <= 0 {
		return false, nil
	}
	var done bool
	err := w.serial.Do(ctx, name, func(ctx context.Context) error {
		st, err := w.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		if st.Session == nil || st.TrackingTabID != tabID {
			return nil
		}
		w.logger.Info("owning tab gone, finalizing session", zap.String("reason", name), zap.Int("tab_id", tabID))
		if err := w.manager.finalizeOp(ctx); err != nil {
			return err
		}
		done = true
		return nil
	})
	return done, err
}

// Sweep repairs state that can only arise from partial or external writes: a tracking flag
// without a resume time (or the reverse), and an owning tab with no session.
func (w *Watchdog) Sweep(ctx context.Context) error {
	return w.serial.Do(ctx, "sweep", func(ctx context.Context) error {
		st, err := w.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		p := Patch{}
		if st.Session == nil {
			if st.TrackingTabID > 0 {
				p.TrackingTab(0)
			}
		} else if s := st.Session; s.IsTracking != (s.LastResumeTime != nil) {
			next := *s
			if s.IsTracking {
				// No interval start to fold in: keep the completed time, treat as paused.
				next.IsTracking = false
			} else {
				// A stale resume time with tracking off is dropped, never counted.
				next.LastResumeTime = nil
			}
			p.Session(&next)
		}
		if len(p) == 0 {
			return nil
		}
		w.logger.Warn("sweep repaired state", zap.Int("keys", len(p)))
		return w.state.Apply(ctx, p)
	})
}

// Run sweeps every interval until ctx ends. A non-positive interval disables sweeping.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopping")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}
