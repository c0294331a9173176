// Package settings stores the user preferences next to the tracking state, one store key per setting.
package settings

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/bytedance/sonic"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
)

// Store keys, matching the JSON names of models.Settings.
const (
	KeyFocusMode             = "focusMode"
	KeyFocusBlockScope       = "focusBlockScope"
	KeyDailyTimeLimitEnabled = "dailyTimeLimitEnabled"
	KeyDailyTimeLimit        = "dailyTimeLimit"
	KeyShowCapsule           = "showCapsule"
	KeyVisualDecayMode       = "visualDecayMode"
	KeyExperimentalMode      = "experimentalMode"
)

// Keys lists every settings key.
var Keys = []string{
	KeyFocusMode, KeyFocusBlockScope, KeyDailyTimeLimitEnabled, KeyDailyTimeLimit,
	KeyShowCapsule, KeyVisualDecayMode, KeyExperimentalMode,
}

// ErrInvalid is returned for a patch with an out-of-range value.
var ErrInvalid = errors.New("invalid setting")

// Patch carries only the settings to change.
type Patch struct {
	FocusMode             *bool   `json:"focusMode,omitempty"`
	FocusBlockScope       *string `json:"focusBlockScope,omitempty"`
	DailyTimeLimitEnabled *bool   `json:"dailyTimeLimitEnabled,omitempty"`
	DailyTimeLimit        *int    `json:"dailyTimeLimit,omitempty"`
	ShowCapsule           *bool   `json:"showCapsule,omitempty"`
	VisualDecayMode       *bool   `json:"visualDecayMode,omitempty"`
	ExperimentalMode      *bool   `json:"experimentalMode,omitempty"`
}

// Validate checks the values present in p.
func (p Patch) Validate() error {
	if p.FocusBlockScope != nil {
		switch *p.FocusBlockScope {
		case models.BlockScopeShorts, models.BlockScopeFullSite:
		default:
			return fmt.Errorf("%w: focusBlockScope must be %q or %q", ErrInvalid, models.BlockScopeShorts, models.BlockScopeFullSite)
		}
	}
	if p.DailyTimeLimit != nil && *p.DailyTimeLimit <= 0 {
		return fmt.Errorf("%w: dailyTimeLimit must be a positive number of minutes", ErrInvalid)
	}
	return nil
}

// Service reads and writes settings.
type Service struct {
	store store.Store
}

// NewService creates a settings service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Get returns the stored settings with defaults for keys never written.
func (s *Service) Get(ctx context.Context) (models.Settings, error) {
	raw, err := s.store.Get(ctx, Keys...)
	if err != nil {
		return models.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	out := models.DefaultSettings()
	targets := map[string]any{
		KeyFocusMode:             &out.FocusMode,
		KeyFocusBlockScope:       &out.FocusBlockScope,
		KeyDailyTimeLimitEnabled: &out.DailyTimeLimitEnabled,
		KeyDailyTimeLimit:        &out.DailyTimeLimit,
		KeyShowCapsule:           &out.ShowCapsule,
		KeyVisualDecayMode:       &out.VisualDecayMode,
		KeyExperimentalMode:      &out.ExperimentalMode,
	}
	for k, v := range raw {
		target, ok := targets[k]
		if !ok || len(v) == 0 || string(v) == "null" {
			continue
		}
		decodeInto(v, target)
	}
	return out, nil
}

// decodeInto sets *target from v only when v decodes cleanly; a value of the wrong
// type keeps the default.
func decodeInto(v []byte, target any) {
	dst := reflect.ValueOf(target).Elem()
	tmp := reflect.New(dst.Type())
	if err := sonic.Unmarshal(v, tmp.Interface()); err != nil {
		return
	}
	dst.Set(tmp.Elem())
}

// Update validates p, writes the present keys and returns the resulting settings.
func (s *Service) Update(ctx context.Context, p Patch) (models.Settings, error) {
	if err := p.Validate(); err != nil {
		return models.Settings{}, err
	}
	values := make(map[string][]byte)
	put := func(key string, v any) error {
		b, err := sonic.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = b
		return nil
	}
	fields := []struct {
		key string
		val any
		set bool
	}{
		{KeyFocusMode, p.FocusMode, p.FocusMode != nil},
		{KeyFocusBlockScope, p.FocusBlockScope, p.FocusBlockScope != nil},
		{KeyDailyTimeLimitEnabled, p.DailyTimeLimitEnabled, p.DailyTimeLimitEnabled != nil},
		{KeyDailyTimeLimit, p.DailyTimeLimit, p.DailyTimeLimit != nil},
		{KeyShowCapsule, p.ShowCapsule, p.ShowCapsule != nil},
		{KeyVisualDecayMode, p.VisualDecayMode, p.VisualDecayMode != nil},
		{KeyExperimentalMode, p.ExperimentalMode, p.ExperimentalMode != nil},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := put(f.key, f.val); err != nil {
			return models.Settings{}, err
		}
	}
	if len(values) > 0 {
		if err := s.store.Set(ctx, values); err != nil {
			return models.Settings{}, fmt.Errorf("write settings: %w", err)
		}
	}
	return s.Get(ctx)
}
