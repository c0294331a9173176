package models

// Block scopes for focus mode.
const (
	BlockScopeShorts   = "shorts"
	BlockScopeFullSite = "fullsite"
)

// DefaultDailyTimeLimit is the daily limit in minutes when none is stored.
const DefaultDailyTimeLimit = 30

// Settings are the user preferences stored next to the session state.
type Settings struct {
	FocusMode             bool   `json:"focusMode"`
	FocusBlockScope       string `json:"focusBlockScope"`
	DailyTimeLimitEnabled bool   `json:"dailyTimeLimitEnabled"`
	DailyTimeLimit        int    `json:"dailyTimeLimit"` // minutes
	ShowCapsule           bool   `json:"showCapsule"`
	VisualDecayMode       bool   `json:"visualDecayMode"`
	ExperimentalMode      bool   `json:"experimentalMode"`
}

// DefaultSettings returns the values used for keys that were never written.
func DefaultSettings() Settings {
	return Settings{
		FocusBlockScope: BlockScopeShorts,
		DailyTimeLimit:  DefaultDailyTimeLimit,
		ShowCapsule:     true,
	}
}
