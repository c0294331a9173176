package models

// Platform identifies the detector that owns a session.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformTikTok
}

// Activity status reported by detectors.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// VideoLogEntry is one observed video. Timestamp is epoch milliseconds.
type VideoLogEntry struct {
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
}

// ActiveSession is the single in-progress viewing session.
// LastResumeTime is non-nil exactly when IsTracking is true.
type ActiveSession struct {
	StartTime       int64           `json:"startTime"`
	Platform        Platform        `json:"platform"`
	VideoCount      int             `json:"videoCount"`
	AccumulatedTime int64           `json:"accumulatedTime"`
	LastResumeTime  *int64          `json:"lastResumeTime"`
	IsTracking      bool            `json:"isTracking"`
	VideoLog        []VideoLogEntry `json:"videoLog"`
}

// HistoricalSession is a finalized session. Never mutated after creation.
type HistoricalSession struct {
	ID              string          `json:"id"`
	StartTime       int64           `json:"startTime"`
	EndTime         int64           `json:"endTime"`
	Platform        Platform        `json:"platform"`
	VideoCount      int             `json:"videoCount"`
	AccumulatedTime int64           `json:"accumulatedTime"`
	VideoLog        []VideoLogEntry `json:"videoLog"`
}

// SessionProjection is the read view of the active session with in-progress time folded in.
type SessionProjection struct {
	StartTime       int64    `json:"startTime"`
	Platform        Platform `json:"platform"`
	AccumulatedTime int64    `json:"accumulatedTime"`
	VideoCount      int      `json:"videoCount"`
	IsTracking      bool     `json:"isTracking"`
}

// DailyStats is the derived aggregate for one local calendar day.
type DailyStats struct {
	TotalTime   int64 `json:"totalTime"`
	TotalVideos int   `json:"totalVideos"`
}

// RealtimeStatus is the GET_STATUS response.
type RealtimeStatus struct {
	DailyStats DailyStats         `json:"dailyStats"`
	Session    *SessionProjection `json:"session"`
}
