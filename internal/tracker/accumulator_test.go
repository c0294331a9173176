package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

func ptr(v int64) *int64 { return &v }

func TestProjectElapsed(t *testing.T) {
	tests := []struct {
		name    string
		session *models.ActiveSession
		now     int64
		want    int64
	}{
		{name: "nil_session", session: nil, now: 100, want: 0},
		{
			name:    "paused_returns_accumulated",
			session: &models.ActiveSession{AccumulatedTime: 4000},
			now:     99999,
			want:    4000,
		},
		{
			name:    "tracking_adds_open_interval",
			session: &models.ActiveSession{AccumulatedTime: 4000, IsTracking: true, LastResumeTime: ptr(10000)},
			now:     12500,
			want:    6500,
		},
		{
			name:    "tracking_without_resume_time_counts_nothing_open",
			session: &models.ActiveSession{AccumulatedTime: 300, IsTracking: true},
			now:     5000,
			want:    300,
		},
		{
			name:    "resume_time_without_tracking_ignored",
			session: &models.ActiveSession{AccumulatedTime: 300, LastResumeTime: ptr(1000)},
			now:     5000,
			want:    300,
		},
		{
			name:    "clock_behind_resume_counts_zero",
			session: &models.ActiveSession{AccumulatedTime: 700, IsTracking: true, LastResumeTime: ptr(9000)},
			now:     8000,
			want:    700,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProjectElapsed(tt.session, tt.now))
		})
	}
}

func TestProject(t *testing.T) {
	assert.Nil(t, Project(nil, 10))

	s := &models.ActiveSession{
		StartTime:       100,
		Platform:        models.PlatformTikTok,
		VideoCount:      3,
		AccumulatedTime: 1000,
		IsTracking:      true,
		LastResumeTime:  ptr(2000),
	}
	got := Project(s, 2500)
	assert.Equal(t, &models.SessionProjection{
		StartTime:       100,
		Platform:        models.PlatformTikTok,
		AccumulatedTime: 1500,
		VideoCount:      3,
		IsTracking:      true,
	}, got)
}
