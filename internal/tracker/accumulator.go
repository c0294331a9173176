package tracker

import "github.com/SeanDreamHsu/shorts-counter/internal/models"

// ProjectElapsed returns the milliseconds watched so far: the completed intervals plus
// the open one when tracking. An open interval that starts after now counts as zero.
func ProjectElapsed(s *models.ActiveSession, now int64) int64 {
	if s == nil {
		return 0
	}
	total := s.AccumulatedTime
	if s.IsTracking && s.LastResumeTime != nil {
		if d := now - *s.LastResumeTime; d > 0 {
			total += d
		}
	}
	return total
}

// Project builds the read view of s at now.
func Project(s *models.ActiveSession, now int64) *models.SessionProjection {
	if s == nil {
		return nil
	}
	return &models.SessionProjection{
		StartTime:       s.StartTime,
		Platform:        s.Platform,
		AccumulatedTime: ProjectElapsed(s, now),
		VideoCount:      s.VideoCount,
		IsTracking:      s.IsTracking,
	}
}
