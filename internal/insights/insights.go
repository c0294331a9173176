// Package insights derives trends, comparisons, a title "vibe" and viewing nudges from the
// session history. Everything here is read-only.
package insights

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

// DayBucket is one local calendar day of the weekly trend.
type DayBucket struct {
	Date      string `json:"date"`
	Weekday   string `json:"weekday"`
	TotalTime int64  `json:"totalTime"`
	Minutes   int    `json:"minutes"`
	Videos    int    `json:"videos"`
}

// Comparison contrasts today with yesterday and with the previous seven days,
// and the current calendar week (from Sunday) with the one before it.
type Comparison struct {
	Today              models.DailyStats `json:"today"`
	Yesterday          models.DailyStats `json:"yesterday"`
	LastWeekAverage    int64             `json:"lastWeekAverage"`
	DeltaVsYesterday   int64             `json:"deltaVsYesterday"`
	DeltaVsWeekAverage int64             `json:"deltaVsWeekAverage"`
	ThisWeek           models.DailyStats `json:"thisWeek"`
	LastWeek           models.DailyStats `json:"lastWeek"`
	DeltaVsLastWeek    int64             `json:"deltaVsLastWeek"`
}

// Vibe labels.
const (
	VibeNeutral    = "Neutral"
	VibeMixed      = "Mixed"
	VibeBrainRot   = "Pure Brain Rot"
	VibeKnowledge  = "Knowledge Hunter"
	VibeGamer      = "Gamer Mode"
	VibeComedyGold = "Comedy Gold"
)

// Vibe is the dominant category of recently watched titles.
type Vibe struct {
	Label  string         `json:"label"`
	Titles int            `json:"titles"`
	Scores map[string]int `json:"scores"`
}

type category struct {
	name     string
	weight   int
	keywords []string
}

// Checked in order; a title counts toward the first category it matches.
var categories = []category{
	{name: "brainrot", weight: 3, keywords: []string{"skibidi", "sigma", "gyatt", "rizz", "only in ohio", "fanum", "tax"}},
	{name: "learning", weight: 1, keywords: []string{"tutorial", "how to", "learn", "course", "guide", "tips", "documentary", "science", "math", "code", "build"}},
	{name: "gaming", weight: 1, keywords: []string{"game", "play", "minecraft", "roblox", "fortnite", "valorant", "league", "stream", "twitch"}},
	{name: "entertainment", weight: 1, keywords: []string{"funny", "meme", "comedy", "prank", "fail", "challenge", "react", "laugh"}},
}

// ScoreTitles classifies titles by keyword.
func ScoreTitles(titles []string) Vibe {
	v := Vibe{Titles: len(titles), Scores: make(map[string]int, len(categories))}
	for _, c := range categories {
		v.Scores[c.name] = 0
	}
	if len(titles) == 0 {
		v.Label = VibeNeutral
		return v
	}
	for _, t := range titles {
		lower := strings.ToLower(t)
		for _, c := range categories {
			if containsAny(lower, c.keywords) {
				v.Scores[c.name] += c.weight
				break
			}
		}
	}
	top := 0
	for _, s := range v.Scores {
		if s > top {
			top = s
		}
	}
	switch {
	case top == 0:
		v.Label = VibeMixed
	case v.Scores["brainrot"] == top:
		v.Label = VibeBrainRot
	case v.Scores["learning"] == top:
		v.Label = VibeKnowledge
	case v.Scores["gaming"] == top:
		v.Label = VibeGamer
	default:
		v.Label = VibeComedyGold
	}
	return v
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// WeekTrend returns seven buckets ending with now's local day, oldest first.
func WeekTrend(history []models.HistoricalSession, live *models.ActiveSession, now time.Time, loc *time.Location) []DayBucket {
	today := tracker.StartOfDay(now, loc)
	out := make([]DayBucket, 0, 7)
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		stats := tracker.RangeTotals(history, live, day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli(), now.UnixMilli())
		out = append(out, DayBucket{
			Date:      day.Format("2006-01-02"),
			Weekday:   day.Format("Mon"),
			TotalTime: stats.TotalTime,
			Minutes:   int(math.Round(float64(stats.TotalTime) / float64(time.Minute/time.Millisecond))),
			Videos:    stats.TotalVideos,
		})
	}
	return out
}

// Compare computes today against yesterday and the seven days before today.
func Compare(history []models.HistoricalSession, live *models.ActiveSession, now time.Time, loc *time.Location) Comparison {
	today := tracker.StartOfDay(now, loc)
	ms := now.UnixMilli()
	c := Comparison{
		Today:     tracker.RangeTotals(history, live, today.UnixMilli(), today.AddDate(0, 0, 1).UnixMilli(), ms),
		Yesterday: tracker.RangeTotals(history, live, today.AddDate(0, 0, -1).UnixMilli(), today.UnixMilli(), ms),
	}
	week := tracker.RangeTotals(history, live, today.AddDate(0, 0, -7).UnixMilli(), today.UnixMilli(), ms)
	c.LastWeekAverage = week.TotalTime / 7
	c.DeltaVsYesterday = c.Today.TotalTime - c.Yesterday.TotalTime
	c.DeltaVsWeekAverage = c.Today.TotalTime - c.LastWeekAverage

	weekStart := StartOfWeek(now, loc)
	c.ThisWeek = tracker.RangeTotals(history, live, weekStart.UnixMilli(), weekStart.AddDate(0, 0, 7).UnixMilli(), ms)
	c.LastWeek = tracker.RangeTotals(history, live, weekStart.AddDate(0, 0, -7).UnixMilli(), weekStart.UnixMilli(), ms)
	c.DeltaVsLastWeek = c.ThisWeek.TotalTime - c.LastWeek.TotalTime
	return c
}

// StartOfWeek returns local midnight of the Sunday on or before t.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := tracker.StartOfDay(t, loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// TitlesSince collects video titles of sessions that started at or after from.
func TitlesSince(history []models.HistoricalSession, live *models.ActiveSession, from int64) []string {
	var titles []string
	for _, h := range history {
		if h.StartTime < from {
			continue
		}
		for _, e := range h.VideoLog {
			titles = append(titles, e.Title)
		}
	}
	if live != nil && live.StartTime >= from {
		for _, e := range live.VideoLog {
			titles = append(titles, e.Title)
		}
	}
	return titles
}

// FilterPlatform keeps only sessions on p. An empty p keeps everything.
func FilterPlatform(history []models.HistoricalSession, live *models.ActiveSession, p models.Platform) ([]models.HistoricalSession, *models.ActiveSession) {
	if p == "" {
		return history, live
	}
	out := make([]models.HistoricalSession, 0, len(history))
	for _, h := range history {
		if h.Platform == p {
			out = append(out, h)
		}
	}
	if live != nil && live.Platform != p {
		live = nil
	}
	return out, live
}

// Service serves insights from the live tracking state.
type Service struct {
	reporter *tracker.Reporter
	settings SettingsReader
	nudge    NudgeConfig
}

// SettingsReader is the part of the settings service nudges need.
type SettingsReader interface {
	Get(ctx context.Context) (models.Settings, error)
}

// NewService creates an insights service.
func NewService(reporter *tracker.Reporter, settings SettingsReader, nudge NudgeConfig) *Service {
	return &Service{reporter: reporter, settings: settings, nudge: nudge.withDefaults()}
}

func (s *Service) snapshot(ctx context.Context, p models.Platform) ([]models.HistoricalSession, *models.ActiveSession, error) {
	st, err := s.reporter.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	h, live := FilterPlatform(st.History, st.Session, p)
	return h, live, nil
}

// Week returns the seven-day trend.
func (s *Service) Week(ctx context.Context, p models.Platform) ([]DayBucket, error) {
	h, live, err := s.snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	return WeekTrend(h, live, s.reporter.Now(), s.reporter.Location()), nil
}

// Compare returns today's comparison.
func (s *Service) Compare(ctx context.Context, p models.Platform) (Comparison, error) {
	h, live, err := s.snapshot(ctx, p)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(h, live, s.reporter.Now(), s.reporter.Location()), nil
}

// Vibe scores titles of sessions started within the last days local days (today counts as one).
func (s *Service) Vibe(ctx context.Context, days int) (Vibe, error) {
	if days < 1 {
		days = 1
	}
	h, live, err := s.snapshot(ctx, "")
	if err != nil {
		return Vibe{}, err
	}
	from := tracker.StartOfDay(s.reporter.Now(), s.reporter.Location()).AddDate(0, 0, -(days - 1))
	return ScoreTitles(TitlesSince(h, live, from.UnixMilli())), nil
}
