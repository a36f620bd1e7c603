package models

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/julianstephens/habitsync/internal/habitlog"
)

// SchemaVersion is the snapshot schema this build reads and writes.
const SchemaVersion = 9

// AIQuota counts AI analysis requests made on Date.
type AIQuota struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Snapshot is the complete synced application state.
type Snapshot struct {
	Version            int               `json:"version"`
	LastModified       int64             `json:"lastModified"`
	Habits             []Habit           `json:"habits"`
	DailyData          DailyData         `json:"dailyData"`
	MonthlyLogs        habitlog.Log      `json:"monthlyLogs"`
	Archives           map[string]string `json:"archives"`
	NotificationsShown []string          `json:"notificationsShown"`
	AIQuota            AIQuota           `json:"aiQuota"`
	AnalysisCache      map[string]string `json:"analysisCache"`
}

func NewSnapshot() *Snapshot {
	s := &Snapshot{Version: SchemaVersion}
	s.Normalize()
	return s
}

// Normalize replaces nil collections with empty ones.
func (s *Snapshot) Normalize() {
	if s.Habits == nil {
		s.Habits = []Habit{}
	}
	if s.DailyData == nil {
		s.DailyData = DailyData{}
	}
	if s.MonthlyLogs == nil {
		s.MonthlyLogs = habitlog.New()
	}
	if s.Archives == nil {
		s.Archives = map[string]string{}
	}
	if s.NotificationsShown == nil {
		s.NotificationsShown = []string{}
	}
	if s.AnalysisCache == nil {
		s.AnalysisCache = map[string]string{}
	}
}

func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:            s.Version,
		LastModified:       s.LastModified,
		Habits:             make([]Habit, len(s.Habits)),
		DailyData:          s.DailyData.Clone(),
		MonthlyLogs:        s.MonthlyLogs.Clone(),
		Archives:           maps.Clone(s.Archives),
		NotificationsShown: slices.Clone(s.NotificationsShown),
		AIQuota:            s.AIQuota,
		AnalysisCache:      maps.Clone(s.AnalysisCache),
	}
	for i, h := range s.Habits {
		out.Habits[i] = h.Clone()
	}
	out.Normalize()
	return out
}

// Habit returns a pointer into s.Habits, or nil.
func (s *Snapshot) Habit(id string) *Habit {
	for i := range s.Habits {
		if s.Habits[i].ID == id {
			return &s.Habits[i]
		}
	}
	return nil
}

// PurgeHabit drops the logs and daily overrides of a habit. The habit itself
// stays as a deletion tombstone so other devices do not resurrect it.
func (s *Snapshot) PurgeHabit(id string) (logs int, days int) {
	return s.MonthlyLogs.PruneHabit(id), s.DailyData.PruneHabit(id)
}

// Touch advances LastModified for a local mutation.
func (s *Snapshot) Touch(now time.Time) {
	s.LastModified = NextStamp(s.LastModified, now)
}

// NextStamp returns a stamp strictly greater than prev, following the wall
// clock in milliseconds when it is ahead.
func NextStamp(prev int64, now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= prev {
		return prev + 1
	}
	return ms
}

// ContentEqual reports whether a and b hold the same data, ignoring
// LastModified.
func ContentEqual(a, b *Snapshot) bool {
	ca, cb := *a, *b
	ca.LastModified, cb.LastModified = 0, 0
	ca.Normalize()
	cb.Normalize()
	ja, errA := json.Marshal(&ca)
	jb, errB := json.Marshal(&cb)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
