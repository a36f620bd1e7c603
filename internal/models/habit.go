package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/habitlog"
)

type FrequencyType string

const (
	FrequencyDaily      FrequencyType = "daily"
	FrequencyDaysOfWeek FrequencyType = "specific_days_of_week"
	FrequencyInterval   FrequencyType = "interval"
)

const (
	IntervalUnitDays  = "days"
	IntervalUnitWeeks = "weeks"
)

// Frequency decides which dates inside an epoch a habit is due on.
type Frequency struct {
	Type   FrequencyType  `json:"type"`
	Days   []time.Weekday `json:"days,omitempty"`
	Amount int            `json:"amount,omitempty"`
	Unit   string         `json:"unit,omitempty"`
}

// IntervalDays returns the interval length in days, 0 for non-interval rules.
func (f Frequency) IntervalDays() int {
	if f.Type != FrequencyInterval {
		return 0
	}
	if f.Unit == IntervalUnitWeeks {
		return f.Amount * 7
	}
	return f.Amount
}

func (f Frequency) Validate() error {
	switch f.Type {
	case FrequencyDaily:
		return nil
	case FrequencyDaysOfWeek:
		if len(f.Days) == 0 {
			return fmt.Errorf("weekdays must be specified for %s frequency", f.Type)
		}
		for _, d := range f.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", int(d))
			}
		}
		return nil
	case FrequencyInterval:
		if f.Amount < 1 {
			return fmt.Errorf("interval must be at least 1")
		}
		if f.Unit != IntervalUnitDays && f.Unit != IntervalUnitWeeks {
			return fmt.Errorf("invalid interval unit %q", f.Unit)
		}
		return nil
	default:
		return fmt.Errorf("invalid frequency type %q", f.Type)
	}
}

func (f Frequency) Equal(o Frequency) bool {
	return f.Type == o.Type && f.Amount == o.Amount && f.Unit == o.Unit && slices.Equal(f.Days, o.Days)
}

func (f Frequency) Clone() Frequency {
	f.Days = slices.Clone(f.Days)
	return f
}

type GoalType string

const (
	GoalCheck   GoalType = "check"
	GoalPages   GoalType = "pages"
	GoalMinutes GoalType = "minutes"
)

func ParseGoalType(s string) (GoalType, error) {
	switch g := GoalType(s); g {
	case GoalCheck, GoalPages, GoalMinutes:
		return g, nil
	default:
		return "", fmt.Errorf("invalid goal type: %s", s)
	}
}

// Goal is what counts as completing one instance of a habit.
type Goal struct {
	Type  GoalType `json:"type"`
	Total *int     `json:"total,omitempty"`
	Unit  string   `json:"unit,omitempty"`
}

func (g Goal) Clone() Goal {
	if g.Total != nil {
		v := *g.Total
		g.Total = &v
	}
	return g
}

// ScheduleEpoch is a date range [StartDate, EndDate) with a fixed schedule.
// An empty EndDate means the epoch is open.
type ScheduleEpoch struct {
	StartDate      string          `json:"startDate"`
	EndDate        string          `json:"endDate,omitempty"`
	Name           string          `json:"name,omitempty"`
	NameKey        string          `json:"nameKey,omitempty"`
	Icon           string          `json:"icon,omitempty"`
	Color          string          `json:"color,omitempty"`
	Goal           Goal            `json:"goal"`
	Times          []habitlog.Slot `json:"times"`
	Frequency      Frequency       `json:"frequency"`
	ScheduleAnchor string          `json:"scheduleAnchor,omitempty"`
	// Modified is the logical stamp of the last edit of this epoch. Zero means
	// "as old as the snapshot that carries it".
	Modified int64 `json:"modified,omitempty"`
}

func (e ScheduleEpoch) IsOpen() bool {
	return e.EndDate == ""
}

// Contains reports whether date (YYYY-MM-DD) falls in [StartDate, EndDate).
func (e ScheduleEpoch) Contains(date string) bool {
	return e.StartDate <= date && (e.IsOpen() || date < e.EndDate)
}

// DisplayName prefers the user-entered name over the translation key.
func (e ScheduleEpoch) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.NameKey
}

func (e ScheduleEpoch) Clone() ScheduleEpoch {
	e.Goal = e.Goal.Clone()
	e.Times = slices.Clone(e.Times)
	e.Frequency = e.Frequency.Clone()
	return e
}

// HasTime reports whether the epoch schedules slot.
func (e ScheduleEpoch) HasTime(slot habitlog.Slot) bool {
	return slices.Contains(e.Times, slot)
}

func (e ScheduleEpoch) Validate() error {
	if _, err := time.Parse(constants.DateFormat, e.StartDate); err != nil {
		return fmt.Errorf("invalid epoch start date %q: %w", e.StartDate, err)
	}
	if !e.IsOpen() {
		if _, err := time.Parse(constants.DateFormat, e.EndDate); err != nil {
			return fmt.Errorf("invalid epoch end date %q: %w", e.EndDate, err)
		}
		if e.EndDate <= e.StartDate {
			return fmt.Errorf("epoch end date %s must be after start date %s", e.EndDate, e.StartDate)
		}
	}
	if e.DisplayName() == "" {
		return fmt.Errorf("epoch starting %s has no name", e.StartDate)
	}
	if len(e.Times) == 0 {
		return fmt.Errorf("epoch starting %s has no times of day", e.StartDate)
	}
	for _, s := range e.Times {
		if !s.Valid() {
			return fmt.Errorf("epoch starting %s has invalid time of day %d", e.StartDate, int(s))
		}
	}
	if _, err := ParseGoalType(string(e.Goal.Type)); err != nil {
		return err
	}
	return e.Frequency.Validate()
}

// Habit is owned by a Snapshot. ScheduleHistory is sorted by StartDate and
// never empty.
type Habit struct {
	ID              string          `json:"id"`
	CreatedOn       string          `json:"createdOn"`
	ScheduleHistory []ScheduleEpoch `json:"scheduleHistory"`
	GraduatedOn     *string         `json:"graduatedOn,omitempty"`
	DeletedOn       *string         `json:"deletedOn,omitempty"`
}

func (h *Habit) IsDeleted() bool {
	return h.DeletedOn != nil
}

func (h *Habit) IsGraduated() bool {
	return h.GraduatedOn != nil
}

// Current returns the last epoch, or nil for a habit without history.
func (h *Habit) Current() *ScheduleEpoch {
	if len(h.ScheduleHistory) == 0 {
		return nil
	}
	return &h.ScheduleHistory[len(h.ScheduleHistory)-1]
}

// Name is the display name of the current epoch.
func (h *Habit) Name() string {
	if cur := h.Current(); cur != nil {
		return cur.DisplayName()
	}
	return h.ID
}

func (h Habit) Clone() Habit {
	out := h
	out.ScheduleHistory = make([]ScheduleEpoch, len(h.ScheduleHistory))
	for i, e := range h.ScheduleHistory {
		out.ScheduleHistory[i] = e.Clone()
	}
	out.GraduatedOn = cloneString(h.GraduatedOn)
	out.DeletedOn = cloneString(h.DeletedOn)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
