package models

import (
	"fmt"
	"maps"
	"slices"

	"github.com/julianstephens/habitsync/internal/habitlog"
)

// MaxProgressValue bounds pages and minutes entered for one instance.
const MaxProgressValue = 100000

// GoalProgress is the amount achieved for one instance. Kind selects the
// variant: check progress is 0 or 1, pages and minutes are counts.
type GoalProgress struct {
	Kind  GoalType `json:"kind"`
	Value int      `json:"value"`
}

func CheckProgress(done bool) GoalProgress {
	if done {
		return GoalProgress{Kind: GoalCheck, Value: 1}
	}
	return GoalProgress{Kind: GoalCheck}
}

func PagesProgress(pages int) GoalProgress {
	return GoalProgress{Kind: GoalPages, Value: pages}
}

func MinutesProgress(minutes int) GoalProgress {
	return GoalProgress{Kind: GoalMinutes, Value: minutes}
}

func (p GoalProgress) Validate() error {
	switch p.Kind {
	case GoalCheck:
		if p.Value != 0 && p.Value != 1 {
			return fmt.Errorf("check progress must be 0 or 1, got %d", p.Value)
		}
	case GoalPages, GoalMinutes:
		if p.Value < 0 || p.Value > MaxProgressValue {
			return fmt.Errorf("%s progress out of range: %d", p.Kind, p.Value)
		}
	default:
		return fmt.Errorf("invalid progress kind %q", p.Kind)
	}
	return nil
}

// InstanceData is extra data for one (date, habit, slot) instance.
type InstanceData struct {
	Progress     *GoalProgress `json:"progress,omitempty"`
	GoalOverride *int          `json:"goalOverride,omitempty"`
	Note         string        `json:"note,omitempty"`
}

func (d InstanceData) IsZero() bool {
	return d.Progress == nil && d.GoalOverride == nil && d.Note == ""
}

func (d InstanceData) Validate() error {
	if d.Progress != nil {
		if err := d.Progress.Validate(); err != nil {
			return err
		}
	}
	if d.GoalOverride != nil && (*d.GoalOverride < 1 || *d.GoalOverride > MaxProgressValue) {
		return fmt.Errorf("goal override out of range: %d", *d.GoalOverride)
	}
	return nil
}

func (d InstanceData) Clone() InstanceData {
	if d.Progress != nil {
		p := *d.Progress
		d.Progress = &p
	}
	if d.GoalOverride != nil {
		g := *d.GoalOverride
		d.GoalOverride = &g
	}
	return d
}

// HabitDayData holds the per-date exceptions of one habit. A nil
// DailySchedule means the epoch's times apply; an empty one skips the day.
type HabitDayData struct {
	DailySchedule []habitlog.Slot                 `json:"dailySchedule"`
	Instances     map[habitlog.Slot]InstanceData `json:"instances,omitempty"`
	Modified      int64                           `json:"modified,omitempty"`
}

// IsZero reports whether d overrides nothing. Modified is not considered.
func (d HabitDayData) IsZero() bool {
	if d.DailySchedule != nil {
		return false
	}
	for _, inst := range d.Instances {
		if !inst.IsZero() {
			return false
		}
	}
	return true
}

func (d HabitDayData) Clone() HabitDayData {
	d.DailySchedule = slices.Clone(d.DailySchedule)
	if d.Instances != nil {
		inst := make(map[habitlog.Slot]InstanceData, len(d.Instances))
		for k, v := range d.Instances {
			inst[k] = v.Clone()
		}
		d.Instances = inst
	}
	return d
}

// DailyData maps date (YYYY-MM-DD) to habit id to that day's overrides.
type DailyData map[string]map[string]HabitDayData

func (dd DailyData) Get(date, habitID string) (HabitDayData, bool) {
	day, ok := dd[date]
	if !ok {
		return HabitDayData{}, false
	}
	d, ok := day[habitID]
	return d, ok
}

// Set stores d. An empty override is dropped unless it carries a Modified
// stamp, in which case it stays as a tombstone so a newer removal outlives
// the older override on merge.
func (dd DailyData) Set(date, habitID string, d HabitDayData) {
	if d.IsZero() && d.Modified == 0 {
		dd.Delete(date, habitID)
		return
	}
	day, ok := dd[date]
	if !ok {
		day = make(map[string]HabitDayData)
		dd[date] = day
	}
	day[habitID] = d
}

func (dd DailyData) Delete(date, habitID string) {
	day, ok := dd[date]
	if !ok {
		return
	}
	delete(day, habitID)
	if len(day) == 0 {
		delete(dd, date)
	}
}

// PruneHabit removes every override of habitID and returns how many were removed.
func (dd DailyData) PruneHabit(habitID string) int {
	n := 0
	for _, date := range slices.Collect(maps.Keys(dd)) {
		if _, ok := dd[date][habitID]; ok {
			dd.Delete(date, habitID)
			n++
		}
	}
	return n
}

func (dd DailyData) Clone() DailyData {
	out := make(DailyData, len(dd))
	for date, day := range dd {
		cp := make(map[string]HabitDayData, len(day))
		for id, d := range day {
			cp[id] = d.Clone()
		}
		out[date] = cp
	}
	return out
}
