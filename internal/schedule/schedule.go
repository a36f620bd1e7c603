// Package schedule answers which schedule a habit had on a date and edits
// schedule histories going forward.
package schedule

import (
	"fmt"
	"slices"
	"sort"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/utils"
)

// ResolveEpoch returns the index of the epoch covering date, or -1 when the
// date precedes the habit's creation or falls outside every epoch.
func ResolveEpoch(h *models.Habit, date string) int {
	if date < h.CreatedOn {
		return -1
	}
	hist := h.ScheduleHistory
	// first epoch starting after date
	i := sort.Search(len(hist), func(i int) bool { return hist[i].StartDate > date })
	if i == 0 {
		return -1
	}
	if !hist[i-1].Contains(date) {
		return -1
	}
	return i - 1
}

// EpochOn is ResolveEpoch returning the epoch itself.
func EpochOn(h *models.Habit, date string) (*models.ScheduleEpoch, bool) {
	i := ResolveEpoch(h, date)
	if i < 0 {
		return nil, false
	}
	return &h.ScheduleHistory[i], true
}

// SplitForward applies update to the schedule from changeDate on. When
// changeDate starts the covering epoch, that epoch is edited in place.
// Otherwise the covering epoch is closed at changeDate and a copy starting
// there receives the update. Edited epochs are stamped with stamp.
//
// An interval anchor moves to changeDate when the split changes the
// frequency; in-place edits and splits that keep the frequency inherit it.
func SplitForward(h *models.Habit, changeDate string, stamp int64, update func(*models.ScheduleEpoch)) error {
	if !utils.ValidDate(changeDate) {
		return fmt.Errorf("invalid change date %q", changeDate)
	}
	idx := ResolveEpoch(h, changeDate)
	if idx < 0 {
		return fmt.Errorf("habit %s has no schedule on %s", h.ID, changeDate)
	}

	hist := make([]models.ScheduleEpoch, len(h.ScheduleHistory))
	for i, e := range h.ScheduleHistory {
		hist[i] = e.Clone()
	}
	active := &hist[idx]

	if active.StartDate == changeDate {
		update(active)
		active.StartDate = changeDate
		if active.Frequency.Type == models.FrequencyInterval && active.ScheduleAnchor == "" {
			active.ScheduleAnchor = changeDate
		}
		active.Modified = stamp
		if err := active.Validate(); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		h.ScheduleHistory = hist
		return nil
	}

	next := active.Clone()
	next.StartDate = changeDate
	next.EndDate = active.EndDate
	update(&next)
	next.StartDate = changeDate
	next.EndDate = active.EndDate
	if next.Frequency.Type == models.FrequencyInterval &&
		(!next.Frequency.Equal(active.Frequency) || next.ScheduleAnchor == "") {
		next.ScheduleAnchor = changeDate
	}
	next.Modified = stamp
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	active.EndDate = changeDate
	active.Modified = stamp
	h.ScheduleHistory = slices.Insert(hist, idx+1, next)
	return nil
}

// IsActiveOn reports whether the habit can be due on date at all: it exists,
// is not deleted and had not graduated yet.
func IsActiveOn(h *models.Habit, date string) bool {
	if h.IsDeleted() {
		return false
	}
	if h.GraduatedOn != nil && date >= *h.GraduatedOn {
		return false
	}
	return ResolveEpoch(h, date) >= 0
}

// IsScheduled reports whether the epoch frequency makes the habit due on date.
func IsScheduled(h *models.Habit, date string) bool {
	if !IsActiveOn(h, date) {
		return false
	}
	e, _ := EpochOn(h, date)
	d, err := utils.ParseDate(date)
	if err != nil {
		return false
	}
	return utils.ShouldSchedule(e.Frequency, e.ScheduleAnchor, e.StartDate, d)
}

// TimesOn returns the slots the habit is due in on date. A daily override
// replaces the epoch times, including on days the frequency would skip.
func TimesOn(s *models.Snapshot, h *models.Habit, date string) []habitlog.Slot {
	if !IsActiveOn(h, date) {
		return nil
	}
	if d, ok := s.DailyData.Get(date, h.ID); ok && d.DailySchedule != nil {
		return slices.Clone(d.DailySchedule)
	}
	if !IsScheduled(h, date) {
		return nil
	}
	e, _ := EpochOn(h, date)
	return slices.Clone(e.Times)
}

// Due is one habit on an agenda.
type Due struct {
	Habit *models.Habit
	Epoch *models.ScheduleEpoch
	Times []habitlog.Slot
}

// Agenda lists the habits due on date in snapshot order.
func Agenda(s *models.Snapshot, date string) []Due {
	var out []Due
	for i := range s.Habits {
		h := &s.Habits[i]
		times := TimesOn(s, h, date)
		if len(times) == 0 {
			continue
		}
		e, _ := EpochOn(h, date)
		out = append(out, Due{Habit: h, Epoch: e, Times: times})
	}
	return out
}
