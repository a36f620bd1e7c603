package validation

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/utils"
)

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictMissingHabitID    ConflictType = "missing_habit_id"
	ConflictDuplicateHabitID  ConflictType = "duplicate_habit_id"
	ConflictEmptyHistory      ConflictType = "empty_schedule_history"
	ConflictUnsortedHistory   ConflictType = "unsorted_schedule_history"
	ConflictOverlappingEpochs ConflictType = "overlapping_epochs"
	ConflictScheduleGap       ConflictType = "schedule_gap"
	ConflictInvalidEpoch      ConflictType = "invalid_epoch"
	ConflictInvalidDate       ConflictType = "invalid_date"
	ConflictInvalidProgress   ConflictType = "invalid_progress"
	ConflictOrphanData        ConflictType = "orphan_data"
)

// Conflict represents a structural problem found in a snapshot
type Conflict struct {
	Type        ConflictType
	Description string
	Date        string   // YYYY-MM-DD format (if applicable)
	HabitIDs    []string // IDs of habits involved
}

// ValidationResult contains all detected conflicts
type ValidationResult struct {
	Conflicts []Conflict
}

// FixAction represents an action taken during repair
type FixAction struct {
	Action   string
	Conflict ConflictType
	HabitID  string
}

// HasConflicts returns true if there are any conflicts
func (vr *ValidationResult) HasConflicts() bool {
	return len(vr.Conflicts) > 0
}

// Count returns the number of conflicts of the given type.
func (vr *ValidationResult) Count(t ConflictType) int {
	n := 0
	for _, c := range vr.Conflicts {
		if c.Type == t {
			n++
		}
	}
	return n
}

// FormatReport returns a human-readable report of all conflicts
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasConflicts() {
		return "No conflicts detected."
	}

	var sb strings.Builder
	sb.WriteString("Conflicts detected:\n")
	for _, conflict := range vr.Conflicts {
		fmt.Fprintf(&sb, "- %s\n", conflict.Description)
	}
	return sb.String()
}

// Validator checks snapshots for structural conflicts
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

// ValidateSnapshot reports every structural conflict in s without changing it.
func (v *Validator) ValidateSnapshot(s *models.Snapshot) ValidationResult {
	result := ValidationResult{Conflicts: []Conflict{}}
	add := func(t ConflictType, date string, ids []string, format string, args ...any) {
		result.Conflicts = append(result.Conflicts, Conflict{
			Type:        t,
			Description: fmt.Sprintf(format, args...),
			Date:        date,
			HabitIDs:    ids,
		})
	}

	seen := make(map[string]int, len(s.Habits))
	for i := range s.Habits {
		h := &s.Habits[i]
		if h.ID == "" {
			add(ConflictMissingHabitID, "", nil, "Habit at position %d has no id", i)
			continue
		}
		seen[h.ID]++
		if seen[h.ID] == 2 {
			add(ConflictDuplicateHabitID, "", []string{h.ID}, "Duplicate habit id: %s", h.ID)
		}
		ids := []string{h.ID}

		dates := []struct {
			field string
			value *string
		}{
			{"createdOn", &h.CreatedOn},
			{"graduatedOn", h.GraduatedOn},
			{"deletedOn", h.DeletedOn},
		}
		for _, d := range dates {
			if d.value != nil && !utils.ValidDate(*d.value) {
				add(ConflictInvalidDate, *d.value, ids, "Habit %s has invalid %s: %q", h.ID, d.field, *d.value)
			}
		}

		if len(h.ScheduleHistory) == 0 {
			add(ConflictEmptyHistory, "", ids, "Habit %s has no schedule history", h.ID)
			continue
		}
		for _, e := range h.ScheduleHistory {
			if err := e.Validate(); err != nil {
				add(ConflictInvalidEpoch, e.StartDate, ids, "Habit %s: %v", h.ID, err)
			}
		}
		hist := h.ScheduleHistory
		if !sort.SliceIsSorted(hist, func(a, b int) bool { return hist[a].StartDate < hist[b].StartDate }) {
			add(ConflictUnsortedHistory, "", ids, "Habit %s has an unsorted schedule history", h.ID)
		}
		for j := 1; j < len(hist); j++ {
			prev, next := hist[j-1], hist[j]
			switch {
			case prev.IsOpen() || prev.EndDate > next.StartDate:
				add(ConflictOverlappingEpochs, next.StartDate, ids,
					"Habit %s has overlapping epochs starting %s and %s", h.ID, prev.StartDate, next.StartDate)
			case prev.EndDate < next.StartDate:
				add(ConflictScheduleGap, prev.EndDate, ids,
					"Habit %s has no schedule from %s to %s", h.ID, prev.EndDate, next.StartDate)
			}
		}
	}

	for _, date := range sortedKeys(s.DailyData) {
		for _, id := range sortedKeys(s.DailyData[date]) {
			d := s.DailyData[date][id]
			if _, ok := seen[id]; !ok {
				add(ConflictOrphanData, date, []string{id}, "Daily data on %s belongs to unknown habit %s", date, id)
			}
			for _, slot := range sortedSlots(d.Instances) {
				if err := d.Instances[slot].Validate(); err != nil {
					add(ConflictInvalidProgress, date, []string{id}, "Habit %s on %s (%s): %v", id, date, slot, err)
				}
			}
		}
	}

	orphans := map[string]bool{}
	for k := range s.MonthlyLogs {
		if _, ok := seen[k.HabitID]; !ok && !orphans[k.HabitID] {
			orphans[k.HabitID] = true
			add(ConflictOrphanData, "", []string{k.HabitID}, "Monthly logs belong to unknown habit %s", k.HabitID)
		}
	}

	return result
}

// Repair fixes the structural conflicts of s in place and returns what it
// did. Orphaned daily data and logs are kept: the owning habit may still
// arrive from another device. Epoch stamps default to s.LastModified.
func Repair(s *models.Snapshot) []FixAction {
	var actions []FixAction
	act := func(t ConflictType, id, format string, args ...any) {
		actions = append(actions, FixAction{Action: fmt.Sprintf(format, args...), Conflict: t, HabitID: id})
	}

	index := make(map[string]int, len(s.Habits))
	kept := s.Habits[:0:0]
	for _, h := range s.Habits {
		if h.ID == "" {
			act(ConflictMissingHabitID, "", "Dropped habit without id")
			continue
		}
		if i, ok := index[h.ID]; ok {
			absorbDuplicate(&kept[i], h)
			act(ConflictDuplicateHabitID, h.ID, "Folded duplicate habit %s into its first occurrence", h.ID)
			continue
		}
		index[h.ID] = len(kept)
		kept = append(kept, h)
	}

	habits := kept[:0]
	for _, h := range kept {
		for _, msg := range RepairHistory(&h, s.LastModified) {
			act(ConflictOverlappingEpochs, h.ID, "Habit %s: %s", h.ID, msg)
		}
		if len(h.ScheduleHistory) == 0 {
			act(ConflictEmptyHistory, h.ID, "Dropped habit %s without a usable schedule", h.ID)
			continue
		}
		if !utils.ValidDate(h.CreatedOn) {
			h.CreatedOn = h.ScheduleHistory[0].StartDate
			act(ConflictInvalidDate, h.ID, "Reset creation date of habit %s to %s", h.ID, h.CreatedOn)
		}
		if h.GraduatedOn != nil && !utils.ValidDate(*h.GraduatedOn) {
			h.GraduatedOn = nil
			act(ConflictInvalidDate, h.ID, "Cleared invalid graduation date of habit %s", h.ID)
		}
		if h.DeletedOn != nil && !utils.ValidDate(*h.DeletedOn) {
			fixed := h.CreatedOn
			h.DeletedOn = &fixed
			act(ConflictInvalidDate, h.ID, "Replaced invalid deletion date of habit %s", h.ID)
		}
		habits = append(habits, h)
	}
	s.Habits = habits

	for date, day := range s.DailyData {
		for id, d := range day {
			changed := false
			for slot, inst := range d.Instances {
				if inst.Validate() == nil {
					continue
				}
				if inst.Progress != nil && inst.Progress.Validate() != nil {
					inst.Progress = nil
				}
				if inst.Validate() != nil {
					inst.GoalOverride = nil
				}
				d.Instances[slot] = inst
				changed = true
				act(ConflictInvalidProgress, id, "Dropped invalid progress of habit %s on %s (%s)", id, date, slot)
			}
			if changed {
				s.DailyData.Set(date, id, d)
			}
		}
	}

	if len(s.NotificationsShown) > 0 {
		uniq := slices.Clone(s.NotificationsShown)
		slices.Sort(uniq)
		uniq = slices.Compact(uniq)
		s.NotificationsShown = uniq
	}

	for _, a := range actions {
		logger.Debug("Repaired snapshot", "habit", a.HabitID, "conflict", a.Conflict, "action", a.Action)
	}
	return actions
}

// absorbDuplicate folds dup into h: deletion and graduation keep the earliest
// date, epochs are unioned and left for RepairHistory.
func absorbDuplicate(h *models.Habit, dup models.Habit) {
	h.DeletedOn = earliest(h.DeletedOn, dup.DeletedOn)
	h.GraduatedOn = earliest(h.GraduatedOn, dup.GraduatedOn)
	if dup.CreatedOn != "" && (h.CreatedOn == "" || dup.CreatedOn < h.CreatedOn) {
		h.CreatedOn = dup.CreatedOn
	}
	for _, e := range dup.ScheduleHistory {
		h.ScheduleHistory = append(h.ScheduleHistory, e.Clone())
	}
}

func earliest(a, b *string) *string {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}

// EffectiveStamp is the epoch's own stamp, or fallback when it has none.
func EffectiveStamp(e models.ScheduleEpoch, fallback int64) int64 {
	if e.Modified != 0 {
		return e.Modified
	}
	return fallback
}

// RepairHistory restores the schedule history invariants of h: sorted by
// start date, one epoch per start date, no overlaps, no gaps. An epoch lying
// inside an earlier epoch with an equal or newer stamp is dropped; any other
// overlap closes the earlier epoch where the later one starts. Gaps are
// closed by extending the earlier epoch. It returns a description of every
// change.
func RepairHistory(h *models.Habit, fallback int64) []string {
	var notes []string
	valid := make([]models.ScheduleEpoch, 0, len(h.ScheduleHistory))
	for _, e := range h.ScheduleHistory {
		if !utils.ValidDate(e.StartDate) {
			notes = append(notes, fmt.Sprintf("dropped epoch with invalid start %q", e.StartDate))
			continue
		}
		if !e.IsOpen() && !utils.ValidDate(e.EndDate) {
			notes = append(notes, fmt.Sprintf("reopened epoch %s with invalid end %q", e.StartDate, e.EndDate))
			e.EndDate = ""
		}
		if !e.IsOpen() && e.EndDate <= e.StartDate {
			notes = append(notes, fmt.Sprintf("dropped empty epoch %s..%s", e.StartDate, e.EndDate))
			continue
		}
		valid = append(valid, e)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].StartDate != valid[j].StartDate {
			return valid[i].StartDate < valid[j].StartDate
		}
		return EffectiveStamp(valid[i], fallback) > EffectiveStamp(valid[j], fallback)
	})

	out := make([]models.ScheduleEpoch, 0, len(valid))
	for _, next := range valid {
		if len(out) == 0 {
			out = append(out, next)
			continue
		}
		prev := &out[len(out)-1]
		if prev.StartDate == next.StartDate {
			notes = append(notes, fmt.Sprintf("dropped older epoch starting %s", next.StartDate))
			continue
		}
		switch {
		case prev.IsOpen() || prev.EndDate > next.StartDate:
			contained := prev.IsOpen() || (!next.IsOpen() && next.EndDate <= prev.EndDate)
			if contained && EffectiveStamp(*prev, fallback) >= EffectiveStamp(next, fallback) {
				notes = append(notes, fmt.Sprintf("dropped epoch %s contained in epoch %s", next.StartDate, prev.StartDate))
				continue
			}
			notes = append(notes, fmt.Sprintf("closed epoch %s at %s", prev.StartDate, next.StartDate))
			prev.EndDate = next.StartDate
		case prev.EndDate < next.StartDate:
			notes = append(notes, fmt.Sprintf("extended epoch %s to %s", prev.StartDate, next.StartDate))
			prev.EndDate = next.StartDate
		}
		out = append(out, next)
	}

	h.ScheduleHistory = out
	return notes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSlots(m map[habitlog.Slot]models.InstanceData) []habitlog.Slot {
	slots := make([]habitlog.Slot, 0, len(m))
	for k := range m {
		slots = append(slots, k)
	}
	slices.Sort(slots)
	return slots
}
