// Package service holds the habit operations the CLI performs. Every
// mutation loads the snapshot, edits it, advances LastModified and saves,
// all under a lock shared with the syncer.
package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/schedule"
	"github.com/julianstephens/habitsync/internal/storage"
	"github.com/julianstephens/habitsync/internal/utils"
)

var (
	ErrHabitNotFound  = errors.New("habit not found")
	ErrAmbiguousHabit = errors.New("habit reference is ambiguous")
	ErrHabitDeleted   = errors.New("habit is deleted")
	ErrNotScheduled   = errors.New("habit has no schedule on that date")
)

type HabitService struct {
	store storage.Provider
	lock  sync.Locker
	now   func() time.Time
}

// NewHabitService returns a service over store. lock may be nil when
// nothing else writes to store.
func NewHabitService(store storage.Provider, lock sync.Locker) *HabitService {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &HabitService{store: store, lock: lock, now: time.Now}
}

// Today returns the local calendar date.
func (s *HabitService) Today() string {
	return utils.FormatDate(s.now())
}

// Snapshot returns the current snapshot for read-only use.
func (s *HabitService) Snapshot() (*models.Snapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.store.LoadSnapshot()
}

// update runs fn on the loaded snapshot and saves it with a new stamp. fn
// receives that stamp for epochs and overrides it touches.
func (s *HabitService) update(fn func(snap *models.Snapshot, stamp int64) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	snap, err := s.store.LoadSnapshot()
	if err != nil {
		return err
	}
	stamp := models.NextStamp(snap.LastModified, s.now())
	if err := fn(snap, stamp); err != nil {
		return err
	}
	snap.LastModified = stamp
	return s.store.SaveSnapshot(snap)
}

// Resolve finds a habit by id, id prefix or case-insensitive name.
func Resolve(snap *models.Snapshot, ref string) (*models.Habit, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrHabitNotFound
	}
	if h := snap.Habit(ref); h != nil {
		return h, nil
	}

	var matches []*models.Habit
	for i := range snap.Habits {
		h := &snap.Habits[i]
		if strings.HasPrefix(h.ID, ref) || strings.EqualFold(h.Name(), ref) {
			matches = append(matches, h)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrHabitNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d habits", ErrAmbiguousHabit, ref, len(matches))
	}
}

func resolveLive(snap *models.Snapshot, ref string) (*models.Habit, error) {
	h, err := Resolve(snap, ref)
	if err != nil {
		return nil, err
	}
	if h.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrHabitDeleted, h.Name())
	}
	return h, nil
}

// NewHabit describes the first schedule of a habit.
type NewHabit struct {
	Name      string
	Icon      string
	Color     string
	Goal      models.Goal
	Times     []habitlog.Slot
	Frequency models.Frequency
	// StartDate defaults to today.
	StartDate string
}

func (s *HabitService) Create(n NewHabit) (models.Habit, error) {
	start := n.StartDate
	if start == "" {
		start = s.Today()
	}
	if !utils.ValidDate(start) {
		return models.Habit{}, fmt.Errorf("invalid start date %q", start)
	}

	var created models.Habit
	err := s.update(func(snap *models.Snapshot, stamp int64) error {
		epoch := models.ScheduleEpoch{
			StartDate: start,
			Name:      strings.TrimSpace(n.Name),
			Icon:      n.Icon,
			Color:     n.Color,
			Goal:      n.Goal.Clone(),
			Times:     sortedSlots(n.Times),
			Frequency: n.Frequency.Clone(),
			Modified:  stamp,
		}
		if epoch.Frequency.Type == models.FrequencyInterval {
			epoch.ScheduleAnchor = start
		}
		if err := epoch.Validate(); err != nil {
			return err
		}
		created = models.Habit{
			ID:              uuid.New().String(),
			CreatedOn:       start,
			ScheduleHistory: []models.ScheduleEpoch{epoch},
		}
		snap.Habits = append(snap.Habits, created)
		return nil
	})
	return created, err
}

// Reschedule changes a habit's schedule from date on. Earlier days keep the
// schedule they had.
func (s *HabitService) Reschedule(ref, date string, edit func(*models.ScheduleEpoch)) error {
	return s.update(func(snap *models.Snapshot, stamp int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		return schedule.SplitForward(h, date, stamp, func(e *models.ScheduleEpoch) {
			edit(e)
			e.Times = sortedSlots(e.Times)
		})
	})
}

// SetStatus records status for one instance. StatusNull clears it.
func (s *HabitService) SetStatus(ref, date string, slot habitlog.Slot, status habitlog.Status) error {
	d, err := utils.ParseDate(date)
	if err != nil {
		return err
	}
	return s.update(func(snap *models.Snapshot, _ int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		if schedule.ResolveEpoch(h, date) < 0 {
			return fmt.Errorf("%w: %s on %s", ErrNotScheduled, h.Name(), date)
		}
		return snap.MonthlyLogs.SetStatus(h.ID, d, slot, status)
	})
}

func (s *HabitService) Clear(ref, date string, slot habitlog.Slot) error {
	return s.SetStatus(ref, date, slot, habitlog.StatusNull)
}

// editInstance applies fn to the instance data of (habit, date, slot).
func (s *HabitService) editInstance(ref, date string, slot habitlog.Slot, fn func(h *models.Habit, e *models.ScheduleEpoch, inst *models.InstanceData, snap *models.Snapshot) error) error {
	if !utils.ValidDate(date) {
		return fmt.Errorf("invalid date %q", date)
	}
	if !slot.Valid() {
		return fmt.Errorf("invalid time of day %d", int(slot))
	}
	return s.update(func(snap *models.Snapshot, stamp int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		e, ok := schedule.EpochOn(h, date)
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrNotScheduled, h.Name(), date)
		}
		day, _ := snap.DailyData.Get(date, h.ID)
		day = day.Clone()
		if day.Instances == nil {
			day.Instances = make(map[habitlog.Slot]models.InstanceData)
		}
		inst := day.Instances[slot]
		if err := fn(h, e, &inst, snap); err != nil {
			return err
		}
		if err := inst.Validate(); err != nil {
			return err
		}
		if inst.IsZero() {
			delete(day.Instances, slot)
		} else {
			day.Instances[slot] = inst
		}
		day.Modified = stamp
		snap.DailyData.Set(date, h.ID, day)
		return nil
	})
}

// SetNote replaces the note of one instance; an empty note removes it.
func (s *HabitService) SetNote(ref, date string, slot habitlog.Slot, note string) error {
	return s.editInstance(ref, date, slot, func(_ *models.Habit, _ *models.ScheduleEpoch, inst *models.InstanceData, _ *models.Snapshot) error {
		inst.Note = strings.TrimSpace(note)
		return nil
	})
}

// SetProgress records progress toward the goal of the epoch covering date.
// Reaching the goal marks the instance done.
func (s *HabitService) SetProgress(ref, date string, slot habitlog.Slot, value int) error {
	d, err := utils.ParseDate(date)
	if err != nil {
		return err
	}
	return s.editInstance(ref, date, slot, func(h *models.Habit, e *models.ScheduleEpoch, inst *models.InstanceData, snap *models.Snapshot) error {
		var p models.GoalProgress
		switch e.Goal.Type {
		case models.GoalPages:
			p = models.PagesProgress(value)
		case models.GoalMinutes:
			p = models.MinutesProgress(value)
		default:
			p = models.CheckProgress(value > 0)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		inst.Progress = &p

		target := 1
		if inst.GoalOverride != nil {
			target = *inst.GoalOverride
		} else if e.Goal.Total != nil {
			target = *e.Goal.Total
		}
		if p.Value >= target {
			return snap.MonthlyLogs.SetStatus(h.ID, d, slot, habitlog.StatusDone)
		}
		return nil
	})
}

// SetDailySchedule overrides the times of one date. An empty list skips the
// day; nil restores the epoch's times.
func (s *HabitService) SetDailySchedule(ref, date string, times []habitlog.Slot) error {
	if !utils.ValidDate(date) {
		return fmt.Errorf("invalid date %q", date)
	}
	return s.update(func(snap *models.Snapshot, stamp int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		if !schedule.IsActiveOn(h, date) {
			return fmt.Errorf("%w: %s on %s", ErrNotScheduled, h.Name(), date)
		}
		day, _ := snap.DailyData.Get(date, h.ID)
		day = day.Clone()
		if times == nil {
			day.DailySchedule = nil
		} else {
			day.DailySchedule = sortedSlots(times)
		}
		day.Modified = stamp
		snap.DailyData.Set(date, h.ID, day)
		return nil
	})
}

// Graduate retires a habit from date on. Its history is kept.
func (s *HabitService) Graduate(ref, date string) error {
	if date == "" {
		date = s.Today()
	}
	if !utils.ValidDate(date) {
		return fmt.Errorf("invalid date %q", date)
	}
	return s.update(func(snap *models.Snapshot, _ int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		if date < h.CreatedOn {
			return fmt.Errorf("cannot graduate %s before it was created (%s)", h.Name(), h.CreatedOn)
		}
		h.GraduatedOn = &date
		return nil
	})
}

// Delete soft-deletes a habit.
func (s *HabitService) Delete(ref string) error {
	today := s.Today()
	return s.update(func(snap *models.Snapshot, _ int64) error {
		h, err := resolveLive(snap, ref)
		if err != nil {
			return err
		}
		h.DeletedOn = &today
		return nil
	})
}

func (s *HabitService) Restore(ref string) error {
	return s.update(func(snap *models.Snapshot, _ int64) error {
		h, err := Resolve(snap, ref)
		if err != nil {
			return err
		}
		if !h.IsDeleted() {
			return fmt.Errorf("habit %s is not deleted", h.Name())
		}
		h.DeletedOn = nil
		return nil
	})
}

// PurgeResult counts what Purge removed.
type PurgeResult struct {
	Months int
	Days   int
}

// Purge drops the logs and daily data of a deleted habit. The habit stays
// behind as a tombstone.
func (s *HabitService) Purge(ref string) (PurgeResult, error) {
	var res PurgeResult
	err := s.update(func(snap *models.Snapshot, _ int64) error {
		h, err := Resolve(snap, ref)
		if err != nil {
			return err
		}
		if !h.IsDeleted() {
			return fmt.Errorf("habit %s must be deleted before it can be purged", h.Name())
		}
		res.Months, res.Days = snap.PurgeHabit(h.ID)
		return nil
	})
	return res, err
}

// Habits lists habits in display order.
func (s *HabitService) Habits(includeDeleted bool) ([]models.Habit, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]models.Habit, 0, len(snap.Habits))
	for _, h := range snap.Habits {
		if h.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// AgendaItem is one due instance on a date.
type AgendaItem struct {
	HabitID  string
	Name     string
	Slot     habitlog.Slot
	Status   habitlog.Status
	Cleared  bool
	Goal     models.Goal
	Progress *models.GoalProgress
	Note     string
}

// Agenda lists the instances due on date ordered by time of day.
func (s *HabitService) Agenda(date string) ([]AgendaItem, error) {
	d, err := utils.ParseDate(date)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	var items []AgendaItem
	for _, due := range schedule.Agenda(snap, date) {
		day, _ := snap.DailyData.Get(date, due.Habit.ID)
		for _, slot := range due.Times {
			item := AgendaItem{
				HabitID: due.Habit.ID,
				Name:    due.Epoch.DisplayName(),
				Slot:    slot,
				Status:  snap.MonthlyLogs.GetStatus(due.Habit.ID, d, slot),
				Cleared: snap.MonthlyLogs.IsCleared(due.Habit.ID, d, slot),
				Goal:    due.Epoch.Goal,
			}
			if inst, ok := day.Instances[slot]; ok {
				item.Progress = inst.Progress
				item.Note = inst.Note
			}
			items = append(items, item)
		}
	}
	slices.SortStableFunc(items, func(a, b AgendaItem) int {
		return int(a.Slot) - int(b.Slot)
	})
	return items, nil
}

func sortedSlots(in []habitlog.Slot) []habitlog.Slot {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
