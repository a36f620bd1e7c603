package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/schedule"
	"github.com/julianstephens/habitsync/internal/storage"
	"github.com/julianstephens/habitsync/internal/utils"
)

func setupService(t *testing.T) *HabitService {
	t.Helper()
	store := storage.NewJSONStore(filepath.Join(t.TempDir(), "habitsync.json"))
	require.NoError(t, store.Init())
	svc := NewHabitService(store, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func daily(name, start string, slots ...habitlog.Slot) NewHabit {
	return NewHabit{
		Name:      name,
		Goal:      models.Goal{Type: models.GoalCheck},
		Times:     slots,
		Frequency: models.Frequency{Type: models.FrequencyDaily},
		StartDate: start,
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := utils.ParseDate(s)
	require.NoError(t, err)
	return d
}

func snapshot(t *testing.T, svc *HabitService) *models.Snapshot {
	t.Helper()
	snap, err := svc.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestCreate(t *testing.T) {
	svc := setupService(t)

	h, err := svc.Create(daily("Stretch", "", habitlog.SlotEvening, habitlog.SlotMorning, habitlog.SlotEvening))
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "2024-03-10", h.CreatedOn)

	snap := snapshot(t, svc)
	require.Len(t, snap.Habits, 1)
	epoch := snap.Habits[0].ScheduleHistory[0]
	assert.Equal(t, []habitlog.Slot{habitlog.SlotMorning, habitlog.SlotEvening}, epoch.Times)
	assert.Equal(t, snap.LastModified, epoch.Modified)
	assert.NotZero(t, snap.LastModified)
}

func TestCreateIntervalAnchorsAtStart(t *testing.T) {
	svc := setupService(t)
	n := daily("Water plants", "2024-03-02", habitlog.SlotMorning)
	n.Frequency = models.Frequency{Type: models.FrequencyInterval, Amount: 3, Unit: models.IntervalUnitDays}

	h, err := svc.Create(n)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", h.ScheduleHistory[0].ScheduleAnchor)
}

func TestCreateRejectsInvalidHabit(t *testing.T) {
	svc := setupService(t)

	_, err := svc.Create(daily("No times", "2024-03-01"))
	assert.Error(t, err)
	_, err = svc.Create(daily("", "2024-03-01", habitlog.SlotMorning))
	assert.Error(t, err)
	_, err = svc.Create(daily("Bad date", "2024-02-30", habitlog.SlotMorning))
	assert.Error(t, err)

	snap := snapshot(t, svc)
	assert.Empty(t, snap.Habits)
	assert.Zero(t, snap.LastModified, "failed mutations must not save")
}

func TestMutationsAdvanceLastModified(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Read", "2024-03-01", habitlog.SlotMorning))
	require.NoError(t, err)

	steps := []func() error{
		func() error { return svc.SetStatus(h.ID, "2024-03-05", habitlog.SlotMorning, habitlog.StatusDone) },
		func() error { return svc.Clear(h.ID, "2024-03-05", habitlog.SlotMorning) },
		func() error { return svc.SetNote(h.ID, "2024-03-05", habitlog.SlotMorning, "slow start") },
		func() error { return svc.SetDailySchedule(h.ID, "2024-03-06", []habitlog.Slot{}) },
		func() error { return svc.Graduate(h.ID, "2024-03-09") },
		func() error { return svc.Delete(h.ID) },
		func() error { return svc.Restore(h.ID) },
	}

	prev := snapshot(t, svc).LastModified
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		cur := snapshot(t, svc).LastModified
		assert.Greater(t, cur, prev, "step %d", i)
		prev = cur
	}
}

func TestReschedule(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Run", "2024-03-01", habitlog.SlotMorning))
	require.NoError(t, err)

	err = svc.Reschedule(h.ID, "2024-03-08", func(e *models.ScheduleEpoch) {
		e.Times = []habitlog.Slot{habitlog.SlotEvening}
	})
	require.NoError(t, err)

	hist := snapshot(t, svc).Habit(h.ID).ScheduleHistory
	require.Len(t, hist, 2)
	assert.Equal(t, "2024-03-08", hist[0].EndDate)
	assert.Equal(t, []habitlog.Slot{habitlog.SlotMorning}, hist[0].Times)
	assert.Equal(t, "2024-03-08", hist[1].StartDate)
	assert.Equal(t, []habitlog.Slot{habitlog.SlotEvening}, hist[1].Times)

	err = svc.Reschedule(h.ID, "2024-02-01", func(e *models.ScheduleEpoch) {})
	assert.Error(t, err, "cannot reschedule before creation")
}

func TestSetStatusAndClear(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Meditate", "2024-03-01", habitlog.SlotMorning))
	require.NoError(t, err)

	require.NoError(t, svc.SetStatus("meditate", "2024-03-04", habitlog.SlotMorning, habitlog.StatusDone))
	snap := snapshot(t, svc)
	assert.Equal(t, habitlog.StatusDone, snap.MonthlyLogs.GetStatus(h.ID, mustDate(t, "2024-03-04"), habitlog.SlotMorning))

	require.NoError(t, svc.Clear(h.ID, "2024-03-04", habitlog.SlotMorning))
	snap = snapshot(t, svc)
	assert.Equal(t, habitlog.StatusNull, snap.MonthlyLogs.GetStatus(h.ID, mustDate(t, "2024-03-04"), habitlog.SlotMorning))
	assert.True(t, snap.MonthlyLogs.IsCleared(h.ID, mustDate(t, "2024-03-04"), habitlog.SlotMorning))

	err = svc.SetStatus(h.ID, "2024-02-20", habitlog.SlotMorning, habitlog.StatusDone)
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestSetProgressMarksDoneAtGoal(t *testing.T) {
	svc := setupService(t)
	total := 10
	n := daily("Read", "2024-03-01", habitlog.SlotEvening)
	n.Goal = models.Goal{Type: models.GoalPages, Total: &total}
	h, err := svc.Create(n)
	require.NoError(t, err)

	day := mustDate(t, "2024-03-05")
	require.NoError(t, svc.SetProgress(h.ID, "2024-03-05", habitlog.SlotEvening, 4))
	snap := snapshot(t, svc)
	assert.Equal(t, habitlog.StatusNull, snap.MonthlyLogs.GetStatus(h.ID, day, habitlog.SlotEvening))
	data, ok := snap.DailyData.Get("2024-03-05", h.ID)
	require.True(t, ok)
	assert.Equal(t, models.PagesProgress(4), *data.Instances[habitlog.SlotEvening].Progress)

	require.NoError(t, svc.SetProgress(h.ID, "2024-03-05", habitlog.SlotEvening, 12))
	snap = snapshot(t, svc)
	assert.Equal(t, habitlog.StatusDone, snap.MonthlyLogs.GetStatus(h.ID, day, habitlog.SlotEvening))

	assert.Error(t, svc.SetProgress(h.ID, "2024-03-05", habitlog.SlotEvening, -1))
}

func TestSetNote(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Journal", "2024-03-01", habitlog.SlotEvening))
	require.NoError(t, err)

	require.NoError(t, svc.SetNote(h.ID, "2024-03-02", habitlog.SlotEvening, "  wrote two pages "))
	data, ok := snapshot(t, svc).DailyData.Get("2024-03-02", h.ID)
	require.True(t, ok)
	assert.Equal(t, "wrote two pages", data.Instances[habitlog.SlotEvening].Note)
	assert.NotZero(t, data.Modified)

	require.NoError(t, svc.SetNote(h.ID, "2024-03-02", habitlog.SlotEvening, ""))
	data, ok = snapshot(t, svc).DailyData.Get("2024-03-02", h.ID)
	require.True(t, ok, "a cleared override stays as a stamped tombstone")
	assert.True(t, data.IsZero())
	assert.NotZero(t, data.Modified)
}

func TestSetDailyScheduleRevertSurvivesMerge(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Run", "2024-03-01", habitlog.SlotMorning))
	require.NoError(t, err)

	require.NoError(t, svc.SetDailySchedule(h.ID, "2024-03-05", []habitlog.Slot{}))
	skipped := snapshot(t, svc)
	require.NoError(t, svc.SetDailySchedule(h.ID, "2024-03-05", nil))
	reverted := snapshot(t, svc)

	for _, merged := range []*models.Snapshot{
		mustMergeSnapshots(t, skipped, reverted),
		mustMergeSnapshots(t, reverted, skipped),
	} {
		d, ok := merged.DailyData.Get("2024-03-05", h.ID)
		require.True(t, ok)
		assert.Nil(t, d.DailySchedule, "the skip must not come back")
		assert.Equal(t, []habitlog.Slot{habitlog.SlotMorning}, schedule.TimesOn(merged, merged.Habit(h.ID), "2024-03-05"))
	}
}

func mustMergeSnapshots(t *testing.T, a, b *models.Snapshot) *models.Snapshot {
	t.Helper()
	out, err := merge.Merge(a, b)
	require.NoError(t, err)
	return out
}

func TestAgenda(t *testing.T) {
	svc := setupService(t)
	a, err := svc.Create(daily("Evening walk", "2024-03-01", habitlog.SlotEvening))
	require.NoError(t, err)
	b, err := svc.Create(daily("Vitamins", "2024-03-01", habitlog.SlotMorning, habitlog.SlotEvening))
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(b.ID, "2024-03-10", habitlog.SlotMorning, habitlog.StatusDone))

	items, err := svc.Agenda("2024-03-10")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, b.ID, items[0].HabitID)
	assert.Equal(t, habitlog.SlotMorning, items[0].Slot)
	assert.Equal(t, habitlog.StatusDone, items[0].Status)
	assert.Equal(t, a.ID, items[1].HabitID)
	assert.Equal(t, b.ID, items[2].HabitID)

	// Skipping a day removes it from the agenda.
	require.NoError(t, svc.SetDailySchedule(a.ID, "2024-03-10", []habitlog.Slot{}))
	items, err = svc.Agenda("2024-03-10")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Graduated habits drop out from the graduation date.
	require.NoError(t, svc.Graduate(b.ID, "2024-03-10"))
	items, err = svc.Agenda("2024-03-10")
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = svc.Agenda("2024-03-09")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestDeleteRestorePurge(t *testing.T) {
	svc := setupService(t)
	h, err := svc.Create(daily("Floss", "2024-03-01", habitlog.SlotEvening))
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(h.ID, "2024-03-02", habitlog.SlotEvening, habitlog.StatusDone))
	require.NoError(t, svc.SetNote(h.ID, "2024-03-02", habitlog.SlotEvening, "mint"))

	_, err = svc.Purge(h.ID)
	assert.Error(t, err, "purge requires a deleted habit")

	require.NoError(t, svc.Delete(h.ID))
	assert.ErrorIs(t, svc.SetStatus(h.ID, "2024-03-03", habitlog.SlotEvening, habitlog.StatusDone), ErrHabitDeleted)

	live, err := svc.Habits(false)
	require.NoError(t, err)
	assert.Empty(t, live)
	all, err := svc.Habits(true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2024-03-10", *all[0].DeletedOn)

	require.NoError(t, svc.Restore(h.ID))
	assert.Error(t, svc.Restore(h.ID), "already restored")
	require.NoError(t, svc.Delete(h.ID))

	res, err := svc.Purge(h.ID)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Months: 1, Days: 1}, res)

	snap := snapshot(t, svc)
	require.NotNil(t, snap.Habit(h.ID), "the tombstone stays")
	assert.Empty(t, snap.MonthlyLogs)
	assert.Empty(t, snap.DailyData)
}

func TestResolve(t *testing.T) {
	snap := models.NewSnapshot()
	for _, id := range []string{"abc123", "abd456"} {
		snap.Habits = append(snap.Habits, models.Habit{
			ID: id,
			ScheduleHistory: []models.ScheduleEpoch{{
				StartDate: "2024-01-01",
				Name:      "Habit " + id,
			}},
		})
	}

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"abc123", "abc123", nil},
		{"abd", "abd456", nil},
		{"habit ABC123", "abc123", nil},
		{"ab", "", ErrAmbiguousHabit},
		{"zzz", "", ErrHabitNotFound},
		{"  ", "", ErrHabitNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			h, err := Resolve(snap, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.ID)
		})
	}
}
