// Package merge reconciles two independently edited snapshots.
//
// Merge is pure: it never modifies its inputs and performs no I/O. Its
// rules do not depend on argument order, so every device converges on the
// same state no matter which side it treats as local.
package merge

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/validation"
)

// ErrSchemaMismatch is returned when either snapshot was not migrated to
// models.SchemaVersion first.
var ErrSchemaMismatch = errors.New("snapshot schema mismatch")

// Merge returns the merged state of local and remote.
func Merge(local, remote *models.Snapshot) (*models.Snapshot, error) {
	if err := checkVersions(local, remote); err != nil {
		return nil, err
	}
	return merge(local.Clone(), remote.Clone()), nil
}

// Result is the outcome of MergeAsync.
type Result struct {
	Snapshot *models.Snapshot
	Err      error
}

// MergeAsync runs Merge on another goroutine. The inputs are copied before
// it returns, so the caller may keep mutating them. The channel receives
// exactly one Result and is then closed.
func MergeAsync(ctx context.Context, local, remote *models.Snapshot) <-chan Result {
	ch := make(chan Result, 1)
	if err := checkVersions(local, remote); err != nil {
		ch <- Result{Err: err}
		close(ch)
		return ch
	}
	a, b := local.Clone(), remote.Clone()
	go func() {
		defer close(ch)
		if err := ctx.Err(); err != nil {
			ch <- Result{Err: err}
			return
		}
		ch <- Result{Snapshot: merge(a, b)}
	}()
	return ch
}

func checkVersions(local, remote *models.Snapshot) error {
	if local == nil || remote == nil {
		return fmt.Errorf("%w: missing snapshot", ErrSchemaMismatch)
	}
	if local.Version != models.SchemaVersion || remote.Version != models.SchemaVersion {
		return fmt.Errorf("%w: local version %d, remote version %d, expected %d",
			ErrSchemaMismatch, local.Version, remote.Version, models.SchemaVersion)
	}
	return nil
}

// merge owns a and b.
func merge(a, b *models.Snapshot) *models.Snapshot {
	out := models.NewSnapshot()
	out.LastModified = max(a.LastModified, b.LastModified)

	out.Habits = mergeHabits(a, b)
	out.DailyData = mergeDailyData(a.DailyData, a.LastModified, b.DailyData, b.LastModified)
	out.MonthlyLogs = habitlog.Merge(a.MonthlyLogs, b.MonthlyLogs)
	out.Archives = mergeRecords(a.Archives, b.Archives)
	out.AnalysisCache = mergeRecords(a.AnalysisCache, b.AnalysisCache)
	out.NotificationsShown = unionSorted(a.NotificationsShown, b.NotificationsShown)
	out.AIQuota = mergeQuota(a.AIQuota, b.AIQuota)

	if actions := validation.Repair(out); len(actions) > 0 {
		logger.Debug("Repaired merged snapshot", "actions", len(actions))
	}
	logger.Debug("Merged snapshots",
		"habits", len(out.Habits),
		"months", len(out.MonthlyLogs),
		"local_modified", a.LastModified,
		"remote_modified", b.LastModified,
	)
	return out
}

// mergeHabits unions habits by id. The result is ordered by creation date,
// then id, so it does not depend on which side listed a habit first.
func mergeHabits(a, b *models.Snapshot) []models.Habit {
	byID := make(map[string]models.Habit, len(a.Habits)+len(b.Habits))
	add := func(h models.Habit, stamp int64) {
		h = stampEpochs(h, stamp)
		if cur, ok := byID[h.ID]; ok {
			h = mergeHabit(cur, h)
		}
		byID[h.ID] = h
	}
	for _, h := range a.Habits {
		add(h, a.LastModified)
	}
	for _, h := range b.Habits {
		add(h, b.LastModified)
	}

	out := slices.Collect(maps.Values(byID))
	slices.SortFunc(out, func(x, y models.Habit) int {
		if c := cmp.Compare(x.CreatedOn, y.CreatedOn); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

// stampEpochs gives every epoch without a stamp the stamp of its snapshot,
// so the epoch keeps its recency after it has been merged.
func stampEpochs(h models.Habit, stamp int64) models.Habit {
	for i := range h.ScheduleHistory {
		if h.ScheduleHistory[i].Modified == 0 {
			h.ScheduleHistory[i].Modified = stamp
		}
	}
	return h
}

// mergeHabit merges two versions of the same habit whose epochs are already
// stamped.
func mergeHabit(x, y models.Habit) models.Habit {
	out := x
	out.CreatedOn = earliestDate(x.CreatedOn, y.CreatedOn)
	out.GraduatedOn = earliest(x.GraduatedOn, y.GraduatedOn)
	// delete wins regardless of stamps
	out.DeletedOn = earliest(x.DeletedOn, y.DeletedOn)
	out.ScheduleHistory = mergeEpochs(x.ScheduleHistory, y.ScheduleHistory)
	return out
}

// mergeEpochs unions epochs by start date. On a shared start date the newer
// stamp wins. The caller's repair pass restores ordering and non-overlap.
func mergeEpochs(xs, ys []models.ScheduleEpoch) []models.ScheduleEpoch {
	byStart := make(map[string]models.ScheduleEpoch, len(xs)+len(ys))
	for _, e := range slices.Concat(xs, ys) {
		if cur, ok := byStart[e.StartDate]; ok {
			e = newerEpoch(cur, e)
		}
		byStart[e.StartDate] = e
	}
	out := slices.Collect(maps.Values(byStart))
	slices.SortFunc(out, func(a, b models.ScheduleEpoch) int {
		return cmp.Compare(a.StartDate, b.StartDate)
	})
	return out
}

func newerEpoch(a, b models.ScheduleEpoch) models.ScheduleEpoch {
	if a.Modified != b.Modified {
		if a.Modified > b.Modified {
			return a
		}
		return b
	}
	if compareJSON(a, b) >= 0 {
		return a
	}
	return b
}

// compareJSON orders two values by their JSON encoding. It breaks ties
// between values with equal stamps.
func compareJSON(a, b any) int {
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb)
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

func earliestDate(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "" || a <= b:
		return a
	default:
		return b
	}
}

func mergeDailyData(a models.DailyData, stampA int64, b models.DailyData, stampB int64) models.DailyData {
	out := make(models.DailyData, max(len(a), len(b)))
	add := func(dd models.DailyData, stamp int64) {
		for date, day := range dd {
			for id, d := range day {
				if d.Modified == 0 {
					d.Modified = stamp
				}
				cur, ok := out.Get(date, id)
				if !ok {
					// merging with itself strips empty instances
					cur = d
				}
				out.Set(date, id, mergeDayData(cur, d))
			}
		}
	}
	add(a, stampA)
	add(b, stampB)
	return out
}

// mergeDayData merges two stamped overrides of one (date, habit). The newer
// override wins as a whole, including an empty one; only notes merge per
// slot, keeping the longer text. Equal stamps compare the note-free content
// so the pick never depends on argument order.
func mergeDayData(x, y models.HabitDayData) models.HabitDayData {
	out := withoutNotes(x)
	if other := withoutNotes(y); y.Modified > x.Modified || (y.Modified == x.Modified && compareJSON(other, out) > 0) {
		out = other
	}

	for _, side := range []models.HabitDayData{x, y} {
		for s, inst := range side.Instances {
			if inst.Note == "" {
				continue
			}
			if out.Instances == nil {
				out.Instances = make(map[habitlog.Slot]models.InstanceData)
			}
			cur := out.Instances[s]
			cur.Note = LongerNote(cur.Note, inst.Note)
			out.Instances[s] = cur
		}
	}
	return out
}

// withoutNotes returns a copy of d with every note blanked and the instances
// left empty by that removed.
func withoutNotes(d models.HabitDayData) models.HabitDayData {
	d = d.Clone()
	for s, inst := range d.Instances {
		inst.Note = ""
		if inst.IsZero() {
			delete(d.Instances, s)
		} else {
			d.Instances[s] = inst
		}
	}
	if len(d.Instances) == 0 {
		d.Instances = nil
	}
	return d
}

// LongerNote returns the note with more characters after NFC normalisation.
// Equal lengths fall back to byte order.
func LongerNote(a, b string) string {
	la := utf8.RuneCountInString(norm.NFC.String(a))
	lb := utf8.RuneCountInString(norm.NFC.String(b))
	switch {
	case la > lb:
		return a
	case lb > la:
		return b
	case a >= b:
		return a
	default:
		return b
	}
}

// mergeRecords unions string maps. A key set on both sides with different
// values keeps the longer value, with byte order breaking ties, so the join
// does not depend on which snapshot was written last.
func mergeRecords(a, b map[string]string) map[string]string {
	out := maps.Clone(a)
	if out == nil {
		out = make(map[string]string, len(b))
	}
	for k, vb := range b {
		if va, ok := out[k]; ok {
			vb = LongerNote(va, vb)
		}
		out[k] = vb
	}
	return out
}

func unionSorted(a, b []string) []string {
	out := slices.Concat(a, b)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// mergeQuota keeps the counter of the later day; the same day keeps the
// higher count.
func mergeQuota(a, b models.AIQuota) models.AIQuota {
	switch {
	case a.Date > b.Date:
		return a
	case b.Date > a.Date:
		return b
	case a.Count >= b.Count:
		return a
	default:
		return b
	}
}
