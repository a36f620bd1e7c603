package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/utils"
	"github.com/julianstephens/habitsync/internal/validation"
)

// SnapshotReport describes what MigrateSnapshot did.
type SnapshotReport struct {
	FromVersion int
	Applied     []string
	Dropped     int
	Repairs     int
}

// snapshotDoc is a snapshot being upgraded: loosely typed fields plus the
// raw monthly log entries.
type snapshotDoc struct {
	fields map[string]any
	logs   []habitlog.Entry
	report *SnapshotReport
}

func (d *snapshotDoc) drop(msg string, keyvals ...any) {
	d.report.Dropped++
	logger.Warn(msg, keyvals...)
}

type snapshotStep struct {
	Version int
	Name    string
	Apply   func(*snapshotDoc)
}

// snapshotSteps upgrade a snapshot one schema version at a time, like the
// SQL migrations do for the database.
var snapshotSteps = []snapshotStep{
	{Version: 2, Name: "schedule_history", Apply: stepScheduleHistory},
	{Version: 3, Name: "named_times", Apply: stepNamedTimes},
	{Version: 4, Name: "soft_delete_dates", Apply: stepSoftDeleteDates},
	{Version: 5, Name: "progress_variants", Apply: stepProgressVariants},
	{Version: 6, Name: "notification_list", Apply: stepNotificationList},
	{Version: 8, Name: "nine_bit_logs", Apply: stepNineBitLogs},
	{Version: 9, Name: "quota_defaults", Apply: stepQuotaDefaults},
}

// MigrateSnapshot decodes a snapshot of any supported schema version and
// upgrades it to models.SchemaVersion. Malformed habits, overrides and log
// entries are dropped rather than failing the whole load. Snapshots newer
// than this build are rejected.
func MigrateSnapshot(raw []byte) (*models.Snapshot, SnapshotReport, error) {
	report := SnapshotReport{}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, report, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if fields == nil {
		return nil, report, fmt.Errorf("failed to decode snapshot: not an object")
	}

	version := 1
	if v, ok := toInt(fields["version"]); ok && v > 0 {
		version = v
	}
	report.FromVersion = version
	if version > models.SchemaVersion {
		return nil, report, newerVersionError("snapshot", version, models.SchemaVersion)
	}

	doc := &snapshotDoc{fields: fields, report: &report}
	doc.logs = collectLogEntries(doc, fields["monthlyLogs"])
	delete(fields, "monthlyLogs")

	for _, step := range snapshotSteps {
		if step.Version <= version {
			continue
		}
		step.Apply(doc)
		report.Applied = append(report.Applied, step.Name)
	}
	if len(report.Applied) > 0 {
		logger.Info("Migrated snapshot", "from", version, "to", models.SchemaVersion, "steps", strings.Join(report.Applied, ","))
	}

	s := decodeSnapshot(doc)
	repairs := validation.Repair(s)
	report.Repairs = len(repairs)
	return s, report, nil
}

// collectLogEntries accepts every shape monthlyLogs has had: an object of
// key -> value, an array of [key, value] pairs, or an array of
// {key, value} objects. Values are hex strings (0x optional) or integers.
func collectLogEntries(doc *snapshotDoc, v any) []habitlog.Entry {
	var entries []habitlog.Entry
	add := func(key, value any) {
		k, ok := key.(string)
		if !ok {
			doc.drop("Dropping monthly log with non-string key", "key", key)
			return
		}
		hex, ok := logValueHex(value)
		if !ok {
			doc.drop("Dropping monthly log with malformed value", "key", k)
			return
		}
		entries = append(entries, habitlog.Entry{Key: k, Hex: hex})
	}

	switch logs := v.(type) {
	case nil:
	case map[string]any:
		for _, k := range sortedKeys(logs) {
			add(k, logs[k])
		}
	case []any:
		for _, item := range logs {
			switch e := item.(type) {
			case []any:
				if len(e) != 2 {
					doc.drop("Dropping monthly log pair of wrong length", "length", len(e))
					continue
				}
				add(e[0], e[1])
			case map[string]any:
				add(e["key"], e["value"])
			default:
				doc.drop("Dropping malformed monthly log entry")
			}
		}
	default:
		doc.drop("Dropping monthly logs of unknown shape")
	}
	return entries
}

func logValueHex(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(val), "0x"), "0X")
		if s == "" {
			return "", false
		}
		return s, true
	case json.Number:
		n, ok := new(big.Int).SetString(val.String(), 10)
		if !ok || n.Sign() < 0 {
			return "", false
		}
		return n.Text(16), true
	default:
		return "", false
	}
}

func stepScheduleHistory(doc *snapshotDoc) {
	flat := []string{"name", "nameKey", "icon", "color", "goal", "times", "frequency", "scheduleAnchor"}
	for _, h := range objects(doc.fields["habits"]) {
		if _, ok := h["scheduleHistory"]; ok {
			continue
		}
		epoch := map[string]any{"startDate": h["createdOn"]}
		for _, k := range flat {
			if v, ok := h[k]; ok {
				epoch[k] = v
				delete(h, k)
			}
		}
		h["scheduleHistory"] = []any{epoch}
	}
}

func slotName(v any) any {
	n, ok := toInt(v)
	if !ok || !habitlog.Slot(n).Valid() {
		return v
	}
	return habitlog.Slot(n).String()
}

func stepNamedTimes(doc *snapshotDoc) {
	for _, h := range objects(doc.fields["habits"]) {
		for _, e := range objects(h["scheduleHistory"]) {
			if times, ok := e["times"].([]any); ok {
				for i := range times {
					times[i] = slotName(times[i])
				}
			}
		}
	}
	forEachDayData(doc, func(_, _ string, d map[string]any) {
		if sched, ok := d["dailySchedule"].([]any); ok {
			for i := range sched {
				sched[i] = slotName(sched[i])
			}
		}
		if inst, ok := d["instances"].(map[string]any); ok {
			renamed := make(map[string]any, len(inst))
			for k, v := range inst {
				if name, ok := slotName(k).(string); ok {
					renamed[name] = v
				}
			}
			d["instances"] = renamed
		}
	})
}

func stepSoftDeleteDates(doc *snapshotDoc) {
	for _, h := range objects(doc.fields["habits"]) {
		deleted, _ := h["deleted"].(bool)
		at, _ := h["deletedAt"].(string)
		delete(h, "deleted")
		delete(h, "deletedAt")
		if !deleted || h["deletedOn"] != nil {
			continue
		}
		if len(at) >= 10 && utils.ValidDate(at[:10]) {
			h["deletedOn"] = at[:10]
		} else {
			h["deletedOn"] = h["createdOn"]
		}
	}
}

func stepProgressVariants(doc *snapshotDoc) {
	goals := map[string]string{}
	for _, h := range objects(doc.fields["habits"]) {
		id, _ := h["id"].(string)
		hist := objects(h["scheduleHistory"])
		if len(hist) == 0 {
			continue
		}
		if g, ok := hist[len(hist)-1]["goal"].(map[string]any); ok {
			if t, ok := g["type"].(string); ok {
				goals[id] = t
			}
		}
	}
	forEachDayData(doc, func(_, habitID string, d map[string]any) {
		inst, _ := d["instances"].(map[string]any)
		for _, v := range inst {
			i, ok := v.(map[string]any)
			if !ok {
				continue
			}
			n, ok := toInt(i["progress"])
			if !ok {
				continue
			}
			kind := goals[habitID]
			if kind == "" {
				kind = string(models.GoalCheck)
			}
			i["progress"] = map[string]any{"kind": kind, "value": n}
		}
	})
}

func stepNotificationList(doc *snapshotDoc) {
	set, ok := doc.fields["notificationsShown"].(map[string]any)
	if !ok {
		return
	}
	list := make([]any, 0, len(set))
	for _, k := range sortedKeys(set) {
		if shown, _ := set[k].(bool); shown {
			list = append(list, k)
		}
	}
	doc.fields["notificationsShown"] = list
}

func stepNineBitLogs(doc *snapshotDoc) {
	converted := doc.logs[:0]
	for _, e := range doc.logs {
		b, err := habitlog.DecodeLegacy(e.Hex)
		if err != nil {
			doc.drop("Dropping corrupt legacy monthly log", "key", e.Key, "error", err)
			continue
		}
		converted = append(converted, habitlog.Entry{Key: e.Key, Hex: b.Hex()})
	}
	doc.logs = converted
}

func stepQuotaDefaults(doc *snapshotDoc) {
	f := doc.fields
	if _, ok := f["aiQuota"].(map[string]any); !ok {
		quota := map[string]any{"date": "", "count": 0}
		if d, ok := f["aiQuotaDate"].(string); ok {
			quota["date"] = d
		}
		if n, ok := toInt(f["aiQuotaCount"]); ok && n > 0 {
			quota["count"] = n
		}
		f["aiQuota"] = quota
	}
	delete(f, "aiQuotaDate")
	delete(f, "aiQuotaCount")
	if _, ok := f["analysisCache"].(map[string]any); !ok {
		f["analysisCache"] = map[string]any{}
	}
}

// decodeSnapshot builds the typed snapshot, dropping units that do not decode.
func decodeSnapshot(doc *snapshotDoc) *models.Snapshot {
	f := doc.fields
	s := models.NewSnapshot()
	if lm, ok := toInt64(f["lastModified"]); ok {
		s.LastModified = lm
	}

	if list, ok := f["habits"].([]any); ok {
		for i, item := range list {
			var h models.Habit
			if err := remarshal(item, &h); err != nil || h.ID == "" {
				doc.drop("Dropping malformed habit", "index", i, "error", err)
				continue
			}
			s.Habits = append(s.Habits, h)
		}
	}

	forEachDayData(doc, func(date, habitID string, d map[string]any) {
		if !utils.ValidDate(date) {
			doc.drop("Dropping daily data with invalid date", "date", date)
			return
		}
		var day models.HabitDayData
		if err := remarshal(d, &day); err != nil {
			doc.drop("Dropping malformed daily data", "date", date, "habit", habitID, "error", err)
			return
		}
		s.DailyData.Set(date, habitID, day)
	})

	logs, skipped := habitlog.Deserialize(doc.logs)
	doc.report.Dropped += skipped
	s.MonthlyLogs = logs

	s.Archives = stringMap(doc, "archives", f["archives"])
	s.AnalysisCache = stringMap(doc, "analysisCache", f["analysisCache"])
	if list, ok := f["notificationsShown"].([]any); ok {
		for _, v := range list {
			if str, ok := v.(string); ok {
				s.NotificationsShown = append(s.NotificationsShown, str)
			} else {
				doc.drop("Dropping non-string notification marker", "value", v)
			}
		}
	}
	if q, ok := f["aiQuota"].(map[string]any); ok {
		var quota models.AIQuota
		if err := remarshal(q, &quota); err == nil {
			s.AIQuota = quota
		} else {
			doc.drop("Resetting malformed AI quota", "error", err)
		}
	}
	return s
}

func stringMap(doc *snapshotDoc, field string, v any) map[string]string {
	out := map[string]string{}
	m, _ := v.(map[string]any)
	for k, val := range m {
		if str, ok := val.(string); ok {
			out[k] = str
		} else {
			doc.drop("Dropping non-string entry", "field", field, "key", k)
		}
	}
	return out
}

func forEachDayData(doc *snapshotDoc, fn func(date, habitID string, d map[string]any)) {
	days, _ := doc.fields["dailyData"].(map[string]any)
	for _, date := range sortedKeys(days) {
		byHabit, ok := days[date].(map[string]any)
		if !ok {
			doc.drop("Dropping malformed daily data", "date", date)
			delete(days, date)
			continue
		}
		for _, id := range sortedKeys(byHabit) {
			d, ok := byHabit[id].(map[string]any)
			if !ok {
				doc.drop("Dropping malformed daily data", "date", date, "habit", id)
				delete(byHabit, id)
				continue
			}
			fn(date, id, d)
		}
	}
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	n, ok := toInt64(v)
	return int(n), ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
