package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/storage"
)

// LoadSnapshot assembles the snapshot from its tables. Rows that no longer
// decode are skipped with a warning rather than failing the load.
func (s *Store) LoadSnapshot() (*models.Snapshot, error) {
	snap := models.NewSnapshot()

	var archives, notifications, quota, cache string
	err := s.db.QueryRow(`
		SELECT version, last_modified, archives, notifications_shown, ai_quota, analysis_cache
		FROM snapshot_meta WHERE id = 1`).Scan(
		&snap.Version, &snap.LastModified, &archives, &notifications, &quota, &cache)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}
	if snap.Version > models.SchemaVersion {
		return nil, fmt.Errorf("stored snapshot version (%d) is newer than supported version (%d)", snap.Version, models.SchemaVersion)
	}
	if snap.Version < models.SchemaVersion {
		return s.migrateStored(snap.Version, snap.LastModified, archives, notifications, quota, cache)
	}

	meta := []struct {
		name string
		raw  string
		dst  any
	}{
		{"archives", archives, &snap.Archives},
		{"notifications_shown", notifications, &snap.NotificationsShown},
		{"ai_quota", quota, &snap.AIQuota},
		{"analysis_cache", cache, &snap.AnalysisCache},
	}
	for _, m := range meta {
		if err := json.Unmarshal([]byte(m.raw), m.dst); err != nil {
			logger.Warn("Ignoring corrupt snapshot field", "field", m.name, "error", err)
		}
	}

	if snap.Habits, err = s.loadHabits(); err != nil {
		return nil, err
	}
	if snap.DailyData, err = s.loadDailyData(); err != nil {
		return nil, err
	}
	if snap.MonthlyLogs, err = s.loadMonthlyLogs(); err != nil {
		return nil, err
	}
	snap.Normalize()
	return snap, nil
}

// migrateStored rebuilds the rows of an older stored version as a snapshot
// document and upgrades it, so month bits are read in the layout they were
// written with.
func (s *Store) migrateStored(version int, lastModified int64, archives, notifications, quota, cache string) (*models.Snapshot, error) {
	doc := map[string]any{
		"version":            version,
		"lastModified":       lastModified,
		"archives":           rawJSON(archives),
		"notificationsShown": rawJSON(notifications),
		"aiQuota":            rawJSON(quota),
		"analysisCache":      rawJSON(cache),
	}

	habits, err := s.loadRawHabits()
	if err != nil {
		return nil, err
	}
	doc["habits"] = habits

	daily := map[string]map[string]json.RawMessage{}
	rows, err := s.db.Query("SELECT date, habit_id, data FROM daily_data")
	if err != nil {
		return nil, fmt.Errorf("failed to query daily data: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var date, habitID, data string
		if err := rows.Scan(&date, &habitID, &data); err != nil {
			return nil, err
		}
		if daily[date] == nil {
			daily[date] = map[string]json.RawMessage{}
		}
		daily[date][habitID] = rawJSON(data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	doc["dailyData"] = daily

	logs := map[string]string{}
	logRows, err := s.db.Query("SELECT habit_id, month, bits FROM monthly_logs")
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly logs: %w", err)
	}
	defer logRows.Close()
	for logRows.Next() {
		var habitID, month, bits string
		if err := logRows.Scan(&habitID, &month, &bits); err != nil {
			return nil, err
		}
		logs[habitlog.Key{HabitID: habitID, Month: month}.String()] = bits
	}
	if err := logRows.Err(); err != nil {
		return nil, err
	}
	doc["monthlyLogs"] = logs

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble stored snapshot: %w", err)
	}
	snap, report, err := migration.MigrateSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate stored snapshot: %w", err)
	}
	logger.Info("Migrated stored snapshot", "from", report.FromVersion, "to", models.SchemaVersion, "dropped", report.Dropped)
	snap.Normalize()
	return snap, nil
}

// rawJSON passes a stored JSON column through untouched; invalid text
// becomes null.
func rawJSON(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

// SaveSnapshot replaces the stored snapshot in one transaction.
func (s *Store) SaveSnapshot(snap *models.Snapshot) error {
	snap.Normalize()

	archives, err := json.Marshal(snap.Archives)
	if err != nil {
		return fmt.Errorf("failed to serialize archives: %w", err)
	}
	notifications, err := json.Marshal(snap.NotificationsShown)
	if err != nil {
		return fmt.Errorf("failed to serialize notifications: %w", err)
	}
	quota, err := json.Marshal(snap.AIQuota)
	if err != nil {
		return fmt.Errorf("failed to serialize ai quota: %w", err)
	}
	cache, err := json.Marshal(snap.AnalysisCache)
	if err != nil {
		return fmt.Errorf("failed to serialize analysis cache: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO snapshot_meta (id, version, last_modified, archives, notifications_shown, ai_quota, analysis_cache)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			last_modified = excluded.last_modified,
			archives = excluded.archives,
			notifications_shown = excluded.notifications_shown,
			ai_quota = excluded.ai_quota,
			analysis_cache = excluded.analysis_cache`,
		models.SchemaVersion, snap.LastModified, string(archives), string(notifications), string(quota), string(cache))
	if err != nil {
		return fmt.Errorf("failed to save snapshot metadata: %w", err)
	}

	if err := saveHabits(tx, snap.Habits); err != nil {
		return err
	}
	if err := saveDailyData(tx, snap.DailyData); err != nil {
		return err
	}
	if err := saveMonthlyLogs(tx, snap.MonthlyLogs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (s *Store) loadDailyData() (models.DailyData, error) {
	rows, err := s.db.Query("SELECT date, habit_id, data FROM daily_data ORDER BY date, habit_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query daily data: %w", err)
	}
	defer rows.Close()

	dd := models.DailyData{}
	for rows.Next() {
		var date, habitID, data string
		if err := rows.Scan(&date, &habitID, &data); err != nil {
			return nil, err
		}
		var d models.HabitDayData
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			logger.Warn("Skipping corrupt daily data", "date", date, "habit", habitID, "error", err)
			continue
		}
		dd.Set(date, habitID, d)
	}
	return dd, rows.Err()
}

func saveDailyData(tx *sql.Tx, dd models.DailyData) error {
	if _, err := tx.Exec("DELETE FROM daily_data"); err != nil {
		return fmt.Errorf("failed to clear daily data: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO daily_data (date, habit_id, data) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for date, day := range dd {
		for habitID, d := range day {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("failed to serialize daily data for %s on %s: %w", habitID, date, err)
			}
			if _, err := stmt.Exec(date, habitID, string(data)); err != nil {
				return fmt.Errorf("failed to save daily data for %s on %s: %w", habitID, date, err)
			}
		}
	}
	return nil
}

func (s *Store) loadMonthlyLogs() (habitlog.Log, error) {
	rows, err := s.db.Query("SELECT habit_id, month, bits FROM monthly_logs")
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly logs: %w", err)
	}
	defer rows.Close()

	var entries []habitlog.Entry
	for rows.Next() {
		var habitID, month, bits string
		if err := rows.Scan(&habitID, &month, &bits); err != nil {
			return nil, err
		}
		entries = append(entries, habitlog.Entry{Key: habitlog.Key{HabitID: habitID, Month: month}.String(), Hex: bits})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logs, skipped := habitlog.Deserialize(entries)
	if skipped > 0 {
		logger.Warn("Skipped corrupt monthly logs", "count", skipped)
	}
	return logs, nil
}

func saveMonthlyLogs(tx *sql.Tx, logs habitlog.Log) error {
	if _, err := tx.Exec("DELETE FROM monthly_logs"); err != nil {
		return fmt.Errorf("failed to clear monthly logs: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO monthly_logs (habit_id, month, bits) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	keys := make([]habitlog.Key, 0, len(logs))
	for k, b := range logs {
		if !b.IsZero() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		if _, err := stmt.Exec(k.HabitID, k.Month, logs[k].Hex()); err != nil {
			return fmt.Errorf("failed to save monthly log %s: %w", k, err)
		}
	}
	return nil
}
