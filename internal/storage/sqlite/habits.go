package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
)

func (s *Store) loadHabits() ([]models.Habit, error) {
	exists, err := s.tableExists("habits")
	if err != nil || !exists {
		return []models.Habit{}, nil
	}

	rows, err := s.db.Query(`
		SELECT id, created_on, graduated_on, deleted_on, schedule_history
		FROM habits ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	habits := []models.Habit{}
	for rows.Next() {
		var h models.Habit
		var graduatedOn, deletedOn sql.NullString
		var history string
		if err := rows.Scan(&h.ID, &h.CreatedOn, &graduatedOn, &deletedOn, &history); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(history), &h.ScheduleHistory); err != nil {
			logger.Warn("Skipping habit with corrupt schedule history", "habit", h.ID, "error", err)
			continue
		}
		if graduatedOn.Valid {
			h.GraduatedOn = &graduatedOn.String
		}
		if deletedOn.Valid {
			h.DeletedOn = &deletedOn.String
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// loadRawHabits reads the habit rows as documents, leaving the schedule
// history in its stored shape.
func (s *Store) loadRawHabits() ([]map[string]any, error) {
	habits := []map[string]any{}
	exists, err := s.tableExists("habits")
	if err != nil || !exists {
		return habits, nil
	}

	rows, err := s.db.Query(`
		SELECT id, created_on, graduated_on, deleted_on, schedule_history
		FROM habits ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, createdOn, history string
		var graduatedOn, deletedOn sql.NullString
		if err := rows.Scan(&id, &createdOn, &graduatedOn, &deletedOn, &history); err != nil {
			return nil, err
		}
		h := map[string]any{"id": id, "createdOn": createdOn, "scheduleHistory": rawJSON(history)}
		if graduatedOn.Valid {
			h["graduatedOn"] = graduatedOn.String
		}
		if deletedOn.Valid {
			h["deletedOn"] = deletedOn.String
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func saveHabits(tx *sql.Tx, habits []models.Habit) error {
	if _, err := tx.Exec("DELETE FROM habits"); err != nil {
		return fmt.Errorf("failed to clear habits: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO habits (id, position, created_on, graduated_on, deleted_on, schedule_history)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, h := range habits {
		history, err := json.Marshal(h.ScheduleHistory)
		if err != nil {
			return fmt.Errorf("failed to serialize schedule of habit %s: %w", h.ID, err)
		}
		_, err = stmt.Exec(h.ID, i, h.CreatedOn, nullString(h.GraduatedOn), nullString(h.DeletedOn), string(history))
		if err != nil {
			return fmt.Errorf("failed to save habit %s: %w", h.ID, err)
		}
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
