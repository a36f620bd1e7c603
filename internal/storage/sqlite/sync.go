package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/storage"
)

func (s *Store) GetSyncState() (storage.SyncState, error) {
	var state storage.SyncState
	var lastSyncAt sql.NullString
	err := s.db.QueryRow(`
		SELECT device_id, remote_last_modified, last_sync_at, last_error
		FROM sync_state WHERE id = 1`).Scan(&state.DeviceID, &state.RemoteLastModified, &lastSyncAt, &state.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SyncState{}, nil
	}
	if err != nil {
		return storage.SyncState{}, fmt.Errorf("failed to read sync state: %w", err)
	}
	if lastSyncAt.Valid {
		t, err := time.Parse(time.RFC3339, lastSyncAt.String)
		if err != nil {
			return storage.SyncState{}, fmt.Errorf("failed to parse last_sync_at: %w", err)
		}
		state.LastSyncAt = &t
	}
	return state, nil
}

func (s *Store) SaveSyncState(state storage.SyncState) error {
	var lastSyncAt sql.NullString
	if state.LastSyncAt != nil {
		lastSyncAt = sql.NullString{String: state.LastSyncAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_state (id, device_id, remote_last_modified, last_sync_at, last_error)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			remote_last_modified = excluded.remote_last_modified,
			last_sync_at = excluded.last_sync_at,
			last_error = excluded.last_error`,
		state.DeviceID, state.RemoteLastModified, lastSyncAt, state.LastError)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
