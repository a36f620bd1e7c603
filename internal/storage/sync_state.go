package storage

import (
	"fmt"
	"time"
)

func (j jsonSyncState) toState() (SyncState, error) {
	state := SyncState{
		DeviceID:           j.DeviceID,
		RemoteLastModified: j.RemoteLastModified,
		LastError:          j.LastError,
	}
	if j.LastSyncAt != "" {
		t, err := time.Parse(time.RFC3339, j.LastSyncAt)
		if err != nil {
			return SyncState{}, fmt.Errorf("failed to parse lastSyncAt: %w", err)
		}
		state.LastSyncAt = &t
	}
	return state, nil
}

func fromState(state SyncState) jsonSyncState {
	j := jsonSyncState{
		DeviceID:           state.DeviceID,
		RemoteLastModified: state.RemoteLastModified,
		LastError:          state.LastError,
	}
	if state.LastSyncAt != nil {
		j.LastSyncAt = state.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return j
}
