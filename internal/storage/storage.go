package storage

import (
	"errors"
	"time"

	"github.com/julianstephens/habitsync/internal/models"
)

var (
	// ErrSnapshotNotFound is returned when the store holds no snapshot yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrNotInitialized is returned by Load when Init was never run.
	ErrNotInitialized = errors.New("storage not initialized, run 'habitsync init' first")
)

// SyncState is the per-device bookkeeping of the sync loop.
type SyncState struct {
	DeviceID string
	// RemoteLastModified is the relay's lastModified at the last successful
	// push or pull; it is the base of the next compare-and-swap.
	RemoteLastModified int64
	LastSyncAt         *time.Time
	LastError          string
}

type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error

	// Snapshot
	LoadSnapshot() (*models.Snapshot, error)
	SaveSnapshot(*models.Snapshot) error

	// Sync bookkeeping
	GetSyncState() (SyncState, error)
	SaveSyncState(SyncState) error

	// Utils
	GetConfigPath() string
}
