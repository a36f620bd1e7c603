package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/internal/models"
)

// jsonFile is the on-disk layout of a JSONStore. The snapshot is kept raw so
// files written by older builds go through the snapshot migrations on load.
type jsonFile struct {
	Snapshot json.RawMessage `json:"snapshot"`
	Sync     jsonSyncState   `json:"sync"`
}

type jsonSyncState struct {
	DeviceID           string `json:"deviceId"`
	RemoteLastModified int64  `json:"remoteLastModified"`
	LastSyncAt         string `json:"lastSyncAt,omitempty"`
	LastError          string `json:"lastError,omitempty"`
}

// JSONStore keeps everything in a single JSON file. It is meant for
// portable profiles and tests; the sqlite store is the default.
type JSONStore struct {
	path string
	file *jsonFile
}

var _ Provider = (*JSONStore)(nil)

func NewJSONStore(path string) *JSONStore {
	return &JSONStore{
		path: path,
	}
}

func (s *JSONStore) Init() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		return fmt.Errorf("storage already initialized at %s", s.path)
	}

	raw, err := json.Marshal(models.NewSnapshot())
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	s.file = &jsonFile{
		Snapshot: raw,
		Sync:     jsonSyncState{DeviceID: uuid.New().String()},
	}
	return s.save()
}

func (s *JSONStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotInitialized
		}
		return fmt.Errorf("failed to read storage: %w", err)
	}

	s.file = &jsonFile{}
	if err := json.Unmarshal(data, s.file); err != nil {
		return fmt.Errorf("failed to parse storage: %w", err)
	}
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

// save writes through a temporary file so a crash never leaves a torn file.
func (s *JSONStore) save() error {
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write storage: %w", err)
	}
	return nil
}

func (s *JSONStore) LoadSnapshot() (*models.Snapshot, error) {
	if s.file == nil {
		return nil, fmt.Errorf("storage not loaded")
	}
	if len(s.file.Snapshot) == 0 || string(s.file.Snapshot) == "null" {
		return nil, ErrSnapshotNotFound
	}
	snap, report, err := migration.MigrateSnapshot(s.file.Snapshot)
	if err != nil {
		return nil, err
	}
	if report.Dropped > 0 {
		logger.Warn("Dropped corrupt snapshot entries", "count", report.Dropped, "path", s.path)
	}
	return snap, nil
}

func (s *JSONStore) SaveSnapshot(snap *models.Snapshot) error {
	if s.file == nil {
		return fmt.Errorf("storage not loaded")
	}
	snap.Version = models.SchemaVersion
	snap.Normalize()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	s.file.Snapshot = raw
	return s.save()
}

func (s *JSONStore) GetSyncState() (SyncState, error) {
	if s.file == nil {
		return SyncState{}, fmt.Errorf("storage not loaded")
	}
	return s.file.Sync.toState()
}

func (s *JSONStore) SaveSyncState(state SyncState) error {
	if s.file == nil {
		return fmt.Errorf("storage not loaded")
	}
	s.file.Sync = fromState(state)
	return s.save()
}

func (s *JSONStore) GetConfigPath() string {
	return s.path
}
