package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/julianstephens/habitsync/internal/backup"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/internal/models"
)

// ReadSnapshotFile reads an exported snapshot of any schema version.
func ReadSnapshotFile(path string) (*models.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	snap, report, err := migration.MigrateSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if report.FromVersion != models.SchemaVersion {
		logger.Info("Migrated snapshot", "path", path, "from", report.FromVersion, "steps", report.Applied)
	}
	if report.Dropped > 0 {
		fmt.Printf("⚠ Dropped %d corrupt entries from %s\n", report.Dropped, path)
	}
	return snap, nil
}

// MergeIn merges other into the local snapshot and saves the result.
func (c *Context) MergeIn(other *models.Snapshot) (*models.Snapshot, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	local, err := c.Store.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	merged, err := merge.Merge(local, other)
	if err != nil {
		return nil, err
	}
	if models.ContentEqual(merged, local) {
		return local, nil
	}

	merged.LastModified = models.NextStamp(max(local.LastModified, other.LastModified), time.Now())
	if mgr, ok := c.BackupManager(); ok {
		if _, err := mgr.CreateBackup(backup.ReasonPreMerge); err != nil {
			logger.Warn("Failed to back up before merge", "error", err)
		}
	}
	if err := c.Store.SaveSnapshot(merged); err != nil {
		return nil, err
	}
	return merged, nil
}
