package system

import (
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/keyring"
	"github.com/julianstephens/habitsync/internal/storage/sqlite"
	"github.com/julianstephens/habitsync/internal/validation"
)

type DoctorCmd struct{}

type check struct {
	name string
	// needsStorage checks are skipped when storage cannot be loaded.
	needsStorage bool
	// warnOnly failures do not fail the command.
	warnOnly bool
	run      func(ctx *cli.Context) error
}

var checks = []check{
	{name: "Schema version", needsStorage: true, run: checkSchemaVersion},
	{name: "Migrations complete", needsStorage: true, run: checkMigrationsComplete},
	{name: "Backups present", warnOnly: true, run: checkBackupsPresent},
	{name: "Snapshot validation", needsStorage: true, run: checkValidation},
	{name: "Clock/timezone", run: func(*cli.Context) error { return checkClockTimezone() }},
	{name: "Timestamp integrity", needsStorage: true, warnOnly: true, run: checkTimestampIntegrity},
	{name: "Sync key", warnOnly: true, run: checkSyncKey},
	{name: "Last sync", needsStorage: true, warnOnly: true, run: checkLastSync},
}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	fmt.Println("Running diagnostics...")
	fmt.Println()

	hasError := false
	reachable := true
	if err := checkStorageReachable(ctx); err != nil {
		fmt.Printf("❌ Storage reachable: FAIL\n")
		fmt.Printf("   Error: %v\n", err)
		hasError = true
		reachable = false
	} else {
		fmt.Printf("✓ Storage reachable: OK\n")
	}

	for _, c := range checks {
		if c.needsStorage && !reachable {
			fmt.Printf("⊘ %s: SKIPPED (storage not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx)
		switch {
		case err == nil:
			fmt.Printf("✓ %s: OK\n", c.name)
		case c.warnOnly:
			fmt.Printf("⚠ %s: WARNING\n", c.name)
			fmt.Printf("   %v\n", err)
		default:
			fmt.Printf("❌ %s: FAIL\n", c.name)
			fmt.Printf("   Error: %v\n", err)
			hasError = true
		}
	}

	fmt.Println()
	if hasError {
		fmt.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}

	fmt.Println("All diagnostics passed!")
	return nil
}

func checkStorageReachable(ctx *cli.Context) error {
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load storage: %w", err)
	}
	if _, err := ctx.Store.LoadSnapshot(); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	store, ok := ctx.Store.(*sqlite.Store)
	if !ok {
		return nil
	}
	current, latest, err := store.SchemaVersions()
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	return nil
}

func checkMigrationsComplete(ctx *cli.Context) error {
	store, ok := ctx.Store.(*sqlite.Store)
	if !ok {
		return nil
	}
	current, latest, err := store.SchemaVersions()
	if err != nil {
		return err
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d", current, latest)
	}
	return nil
}

func checkBackupsPresent(ctx *cli.Context) error {
	mgr, ok := ctx.BackupManager()
	if !ok {
		return nil
	}
	backups, err := mgr.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups found - consider creating one with 'habitsync backup create'")
	}
	return nil
}

func checkValidation(ctx *cli.Context) error {
	snap, err := ctx.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	result := validation.New().ValidateSnapshot(snap)
	if result.HasConflicts() {
		return errors.New(result.FormatReport())
	}
	return nil
}

func checkClockTimezone() error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	return nil
}

// checkTimestampIntegrity flags a snapshot stamped in the future, which
// happens after editing with a clock that ran ahead.
func checkTimestampIntegrity(ctx *cli.Context) error {
	snap, err := ctx.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	limit := time.Now().Add(24 * time.Hour).UnixMilli()
	if snap.LastModified > limit {
		return fmt.Errorf("snapshot last modified %s is in the future", time.UnixMilli(snap.LastModified).Format(time.RFC3339))
	}
	return nil
}

func checkSyncKey(ctx *cli.Context) error {
	if _, err := ctx.SyncKey(); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("no sync key stored - run 'habitsync keyring init' to enable sync")
		}
		return err
	}
	return nil
}

func checkLastSync(ctx *cli.Context) error {
	state, err := ctx.Store.GetSyncState()
	if err != nil {
		return err
	}
	if state.LastError != "" {
		return fmt.Errorf("last sync failed: %s", state.LastError)
	}
	if state.LastSyncAt == nil {
		return fmt.Errorf("this device has never synced")
	}
	return nil
}
