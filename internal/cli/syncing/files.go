package syncing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/models"
)

// MergeCmd merges two exported snapshots without touching local storage.
type MergeCmd struct {
	A      string `arg:"" help:"First snapshot file." type:"existingfile"`
	B      string `arg:"" help:"Second snapshot file." type:"existingfile"`
	Output string `short:"o" help:"Write the merged snapshot here instead of stdout."`
}

func (c *MergeCmd) Run(ctx *cli.Context) error {
	a, err := cli.ReadSnapshotFile(c.A)
	if err != nil {
		return err
	}
	b, err := cli.ReadSnapshotFile(c.B)
	if err != nil {
		return err
	}

	merged, err := merge.Merge(a, b)
	if err != nil {
		return err
	}
	merged.LastModified = models.NextStamp(max(a.LastModified, b.LastModified), time.Now())
	return writeSnapshot(merged, c.Output)
}

// ExportCmd writes the local snapshot as JSON.
type ExportCmd struct {
	Output string `short:"o" help:"Write to this file instead of stdout."`
}

func (c *ExportCmd) Run(ctx *cli.Context) error {
	snap, err := ctx.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	return writeSnapshot(snap, c.Output)
}

// ImportCmd merges an exported snapshot into local state. Nothing local is
// lost: the import is merged, not copied over.
type ImportCmd struct {
	File string `arg:"" help:"Snapshot file to import (JSON, any version)." type:"existingfile"`
}

func (c *ImportCmd) Run(ctx *cli.Context) error {
	other, err := cli.ReadSnapshotFile(c.File)
	if err != nil {
		return err
	}
	before, err := ctx.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	merged, err := ctx.MergeIn(other)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	if merged.LastModified == before.LastModified {
		fmt.Println("Nothing new to import.")
		return nil
	}
	fmt.Printf("✓ Imported %s: %d habits, %d months of logs\n", filepath.Base(c.File), len(merged.Habits), len(merged.MonthlyLogs))
	return nil
}

func writeSnapshot(snap *models.Snapshot, path string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
