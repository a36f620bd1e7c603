// Package syncing holds the commands that move snapshots between this
// device, the relay and exported files.
package syncing

import (
	"context"
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	apperrors "github.com/julianstephens/habitsync/internal/errors"
	"github.com/julianstephens/habitsync/internal/logger"
)

type SyncCmd struct {
	Timeout time.Duration `help:"Give up after this long." default:"1m"`
}

func (c *SyncCmd) Run(ctx *cli.Context) error {
	s, err := ctx.Syncer()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	err = s.Sync(runCtx)
	return report(s.Status().State, err)
}

// PullCmd merges the relay's snapshot into local state without uploading.
type PullCmd struct {
	Timeout time.Duration `help:"Give up after this long." default:"1m"`
}

func (c *PullCmd) Run(ctx *cli.Context) error {
	s, err := ctx.Syncer()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	err = s.Pull(runCtx)
	return report(apperrors.SyncStatus(err), err)
}

// report prints the sync outcome. Being offline is not a failure: changes
// stay local until the next sync.
func report(state string, err error) error {
	switch state {
	case constants.SyncStatusOK:
		fmt.Println(cli.SuccessStyle.Render("✓ " + state))
		return nil
	case constants.SyncStatusOffline:
		logger.Debug("Sync failed while offline", "error", err)
		fmt.Println(cli.WarningStyle.Render("⚠ " + state + ": changes are kept on this device"))
		return nil
	}
	if err == nil {
		fmt.Println(state)
		return nil
	}
	fmt.Println(cli.DangerStyle.Render("❌ " + state))
	if apperrors.IsFatalSync(err) {
		return fmt.Errorf("sync stopped, update habitsync or check the sync key on every device: %w", err)
	}
	return err
}
