package syncing

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
)

// StatusCmd shows what this device knows about sync without contacting the
// relay.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *cli.Context) error {
	snap, err := ctx.Store.LoadSnapshot()
	if err != nil {
		return err
	}
	state, err := ctx.Store.GetSyncState()
	if err != nil {
		return err
	}

	fmt.Println(cli.TitleStyle.Render("Sync status"))
	fmt.Printf("  Device:        %s (%s)\n", ctx.Settings().Device.Name, state.DeviceID)
	fmt.Printf("  Relay:         %s\n", ctx.Settings().Relay.URL)
	if key, err := ctx.SyncKey(); err == nil {
		fmt.Printf("  Account:       %s\n", encryption.AccountID(key)[:12])
	} else {
		fmt.Printf("  Account:       %s\n", cli.WarningStyle.Render("no sync key"))
	}
	fmt.Printf("  Local state:   %s\n", formatStamp(snap.LastModified))
	fmt.Printf("  Relay state:   %s\n", formatStamp(state.RemoteLastModified))

	switch {
	case state.LastError != "":
		fmt.Printf("  Status:        %s\n", cli.DangerStyle.Render(constants.SyncStatusError))
		fmt.Printf("  Last error:    %s\n", state.LastError)
	case state.LastSyncAt == nil || snap.LastModified != state.RemoteLastModified:
		fmt.Printf("  Status:        %s\n", cli.WarningStyle.Render(constants.SyncStatusPending))
	default:
		fmt.Printf("  Status:        %s\n", cli.SuccessStyle.Render(constants.SyncStatusOK))
	}
	if state.LastSyncAt != nil {
		fmt.Printf("  Last sync:     %s\n", state.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("  Last sync:     %s\n", cli.MutedStyle.Render("never"))
	}
	return nil
}

func formatStamp(ms int64) string {
	if ms == 0 {
		return cli.MutedStyle.Render("none")
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05.000")
}
