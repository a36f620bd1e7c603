package settings

import (
	"fmt"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/config"
	"github.com/julianstephens/habitsync/internal/constants"
)

type SettingsCmd struct {
	List bool `help:"List current settings."`

	RelayURL    *string `help:"Relay the sync client talks to."`
	RelayListen *string `help:"Address 'relay serve' listens on."`
	DeviceName  *string `help:"Name of this device."`
	AutoBackup  *bool   `help:"Back up the database before merges and changes."`
	Debug       *bool   `help:"Enable debug logging."`
}

func (c *SettingsCmd) Run(ctx *cli.Context) error {
	settings := ctx.Settings()

	if c.List {
		fmt.Println("Current Settings:")
		fmt.Printf("  %-22s %s\n", constants.SettingRelayURL+":", settings.Relay.URL)
		fmt.Printf("  %-22s %s\n", constants.SettingRelayListen+":", settings.Relay.Listen)
		fmt.Printf("  %-22s %s\n", constants.SettingDeviceName+":", settings.Device.Name)
		fmt.Printf("  %-22s %v\n", constants.SettingAutoBackup+":", settings.Backup.Automatic)
		fmt.Printf("  %-22s %v\n", constants.SettingDebug+":", settings.Debug)
		if settings.Path != "" {
			fmt.Printf("\nRead from: %s\n", settings.Path)
		}
		return nil
	}

	updated := *settings
	changed := false
	if c.RelayURL != nil {
		updated.Relay.URL = *c.RelayURL
		changed = true
	}
	if c.RelayListen != nil {
		updated.Relay.Listen = *c.RelayListen
		changed = true
	}
	if c.DeviceName != nil {
		updated.Device.Name = *c.DeviceName
		changed = true
	}
	if c.AutoBackup != nil {
		updated.Backup.Automatic = *c.AutoBackup
		changed = true
	}
	if c.Debug != nil {
		updated.Debug = *c.Debug
		changed = true
	}

	if !changed {
		fmt.Println("No changes specified. Use --list to view settings or flags to update them.")
		return nil
	}
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	path := ctx.SettingsPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Save(path, &updated); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	updated.Path = config.ExpandHome(path)
	*settings = updated

	fmt.Println("Settings updated successfully.")
	return nil
}
