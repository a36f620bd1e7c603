package main

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/cli/backups"
	"github.com/julianstephens/habitsync/internal/cli/habits"
	"github.com/julianstephens/habitsync/internal/cli/server"
	"github.com/julianstephens/habitsync/internal/cli/settings"
	"github.com/julianstephens/habitsync/internal/cli/syncing"
	"github.com/julianstephens/habitsync/internal/cli/system"
	"github.com/julianstephens/habitsync/internal/config"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	apperrors "github.com/julianstephens/habitsync/internal/errors"
	"github.com/julianstephens/habitsync/internal/logger"
)

var CLI struct {
	Version  kong.VersionFlag
	Config   string `help:"Storage path. A .json file selects the plain JSON store, anything else sqlite." type:"string" default:"${config_path}"`
	Settings string `help:"Settings file (YAML)." type:"string" env:"HABITSYNC_SETTINGS"`
	Debug    bool   `help:"Enable debug logging."`
	SyncKey  string `help:"Sync key to use instead of the one in the OS keyring." env:"HABITSYNC_SYNC_KEY"`

	Init    system.InitCmd       `cmd:"" help:"Initialize habitsync storage."`
	Migrate system.MigrateCmd    `cmd:"" help:"Run database migrations."`
	Doctor  system.DoctorCmd     `cmd:"" help:"Run health checks and diagnostics."`
	Today   habits.HabitTodayCmd `cmd:"" help:"Show the habits due today." default:"1"`
	Habit   habits.HabitCmd      `cmd:"" help:"Manage habits and habit tracking."`

	Sync   syncing.SyncCmd   `cmd:"" help:"Merge with the relay and upload the result."`
	Pull   syncing.PullCmd   `cmd:"" help:"Merge the relay's state into this device without uploading."`
	Status syncing.StatusCmd `cmd:"" help:"Show sync status."`
	Export syncing.ExportCmd `cmd:"" help:"Export local state as JSON."`
	Import syncing.ImportCmd `cmd:"" help:"Merge an exported snapshot into local state."`
	Merge  syncing.MergeCmd  `cmd:"" help:"Merge two exported snapshots offline."`

	Backup struct {
		Create  backups.BackupCreateCmd  `cmd:"" help:"Create a manual backup." default:"1"`
		List    backups.BackupListCmd    `cmd:"" help:"List available backups."`
		Restore backups.BackupRestoreCmd `cmd:"" help:"Restore from a backup."`
	} `cmd:"" help:"Manage database backups."`
	Keyring struct {
		Init    system.KeyringInitCmd    `cmd:"" help:"Create or import the sync encryption key."`
		Show    system.KeyringShowCmd    `cmd:"" help:"Print the sync key for setting up another device."`
		RelayDB system.KeyringRelayDBCmd `cmd:"" name:"relay-db" help:"Store the relay's PostgreSQL connection string."`
		Delete  system.KeyringDeleteCmd  `cmd:"" help:"Remove a secret from the keyring."`
		Status  system.KeyringStatusCmd  `cmd:"" help:"Check the OS keyring."`
	} `cmd:"" help:"Manage secrets in the OS keyring."`
	Relay struct {
		Serve server.RelayServeCmd `cmd:"" help:"Run the sync relay."`
	} `cmd:"" help:"Run the sync relay server."`
	SettingsCmd settings.SettingsCmd `cmd:"" name:"settings" help:"Manage application settings."`
}

// storageFree commands never open local storage.
var storageFree = map[string]bool{
	"init":     true,
	"merge":    true,
	"keyring":  true,
	"relay":    true,
	"settings": true,
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Offline-first habit tracker with encrypted multi-device sync"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":     constants.Version,
			"config_path": constants.DefaultConfigPath,
		},
	)

	cfg, err := config.Load(CLI.Settings)
	if err != nil {
		apperrors.Fatal(err)
	}
	if CLI.Debug {
		cfg.Debug = true
	}

	settingsPath := CLI.Settings
	if settingsPath == "" {
		settingsPath = config.DefaultPath()
	}
	if err := logger.Init(logger.Config{
		Debug:     cfg.Debug,
		ConfigDir: filepath.Dir(config.ExpandHome(settingsPath)),
	}); err != nil {
		apperrors.Fatal(err)
	}

	store := cli.NewStore(CLI.Config)
	appCtx := &cli.Context{
		Store:        store,
		Config:       cfg,
		SettingsPath: settingsPath,
	}

	if CLI.SyncKey != "" {
		key, err := encryption.DecodeKey(CLI.SyncKey)
		if err != nil {
			apperrors.Fatal(err)
		}
		appCtx.Key = key
	}

	command := strings.Fields(ctx.Command())[0]
	if !storageFree[command] {
		if err := store.Load(); err != nil {
			apperrors.Fatal(err)
		}
	}
	defer store.Close()

	if err := ctx.Run(appCtx); err != nil {
		store.Close()
		apperrors.Fatal(err)
	}
}
