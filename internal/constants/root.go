package constants

import "time"

const (
	AppName            = "habitsync"
	DefaultKeyringUser = "sync-key"
	RelayDBKeyringUser = "relay-database-url"
	DefaultConfigPath  = "~/.config/habitsync/habitsync.db"
	Version            = "v0.6.0"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "habitsync-"
	BackupFileSuffix = ".db"

	// Sync constants
	SyncMaxAttempts     = 3
	SyncRequestTimeout  = 30 * time.Second
	RelayMaxBodyBytes   = 8 << 20
	RelayDefaultAddress = ":8787"
	RelayStatePath      = "/v1/state"

	// Sync state keys persisted next to the snapshot
	SyncStateDeviceID       = "device_id"
	SyncStateRemoteStamp    = "remote_last_modified"
	SyncStateLastSyncedAt   = "last_synced_at"
	SyncStateLastSyncStatus = "last_sync_status"

	// Sync status values surfaced to the user
	SyncStatusOK      = "synced"
	SyncStatusPending = "pending"
	SyncStatusError   = "sync error"
	SyncStatusOffline = "offline"
)
