package constants

const (
	// Settings keys (YAML / HABITSYNC_* environment)
	SettingRelayURL         = "relay.url"
	SettingRelayListen      = "relay.listen"
	SettingRelayDatabaseURL = "relay.database_url"
	SettingDeviceName       = "device.name"
	SettingAutoBackup       = "backup.automatic"
	SettingDebug            = "debug"

	EnvPrefix = "HABITSYNC"

	// Default Settings Values
	DefaultRelayURL    = "http://127.0.0.1:8787"
	DefaultDeviceName  = "default"
	DefaultAutoBackup  = true
	DefaultSettingsDir = "~/.config/habitsync"
	SettingsFileName   = "settings"
	SettingsFileType   = "yaml"
)
