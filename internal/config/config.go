// Package config loads user settings. Values come from defaults, then an
// optional YAML file, then HABITSYNC_* environment variables (a .env file in
// the working directory counts as environment).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/julianstephens/habitsync/internal/constants"
)

type RelayConfig struct {
	URL    string `mapstructure:"url"`
	Listen string `mapstructure:"listen"`
	// DatabaseURL selects the postgres blob store for `relay serve`. Empty
	// means in-memory, or the URL stored in the keyring.
	DatabaseURL string `mapstructure:"database_url"`
}

type DeviceConfig struct {
	Name string `mapstructure:"name"`
}

type BackupConfig struct {
	Automatic bool `mapstructure:"automatic"`
}

type Config struct {
	Relay  RelayConfig  `mapstructure:"relay"`
	Device DeviceConfig `mapstructure:"device"`
	Backup BackupConfig `mapstructure:"backup"`
	Debug  bool         `mapstructure:"debug"`

	// Path is the settings file that was read, if any.
	Path string `mapstructure:"-"`
}

// DefaultPath returns the settings file location under the user's config
// directory.
func DefaultPath() string {
	return filepath.Join(ExpandHome(constants.DefaultSettingsDir), constants.SettingsFileName+"."+constants.SettingsFileType)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(constants.SettingRelayURL, constants.DefaultRelayURL)
	v.SetDefault(constants.SettingRelayListen, constants.RelayDefaultAddress)
	v.SetDefault(constants.SettingRelayDatabaseURL, "")
	v.SetDefault(constants.SettingDeviceName, constants.DefaultDeviceName)
	v.SetDefault(constants.SettingAutoBackup, constants.DefaultAutoBackup)
	v.SetDefault(constants.SettingDebug, false)

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings from path. An empty path means DefaultPath; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if path == "" {
		path = DefaultPath()
	}
	path = ExpandHome(path)

	v := newViper()
	read := ""
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType(constants.SettingsFileType)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
		read = path
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	cfg.Path = read
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Relay.URL) == "" {
		return fmt.Errorf("%s must not be empty", constants.SettingRelayURL)
	}
	if !strings.HasPrefix(c.Relay.URL, "http://") && !strings.HasPrefix(c.Relay.URL, "https://") {
		return fmt.Errorf("%s must be an http(s) URL, got %q", constants.SettingRelayURL, c.Relay.URL)
	}
	if strings.TrimSpace(c.Device.Name) == "" {
		return fmt.Errorf("%s must not be empty", constants.SettingDeviceName)
	}
	return nil
}

// Save writes the given settings to path as YAML, creating the directory.
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	v := viper.New()
	v.Set(constants.SettingRelayURL, cfg.Relay.URL)
	v.Set(constants.SettingRelayListen, cfg.Relay.Listen)
	if cfg.Relay.DatabaseURL != "" {
		v.Set(constants.SettingRelayDatabaseURL, cfg.Relay.DatabaseURL)
	}
	v.Set(constants.SettingDeviceName, cfg.Device.Name)
	v.Set(constants.SettingAutoBackup, cfg.Backup.Automatic)
	v.Set(constants.SettingDebug, cfg.Debug)
	v.SetConfigType(constants.SettingsFileType)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	return nil
}
