package cli

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/habitsync/internal/backup"
	"github.com/julianstephens/habitsync/internal/config"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/keyring"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/relay"
	"github.com/julianstephens/habitsync/internal/service"
	"github.com/julianstephens/habitsync/internal/storage"
	"github.com/julianstephens/habitsync/internal/storage/sqlite"
	"github.com/julianstephens/habitsync/internal/syncer"
)

type Context struct {
	Store  storage.Provider
	Config *config.Config
	// SettingsPath is where settings changes are written.
	SettingsPath string
	// Remote overrides the relay client built from Config.
	Remote relay.BlobStore
	// Key overrides the sync key from the keyring.
	Key []byte

	lock sync.Mutex
}

// NewStore picks the storage backend from the path: a .json file is a
// JSONStore, anything else a sqlite database.
func NewStore(path string) storage.Provider {
	path = config.ExpandHome(path)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return storage.NewJSONStore(path)
	}
	return sqlite.NewStore(path)
}

// Settings returns the loaded settings, or the defaults when none were loaded.
func (c *Context) Settings() *config.Config {
	if c.Config == nil {
		c.Config = &config.Config{
			Relay:  config.RelayConfig{URL: constants.DefaultRelayURL, Listen: constants.RelayDefaultAddress},
			Device: config.DeviceConfig{Name: constants.DefaultDeviceName},
			Backup: config.BackupConfig{Automatic: constants.DefaultAutoBackup},
		}
	}
	return c.Config
}

// Habits returns the habit service over the context's store.
func (c *Context) Habits() *service.HabitService {
	return service.NewHabitService(c.Store, &c.lock)
}

// BackupManager returns a backup manager when the store is a sqlite database.
func (c *Context) BackupManager() (*backup.Manager, bool) {
	if _, ok := c.Store.(*sqlite.Store); !ok {
		return nil, false
	}
	return backup.NewManager(c.Store.GetConfigPath()), true
}

// PerformAutomaticBackup creates an automatic backup and silently handles errors
func (c *Context) PerformAutomaticBackup() {
	if !c.Settings().Backup.Automatic {
		return
	}
	mgr, ok := c.BackupManager()
	if !ok {
		return
	}
	if _, err := mgr.CreateBackup(backup.ReasonManual); err != nil {
		// Log warning but don't interrupt user workflow
		logger.Warn("Automatic backup failed", "error", err)
	}
}

// SyncKey returns the sync key from the context or the OS keyring.
func (c *Context) SyncKey() ([]byte, error) {
	if c.Key != nil {
		return c.Key, nil
	}
	key, err := keyring.GetSyncKey()
	if err != nil {
		return nil, fmt.Errorf("no sync key available, run 'habitsync keyring init' first: %w", err)
	}
	return key, nil
}

// Syncer wires the store, relay, sync key and backups together.
func (c *Context) Syncer() (*syncer.Syncer, error) {
	key, err := c.SyncKey()
	if err != nil {
		return nil, err
	}
	box, err := encryption.NewBox(key)
	if err != nil {
		return nil, err
	}

	remote := c.Remote
	if remote == nil {
		client, err := relay.NewClient(c.Settings().Relay.URL, &http.Client{Timeout: constants.SyncRequestTimeout})
		if err != nil {
			return nil, err
		}
		remote = client
	}

	opts := syncer.Options{
		Store:   c.Store,
		Remote:  remote,
		Cipher:  box,
		Account: encryption.AccountID(key),
		Lock:    &c.lock,
	}
	if mgr, ok := c.BackupManager(); ok && c.Settings().Backup.Automatic {
		opts.Backups = mgr
	}
	return syncer.New(opts)
}

// ParseSlots parses a comma-separated list of times of day.
func ParseSlots(s string) ([]habitlog.Slot, error) {
	var slots []habitlog.Slot
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		slot, err := habitlog.ParseSlot(part)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("at least one time of day is required (morning, afternoon, evening)")
	}
	return slots, nil
}

// ParseWeekdays parses a comma-separated list of weekdays
func ParseWeekdays(s string) ([]time.Weekday, error) {
	parts := strings.Split(s, ",")
	var weekdays []time.Weekday

	dayMap := map[string]time.Weekday{
		"sun":       time.Sunday,
		"sunday":    time.Sunday,
		"mon":       time.Monday,
		"monday":    time.Monday,
		"tue":       time.Tuesday,
		"tuesday":   time.Tuesday,
		"wed":       time.Wednesday,
		"wednesday": time.Wednesday,
		"thu":       time.Thursday,
		"thursday":  time.Thursday,
		"fri":       time.Friday,
		"friday":    time.Friday,
		"sat":       time.Saturday,
		"saturday":  time.Saturday,
	}

	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if wd, ok := dayMap[part]; ok {
			weekdays = append(weekdays, wd)
		} else {
			// 0=Sunday, 6=Saturday
			num, err := strconv.Atoi(part)
			if err == nil && num >= 0 && num <= 6 {
				weekdays = append(weekdays, time.Weekday(num))
			} else {
				return nil, fmt.Errorf("invalid weekday: %s", part)
			}
		}
	}

	return weekdays, nil
}

// ParseFrequency builds a frequency from the --every/--days flags. every is
// "day", "N days" or "N weeks"; days is a weekday list and wins when set.
func ParseFrequency(every, days string) (models.Frequency, error) {
	if days != "" {
		wd, err := ParseWeekdays(days)
		if err != nil {
			return models.Frequency{}, err
		}
		return models.Frequency{Type: models.FrequencyDaysOfWeek, Days: wd}, nil
	}

	fields := strings.Fields(strings.ToLower(every))
	switch {
	case len(fields) == 0 || (len(fields) == 1 && (fields[0] == "day" || fields[0] == "daily")):
		return models.Frequency{Type: models.FrequencyDaily}, nil
	case len(fields) == 2:
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 1 {
			return models.Frequency{}, fmt.Errorf("invalid interval %q", every)
		}
		unit := strings.TrimSuffix(fields[1], "s") + "s"
		if unit != models.IntervalUnitDays && unit != models.IntervalUnitWeeks {
			return models.Frequency{}, fmt.Errorf("invalid interval unit %q (use days or weeks)", fields[1])
		}
		return models.Frequency{Type: models.FrequencyInterval, Amount: n, Unit: unit}, nil
	default:
		return models.Frequency{}, fmt.Errorf("invalid frequency %q (use \"day\", \"3 days\" or \"2 weeks\")", every)
	}
}

// FormatFrequency formats a frequency into a human-readable string
func FormatFrequency(f models.Frequency) string {
	switch f.Type {
	case models.FrequencyDaily:
		return "daily"
	case models.FrequencyDaysOfWeek:
		var days []string
		for _, wd := range f.Days {
			days = append(days, wd.String()[:3])
		}
		return fmt.Sprintf("weekly on %s", strings.Join(days, ","))
	case models.FrequencyInterval:
		unit := strings.TrimSuffix(f.Unit, "s")
		if f.Amount == 1 {
			return "every " + unit
		}
		return fmt.Sprintf("every %d %ss", f.Amount, unit)
	default:
		return "unknown"
	}
}

// ResolveDate defaults an empty date to today and validates the rest.
func ResolveDate(date, today string) (string, error) {
	if date == "" {
		return today, nil
	}
	if _, err := time.Parse(constants.DateFormat, date); err != nil {
		return "", fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD)", date)
	}
	return date, nil
}
