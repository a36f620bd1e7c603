// Package keyring keeps secrets in the OS keyring: the sync encryption key on
// clients and the database URL on relay hosts.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
)

var (
	// ErrNotFound is returned when no secret is stored under the entry
	ErrNotFound = errors.New("secret not found in keyring")
	// ErrKeyringUnavailable is returned when the OS keyring is not available
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

func get(user string) (string, error) {
	v, err := keyring.Get(constants.AppName, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

func set(user, value string) error {
	if err := keyring.Set(constants.AppName, user, value); err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return nil
}

func remove(user string) error {
	if err := keyring.Delete(constants.AppName, user); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete secret from keyring: %w", err)
	}
	return nil
}

// GetSyncKey returns the sync encryption key.
// Returns ErrNotFound if no key is stored.
func GetSyncKey() ([]byte, error) {
	encoded, err := get(constants.DefaultKeyringUser)
	if err != nil {
		return nil, err
	}
	key, err := encryption.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored sync key is corrupt: %w", err)
	}
	return key, nil
}

func SetSyncKey(key []byte) error {
	if len(key) != encryption.KeySize {
		return fmt.Errorf("%w: want %d bytes, got %d", encryption.ErrInvalidKey, encryption.KeySize, len(key))
	}
	return set(constants.DefaultKeyringUser, encryption.EncodeKey(key))
}

func DeleteSyncKey() error {
	return remove(constants.DefaultKeyringUser)
}

// GetRelayDatabaseURL returns the relay's postgres connection string.
func GetRelayDatabaseURL() (string, error) {
	return get(constants.RelayDBKeyringUser)
}

func SetRelayDatabaseURL(connStr string) error {
	if connStr == "" {
		return errors.New("connection string cannot be empty")
	}
	return set(constants.RelayDBKeyringUser, connStr)
}

func DeleteRelayDatabaseURL() error {
	return remove(constants.RelayDBKeyringUser)
}

// IsAvailable checks if the OS keyring is available on the current system.
// This is a best-effort check and may not catch all failure scenarios.
func IsAvailable() bool {
	_, err := keyring.Get(constants.AppName, "test-availability")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
