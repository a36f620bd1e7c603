// Package relay moves encrypted snapshots between devices. The server
// stores one opaque blob per account and only accepts a write that was based
// on the blob it currently holds.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound       = errors.New("no state stored for account")
	ErrInvalidAccount = errors.New("invalid account id")
)

// Blob is an encrypted snapshot and the lastModified of the plaintext it
// seals. The relay never looks inside State.
type Blob struct {
	LastModified int64  `json:"lastModified"`
	State        []byte `json:"state"`
}

// ConflictError is returned when a write's base no longer matches the stored
// blob. Current is what the relay holds.
type ConflictError struct {
	Current Blob
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("relay holds a different state (lastModified %d)", e.Current.LastModified)
}

// BlobStore persists blobs. Put stores blob when nothing is stored for
// account or the stored LastModified equals base; otherwise it returns a
// *ConflictError carrying the stored blob.
type BlobStore interface {
	Get(ctx context.Context, account string) (Blob, error)
	Put(ctx context.Context, account string, blob Blob, base int64) error
}

// ValidAccount reports whether id looks like an account id: 64 lowercase hex
// characters.
func ValidAccount(id string) bool {
	if len(id) != 64 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// MemoryStore is an in-process BlobStore.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string]Blob
}

var _ BlobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob)}
}

func (m *MemoryStore) Get(_ context.Context, account string) (Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[account]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return cloneBlob(b), nil
}

func (m *MemoryStore) Put(_ context.Context, account string, blob Blob, base int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.blobs[account]; ok && cur.LastModified != base {
		return &ConflictError{Current: cloneBlob(cur)}
	}
	m.blobs[account] = cloneBlob(blob)
	return nil
}

func cloneBlob(b Blob) Blob {
	b.State = append([]byte(nil), b.State...)
	return b
}
