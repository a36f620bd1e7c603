// Package syncer keeps the local snapshot and the relay's copy converged.
// A cycle pushes local state with a compare-and-swap; when another device
// got there first it merges the relay's state in and pushes the result.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/habitsync/internal/backup"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	apperrors "github.com/julianstephens/habitsync/internal/errors"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/migration"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/relay"
	"github.com/julianstephens/habitsync/internal/storage"
)

// ErrTooManyConflicts is returned when other devices kept winning the race
// for every attempt of a cycle.
var ErrTooManyConflicts = errors.New("sync did not converge, other devices keep writing")

// Backupper takes a backup before a merged snapshot replaces local state.
type Backupper interface {
	CreateBackup(reason string) (string, error)
}

type Options struct {
	Store   storage.Provider
	Remote  relay.BlobStore
	Cipher  encryption.Cipher
	Account string
	// Backups is optional.
	Backups Backupper
	// Lock serialises snapshot read-modify-write with other writers of
	// Store, such as the habit service.
	Lock        sync.Locker
	Now         func() time.Time
	MaxAttempts int
}

// Status is what the UI shows about sync.
type Status struct {
	State      string
	LastSyncAt *time.Time
	Err        error
}

type Syncer struct {
	opts Options

	mu      sync.Mutex
	running bool
	pending bool
	idle    chan struct{}
	ran     bool
	lastErr error
	lastAt  *time.Time
}

func New(opts Options) (*Syncer, error) {
	if opts.Store == nil || opts.Remote == nil || opts.Cipher == nil {
		return nil, fmt.Errorf("syncer needs a store, a remote and a cipher")
	}
	if !relay.ValidAccount(opts.Account) {
		return nil, relay.ErrInvalidAccount
	}
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.SyncMaxAttempts
	}
	idle := make(chan struct{})
	close(idle)
	return &Syncer{opts: opts, idle: idle}, nil
}

// RequestSync starts a cycle in the background. While one is running,
// further requests collapse into a single follow-up cycle.
func (s *Syncer) RequestSync(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.pending = true
		return
	}
	s.running = true
	s.idle = make(chan struct{})
	go s.run(ctx, s.idle)
}

func (s *Syncer) run(ctx context.Context, idle chan struct{}) {
	for {
		err := s.cycle(ctx)
		s.finish(err)

		s.mu.Lock()
		if !s.pending || ctx.Err() != nil {
			s.running = false
			s.pending = false
			close(idle)
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

// Wait blocks until no cycle is running.
func (s *Syncer) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync requests a cycle and waits for it.
func (s *Syncer) Sync(ctx context.Context) error {
	s.RequestSync(ctx)
	if err := s.Wait(ctx); err != nil {
		return err
	}
	return s.Status().Err
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{LastSyncAt: s.lastAt, Err: s.lastErr}
	switch {
	case s.running || !s.ran:
		st.State = constants.SyncStatusPending
	default:
		st.State = apperrors.SyncStatus(s.lastErr)
	}
	return st
}

func (s *Syncer) finish(err error) {
	now := s.opts.Now()
	s.mu.Lock()
	s.ran = true
	s.lastErr = err
	if err == nil {
		s.lastAt = &now
	}
	s.mu.Unlock()

	if err != nil {
		if apperrors.IsFatalSync(err) {
			logger.Error("Sync failed", "error", err)
		} else {
			logger.Warn("Sync failed", "error", err)
		}
	}

	s.opts.Lock.Lock()
	defer s.opts.Lock.Unlock()
	state, stErr := s.opts.Store.GetSyncState()
	if stErr != nil {
		logger.Warn("Failed to read sync state", "error", stErr)
		return
	}
	state.LastError = ""
	if err != nil {
		state.LastError = err.Error()
	} else {
		state.LastSyncAt = &now
	}
	if stErr := s.opts.Store.SaveSyncState(state); stErr != nil {
		logger.Warn("Failed to save sync state", "error", stErr)
	}
}

func (s *Syncer) cycle(ctx context.Context) error {
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		done, err := s.attempt(ctx)
		if err != nil || done {
			return err
		}
		logger.Debug("Relay changed during sync, retrying", "attempt", attempt)
	}
	return ErrTooManyConflicts
}

// attempt reports done when local state and the relay agree.
func (s *Syncer) attempt(ctx context.Context) (bool, error) {
	local, state, err := s.load()
	if err != nil {
		return false, err
	}

	var remote relay.Blob
	if local.LastModified != state.RemoteLastModified || state.RemoteLastModified == 0 {
		err := s.push(ctx, local, state.RemoteLastModified)
		var conflict *relay.ConflictError
		switch {
		case err == nil:
			logger.Debug("Pushed snapshot", "lastModified", local.LastModified)
			return true, s.recordRemote(local.LastModified)
		case errors.As(err, &conflict):
			remote = conflict.Current
		default:
			return false, err
		}
	} else {
		remote, err = s.opts.Remote.Get(ctx, s.opts.Account)
		if errors.Is(err, relay.ErrNotFound) {
			logger.Warn("Relay has no state for this account, uploading again")
			return false, s.recordRemote(0)
		}
		if err != nil {
			return false, err
		}
		if remote.LastModified == state.RemoteLastModified {
			return true, nil
		}
	}

	pushNeeded, err := s.integrate(ctx, remote)
	if err != nil {
		return false, err
	}
	return !pushNeeded, nil
}

// Pull merges the relay's state into local state without pushing.
func (s *Syncer) Pull(ctx context.Context) error {
	_, state, err := s.load()
	if err != nil {
		return err
	}
	remote, err := s.opts.Remote.Get(ctx, s.opts.Account)
	if errors.Is(err, relay.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if remote.LastModified == state.RemoteLastModified {
		return nil
	}
	_, err = s.integrate(ctx, remote)
	return err
}

// integrate merges remote into the current local snapshot and saves the
// result. It reports whether the merged state still has to be pushed.
func (s *Syncer) integrate(ctx context.Context, blob relay.Blob) (bool, error) {
	remote, err := s.open(blob)
	if err != nil {
		return false, err
	}

	s.opts.Lock.Lock()
	defer s.opts.Lock.Unlock()

	// Reloaded under the lock: local edits made while we were on the network
	// take part in the merge.
	local, err := s.opts.Store.LoadSnapshot()
	if err != nil {
		return false, fmt.Errorf("failed to load local snapshot: %w", err)
	}
	res := <-merge.MergeAsync(ctx, local, remote)
	if res.Err != nil {
		return false, res.Err
	}
	merged := res.Snapshot

	pushNeeded := !models.ContentEqual(merged, remote)
	if pushNeeded {
		merged.LastModified = models.NextStamp(max(local.LastModified, blob.LastModified), s.opts.Now())
	} else {
		merged.LastModified = blob.LastModified
	}

	if !models.ContentEqual(merged, local) {
		s.backupLocal()
	}
	if err := s.opts.Store.SaveSnapshot(merged); err != nil {
		return false, fmt.Errorf("failed to save merged snapshot: %w", err)
	}

	state, err := s.opts.Store.GetSyncState()
	if err != nil {
		return false, err
	}
	state.RemoteLastModified = blob.LastModified
	if err := s.opts.Store.SaveSyncState(state); err != nil {
		return false, err
	}
	logger.Debug("Merged relay state", "remote", blob.LastModified, "local", local.LastModified, "merged", merged.LastModified, "push", pushNeeded)
	return pushNeeded, nil
}

func (s *Syncer) backupLocal() {
	if s.opts.Backups == nil {
		return
	}
	if _, err := s.opts.Backups.CreateBackup(backup.ReasonPreMerge); err != nil {
		logger.Warn("Failed to back up before merge", "error", err)
	}
}

func (s *Syncer) load() (*models.Snapshot, storage.SyncState, error) {
	s.opts.Lock.Lock()
	defer s.opts.Lock.Unlock()
	local, err := s.opts.Store.LoadSnapshot()
	if err != nil {
		return nil, storage.SyncState{}, fmt.Errorf("failed to load local snapshot: %w", err)
	}
	state, err := s.opts.Store.GetSyncState()
	if err != nil {
		return nil, storage.SyncState{}, err
	}
	return local, state, nil
}

func (s *Syncer) recordRemote(stamp int64) error {
	s.opts.Lock.Lock()
	defer s.opts.Lock.Unlock()
	state, err := s.opts.Store.GetSyncState()
	if err != nil {
		return err
	}
	state.RemoteLastModified = stamp
	return s.opts.Store.SaveSyncState(state)
}

func (s *Syncer) push(ctx context.Context, snap *models.Snapshot, base int64) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	sealed, err := s.opts.Cipher.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}
	return s.opts.Remote.Put(ctx, s.opts.Account, relay.Blob{LastModified: snap.LastModified, State: sealed}, base)
}

// open decrypts and migrates a relay blob.
func (s *Syncer) open(blob relay.Blob) (*models.Snapshot, error) {
	raw, err := s.opts.Cipher.Decrypt(blob.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay state: %w", err)
	}
	snap, report, err := migration.MigrateSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merge.ErrSchemaMismatch, err)
	}
	if report.Dropped > 0 {
		logger.Warn("Dropped corrupt entries from relay state", "count", report.Dropped)
	}
	return snap, nil
}
