package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	apperrors "github.com/julianstephens/habitsync/internal/errors"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/relay"
	"github.com/julianstephens/habitsync/internal/storage"
)

type device struct {
	store  *storage.JSONStore
	syncer *Syncer
}

func newDevice(t *testing.T, remote relay.BlobStore, key []byte, opts ...func(*Options)) *device {
	t.Helper()
	store := storage.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, store.Init())

	box, err := encryption.NewBox(key)
	require.NoError(t, err)

	o := Options{
		Store:   store,
		Remote:  remote,
		Cipher:  box,
		Account: encryption.AccountID(key),
	}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := New(o)
	require.NoError(t, err)
	return &device{store: store, syncer: s}
}

func (d *device) snapshot(t *testing.T) *models.Snapshot {
	t.Helper()
	snap, err := d.store.LoadSnapshot()
	require.NoError(t, err)
	return snap
}

func (d *device) addHabit(t *testing.T, id string) {
	t.Helper()
	snap := d.snapshot(t)
	snap.Habits = append(snap.Habits, models.Habit{
		ID:        id,
		CreatedOn: "2024-03-01",
		ScheduleHistory: []models.ScheduleEpoch{{
			StartDate: "2024-03-01",
			Name:      "Habit " + id,
			Goal:      models.Goal{Type: models.GoalCheck},
			Times:     []habitlog.Slot{habitlog.SlotMorning},
			Frequency: models.Frequency{Type: models.FrequencyDaily},
		}},
	})
	snap.Touch(time.Now())
	require.NoError(t, d.store.SaveSnapshot(snap))
}

func (d *device) syncState(t *testing.T) storage.SyncState {
	t.Helper()
	state, err := d.store.GetSyncState()
	require.NoError(t, err)
	return state
}

func habitIDs(s *models.Snapshot) []string {
	ids := make([]string, 0, len(s.Habits))
	for _, h := range s.Habits {
		ids = append(ids, h.ID)
	}
	return ids
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestNewValidatesOptions(t *testing.T) {
	key := testKey(t)
	box, err := encryption.NewBox(key)
	require.NoError(t, err)
	store := storage.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))

	_, err = New(Options{Store: store, Cipher: box, Account: encryption.AccountID(key)})
	assert.Error(t, err)

	_, err = New(Options{Store: store, Remote: relay.NewMemoryStore(), Cipher: box, Account: "nope"})
	assert.ErrorIs(t, err, relay.ErrInvalidAccount)
}

func TestFirstSyncUploads(t *testing.T) {
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	a.addHabit(t, "evening-stretch")

	assert.Equal(t, constants.SyncStatusPending, a.syncer.Status().State)
	require.NoError(t, a.syncer.Sync(context.Background()))

	local := a.snapshot(t)
	blob, err := remote.Get(context.Background(), encryption.AccountID(key))
	require.NoError(t, err)
	assert.Equal(t, local.LastModified, blob.LastModified)
	assert.NotContains(t, string(blob.State), "evening-stretch", "relay must only see ciphertext")

	state := a.syncState(t)
	assert.Equal(t, local.LastModified, state.RemoteLastModified)
	assert.NotNil(t, state.LastSyncAt)
	assert.Empty(t, state.LastError)

	status := a.syncer.Status()
	assert.Equal(t, constants.SyncStatusOK, status.State)
	assert.NotNil(t, status.LastSyncAt)
}

func TestDevicesConverge(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	b := newDevice(t, remote, key)

	a.addHabit(t, "from-a")
	b.addHabit(t, "from-b")

	require.NoError(t, a.syncer.Sync(ctx))
	// b's push conflicts, so it merges and pushes the union.
	require.NoError(t, b.syncer.Sync(ctx))
	// a has nothing new and pulls the union.
	require.NoError(t, a.syncer.Sync(ctx))

	snapA, snapB := a.snapshot(t), b.snapshot(t)
	assert.ElementsMatch(t, []string{"from-a", "from-b"}, habitIDs(snapA))
	assert.True(t, models.ContentEqual(snapA, snapB))
	assert.Equal(t, snapA.LastModified, snapB.LastModified)

	blob, err := remote.Get(ctx, encryption.AccountID(key))
	require.NoError(t, err)
	assert.Equal(t, snapB.LastModified, blob.LastModified)
	assert.Equal(t, blob.LastModified, a.syncState(t).RemoteLastModified)
}

func TestMergedStampIsAheadOfBothSides(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	b := newDevice(t, remote, key)

	a.addHabit(t, "from-a")
	require.NoError(t, a.syncer.Sync(ctx))
	stampA := a.snapshot(t).LastModified

	b.addHabit(t, "from-b")
	stampB := b.snapshot(t).LastModified
	require.NoError(t, b.syncer.Sync(ctx))

	merged := b.snapshot(t).LastModified
	assert.Greater(t, merged, stampA)
	assert.Greater(t, merged, stampB)
}

func TestFreshDeviceAdoptsRemoteStamp(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	a.addHabit(t, "h1")
	require.NoError(t, a.syncer.Sync(ctx))
	stamp := a.snapshot(t).LastModified

	b := newDevice(t, remote, key)
	require.NoError(t, b.syncer.Sync(ctx))

	snapB := b.snapshot(t)
	assert.Equal(t, []string{"h1"}, habitIDs(snapB))
	assert.Equal(t, stamp, snapB.LastModified)

	blob, err := remote.Get(ctx, encryption.AccountID(key))
	require.NoError(t, err)
	assert.Equal(t, stamp, blob.LastModified, "nothing new to push")
}

func TestPullDoesNotPush(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	b := newDevice(t, remote, key)

	a.addHabit(t, "from-a")
	require.NoError(t, a.syncer.Sync(ctx))
	stamp := a.snapshot(t).LastModified

	b.addHabit(t, "from-b")
	require.NoError(t, b.syncer.Pull(ctx))

	assert.ElementsMatch(t, []string{"from-a", "from-b"}, habitIDs(b.snapshot(t)))
	blob, err := remote.Get(ctx, encryption.AccountID(key))
	require.NoError(t, err)
	assert.Equal(t, stamp, blob.LastModified)

	// Pulling again with nothing new is a no-op.
	before := b.snapshot(t)
	require.NoError(t, b.syncer.Pull(ctx))
	assert.Equal(t, before.LastModified, b.snapshot(t).LastModified)
}

func TestPullWithEmptyRelay(t *testing.T) {
	a := newDevice(t, relay.NewMemoryStore(), testKey(t))
	assert.NoError(t, a.syncer.Pull(context.Background()))
}

func TestWrongKeyIsFatal(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	a := newDevice(t, remote, key)
	a.addHabit(t, "h1")
	require.NoError(t, a.syncer.Sync(ctx))

	// Same account, different encryption key.
	b := newDevice(t, remote, testKey(t), func(o *Options) {
		o.Account = encryption.AccountID(key)
	})
	b.addHabit(t, "h2")
	before := b.snapshot(t)

	err := b.syncer.Sync(ctx)
	require.ErrorIs(t, err, encryption.ErrDecryptionFailed)
	assert.True(t, apperrors.IsFatalSync(err))
	assert.Equal(t, constants.SyncStatusError, b.syncer.Status().State)
	assert.NotEmpty(t, b.syncState(t).LastError)
	assert.Equal(t, before, b.snapshot(t), "local state must survive a failed sync")
}

func TestNewerRemoteSchemaIsFatal(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	box, err := encryption.NewBox(key)
	require.NoError(t, err)

	future := models.NewSnapshot()
	future.Version = models.SchemaVersion + 1
	future.LastModified = 42
	raw, err := json.Marshal(future)
	require.NoError(t, err)
	sealed, err := box.Encrypt(raw)
	require.NoError(t, err)
	require.NoError(t, remote.Put(ctx, encryption.AccountID(key), relay.Blob{LastModified: 42, State: sealed}, 0))

	a := newDevice(t, remote, key)
	a.addHabit(t, "h1")
	err = a.syncer.Sync(ctx)
	require.ErrorIs(t, err, merge.ErrSchemaMismatch)
	assert.Equal(t, constants.SyncStatusError, a.syncer.Status().State)
}

func TestUnreachableRelayIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := relay.NewClient(url, &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	a := newDevice(t, client, testKey(t))
	a.addHabit(t, "h1")

	err = a.syncer.Sync(context.Background())
	require.Error(t, err)
	assert.False(t, apperrors.IsFatalSync(err))
	assert.Equal(t, constants.SyncStatusOffline, a.syncer.Status().State)
	assert.Zero(t, a.syncState(t).RemoteLastModified)
}

func TestSyncOverHTTPRelay(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(relay.NewServer(relay.NewMemoryStore()).Router())
	t.Cleanup(srv.Close)

	key := testKey(t)
	newClient := func() *relay.Client {
		c, err := relay.NewClient(srv.URL, srv.Client())
		require.NoError(t, err)
		return c
	}
	a := newDevice(t, newClient(), key)
	b := newDevice(t, newClient(), key)
	a.addHabit(t, "from-a")
	b.addHabit(t, "from-b")

	require.NoError(t, a.syncer.Sync(ctx))
	require.NoError(t, b.syncer.Sync(ctx))
	require.NoError(t, a.syncer.Sync(ctx))

	assert.True(t, models.ContentEqual(a.snapshot(t), b.snapshot(t)))
}

// racingRemote answers every push with a conflict, as if another device
// always wrote first.
type racingRemote struct {
	current relay.Blob
}

func (r *racingRemote) Get(context.Context, string) (relay.Blob, error) {
	return r.current, nil
}

func (r *racingRemote) Put(context.Context, string, relay.Blob, int64) error {
	return &relay.ConflictError{Current: r.current}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	key := testKey(t)

	// Seed a real remote state from another device.
	seed := relay.NewMemoryStore()
	other := newDevice(t, seed, key)
	other.addHabit(t, "theirs")
	require.NoError(t, other.syncer.Sync(context.Background()))
	blob, err := seed.Get(context.Background(), encryption.AccountID(key))
	require.NoError(t, err)

	a := newDevice(t, &racingRemote{current: blob}, key, func(o *Options) {
		o.MaxAttempts = 2
	})
	a.addHabit(t, "mine")

	err = a.syncer.Sync(context.Background())
	require.ErrorIs(t, err, ErrTooManyConflicts)
	assert.ElementsMatch(t, []string{"mine", "theirs"}, habitIDs(a.snapshot(t)), "merged state is kept locally")
}

// countingRemote wraps a MemoryStore and can hold the first Put until
// released.
type countingRemote struct {
	*relay.MemoryStore
	puts, gets atomic.Int32
	entered    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func (c *countingRemote) Get(ctx context.Context, account string) (relay.Blob, error) {
	c.gets.Add(1)
	return c.MemoryStore.Get(ctx, account)
}

func (c *countingRemote) Put(ctx context.Context, account string, blob relay.Blob, base int64) error {
	c.puts.Add(1)
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.MemoryStore.Put(ctx, account, blob, base)
}

func TestRequestsDuringCycleCollapse(t *testing.T) {
	ctx := context.Background()
	remote := &countingRemote{
		MemoryStore: relay.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	a := newDevice(t, remote, testKey(t))
	a.addHabit(t, "h1")

	a.syncer.RequestSync(ctx)
	<-remote.entered
	assert.Equal(t, constants.SyncStatusPending, a.syncer.Status().State)

	a.syncer.RequestSync(ctx)
	a.syncer.RequestSync(ctx)
	a.syncer.RequestSync(ctx)
	close(remote.release)

	require.NoError(t, a.syncer.Wait(ctx))
	// One push, then a single follow-up cycle that finds nothing to do.
	assert.Equal(t, int32(1), remote.puts.Load())
	assert.Equal(t, int32(1), remote.gets.Load())
	assert.Equal(t, constants.SyncStatusOK, a.syncer.Status().State)
}

func TestWaitHonoursContext(t *testing.T) {
	remote := &countingRemote{
		MemoryStore: relay.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	a := newDevice(t, remote, testKey(t))
	a.syncer.RequestSync(context.Background())
	<-remote.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.syncer.Wait(ctx), context.DeadlineExceeded)

	close(remote.release)
	require.NoError(t, a.syncer.Wait(context.Background()))
}

type recordingBackups struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingBackups) CreateBackup(reason string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return "", nil
}

func TestBacksUpBeforeReplacingLocalState(t *testing.T) {
	ctx := context.Background()
	remote := relay.NewMemoryStore()
	key := testKey(t)
	backups := &recordingBackups{}

	a := newDevice(t, remote, key)
	a.addHabit(t, "from-a")
	require.NoError(t, a.syncer.Sync(ctx))

	b := newDevice(t, remote, key, func(o *Options) { o.Backups = backups })
	b.addHabit(t, "from-b")
	require.NoError(t, b.syncer.Sync(ctx))
	assert.Equal(t, []string{"pre-merge"}, backups.reasons)

	// In sync: no merge, no backup.
	require.NoError(t, b.syncer.Sync(ctx))
	assert.Len(t, backups.reasons, 1)
}

func TestRelayLosingStateReuploads(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)
	first := relay.NewMemoryStore()
	a := newDevice(t, first, key)
	a.addHabit(t, "h1")
	require.NoError(t, a.syncer.Sync(ctx))

	// Point the same device at an empty relay.
	empty := relay.NewMemoryStore()
	a.syncer.opts.Remote = empty
	require.NoError(t, a.syncer.Sync(ctx))

	blob, err := empty.Get(ctx, encryption.AccountID(key))
	require.NoError(t, err)
	assert.Equal(t, a.snapshot(t).LastModified, blob.LastModified)
}
