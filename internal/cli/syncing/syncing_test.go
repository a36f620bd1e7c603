package syncing

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/merge"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/relay"
	"github.com/julianstephens/habitsync/internal/service"
	"github.com/julianstephens/habitsync/internal/storage"
)

func newDevice(t *testing.T, remote relay.BlobStore, key []byte) *cli.Context {
	t.Helper()
	store := storage.NewJSONStore(filepath.Join(t.TempDir(), "habitsync.json"))
	require.NoError(t, store.Init())
	return &cli.Context{Store: store, Remote: remote, Key: key}
}

func addHabit(t *testing.T, ctx *cli.Context, name string) {
	t.Helper()
	_, err := ctx.Habits().Create(service.NewHabit{
		Name:      name,
		Goal:      models.Goal{Type: models.GoalCheck},
		Times:     []habitlog.Slot{habitlog.SlotMorning},
		Frequency: models.Frequency{Type: models.FrequencyDaily},
		StartDate: "2024-03-01",
	})
	require.NoError(t, err)
}

func habitNames(t *testing.T, ctx *cli.Context) []string {
	t.Helper()
	snap, err := ctx.Store.LoadSnapshot()
	require.NoError(t, err)
	var names []string
	for i := range snap.Habits {
		names = append(names, snap.Habits[i].Name())
	}
	return names
}

func TestSyncCmd_DevicesConverge(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	remote := relay.NewMemoryStore()

	phone := newDevice(t, remote, key)
	laptop := newDevice(t, remote, key)
	addHabit(t, phone, "Stretch")
	addHabit(t, laptop, "Read")

	require.NoError(t, (&SyncCmd{Timeout: 5 * time.Second}).Run(phone))
	require.NoError(t, (&SyncCmd{Timeout: 5 * time.Second}).Run(laptop))
	require.NoError(t, (&SyncCmd{Timeout: 5 * time.Second}).Run(phone))

	assert.ElementsMatch(t, []string{"Stretch", "Read"}, habitNames(t, phone))
	assert.ElementsMatch(t, []string{"Stretch", "Read"}, habitNames(t, laptop))

	state, err := phone.Store.GetSyncState()
	require.NoError(t, err)
	assert.NotNil(t, state.LastSyncAt)
	assert.Empty(t, state.LastError)
}

func TestPullCmd(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	remote := relay.NewMemoryStore()

	laptop := newDevice(t, remote, key)
	require.NoError(t, (&PullCmd{Timeout: 5 * time.Second}).Run(laptop), "empty relay")

	phone := newDevice(t, remote, key)
	addHabit(t, phone, "Stretch")
	require.NoError(t, (&SyncCmd{Timeout: 5 * time.Second}).Run(phone))

	addHabit(t, laptop, "Read")
	require.NoError(t, (&PullCmd{Timeout: 5 * time.Second}).Run(laptop))
	assert.ElementsMatch(t, []string{"Stretch", "Read"}, habitNames(t, laptop))

	// Pull never uploads, so the relay still only has the phone's habit
	blob, err := remote.Get(context.Background(), encryption.AccountID(key))
	require.NoError(t, err)
	box, err := encryption.NewBox(key)
	require.NoError(t, err)
	plain, err := box.Decrypt(blob.State)
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "Read")
}

func TestSyncCmd_NeedsKey(t *testing.T) {
	ctx := newDevice(t, relay.NewMemoryStore(), []byte("short"))
	assert.Error(t, (&SyncCmd{Timeout: time.Second}).Run(ctx))
}

func TestReport(t *testing.T) {
	assert.NoError(t, report(constants.SyncStatusOK, nil))
	assert.NoError(t, report(constants.SyncStatusOffline, context.DeadlineExceeded))

	err := report(constants.SyncStatusError, fmt.Errorf("open: %w", merge.ErrSchemaMismatch))
	require.Error(t, err)
	assert.ErrorIs(t, err, merge.ErrSchemaMismatch)
}

func TestStatusCmd(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	ctx := newDevice(t, relay.NewMemoryStore(), key)
	addHabit(t, ctx, "Stretch")

	assert.NoError(t, (&StatusCmd{}).Run(ctx))
	require.NoError(t, (&SyncCmd{Timeout: 5 * time.Second}).Run(ctx))
	assert.NoError(t, (&StatusCmd{}).Run(ctx))
}

func TestExportImport(t *testing.T) {
	phone := newDevice(t, nil, nil)
	addHabit(t, phone, "Stretch")

	out := filepath.Join(t.TempDir(), "phone.json")
	require.NoError(t, (&ExportCmd{Output: out}).Run(phone))

	laptop := newDevice(t, nil, nil)
	addHabit(t, laptop, "Read")
	require.NoError(t, (&ImportCmd{File: out}).Run(laptop))
	assert.ElementsMatch(t, []string{"Stretch", "Read"}, habitNames(t, laptop))

	before, err := laptop.Store.LoadSnapshot()
	require.NoError(t, err)
	require.NoError(t, (&ImportCmd{File: out}).Run(laptop))
	after, err := laptop.Store.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, before.LastModified, after.LastModified, "re-importing changes nothing")
}

func TestMergeCmd(t *testing.T) {
	phone := newDevice(t, nil, nil)
	addHabit(t, phone, "Stretch")
	laptop := newDevice(t, nil, nil)
	addHabit(t, laptop, "Read")

	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, (&ExportCmd{Output: a}).Run(phone))
	require.NoError(t, (&ExportCmd{Output: b}).Run(laptop))

	out := filepath.Join(dir, "merged.json")
	require.NoError(t, (&MergeCmd{A: a, B: b, Output: out}).Run(&cli.Context{}))

	merged, err := cli.ReadSnapshotFile(out)
	require.NoError(t, err)
	assert.Len(t, merged.Habits, 2)

	sa, err := cli.ReadSnapshotFile(a)
	require.NoError(t, err)
	sb, err := cli.ReadSnapshotFile(b)
	require.NoError(t, err)
	assert.Greater(t, merged.LastModified, max(sa.LastModified, sb.LastModified))

	// Local storage is untouched
	assert.Equal(t, []string{"Stretch"}, habitNames(t, phone))
}
