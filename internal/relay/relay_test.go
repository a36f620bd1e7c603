package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/habitsync/internal/constants"
)

var account = strings.Repeat("ab", 32)

func setupRelay(t *testing.T) (*Client, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	srv := httptest.NewServer(NewServer(store).Router())
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	return client, store
}

func TestValidAccount(t *testing.T) {
	assert.True(t, ValidAccount(account))
	assert.False(t, ValidAccount(""))
	assert.False(t, ValidAccount(strings.Repeat("AB", 32)))
	assert.False(t, ValidAccount(strings.Repeat("zz", 32)))
	assert.False(t, ValidAccount(account+"00"))
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, account)
	require.ErrorIs(t, err, ErrNotFound)

	// Nothing stored: any base is accepted.
	require.NoError(t, m.Put(ctx, account, Blob{LastModified: 10, State: []byte("a")}, 3))

	err = m.Put(ctx, account, Blob{LastModified: 20, State: []byte("b")}, 5)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(10), conflict.Current.LastModified)
	assert.Equal(t, []byte("a"), conflict.Current.State)

	require.NoError(t, m.Put(ctx, account, Blob{LastModified: 20, State: []byte("b")}, 10))
	got, err := m.Get(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, Blob{LastModified: 20, State: []byte("b")}, got)

	// Returned blobs do not alias the stored one.
	got.State[0] = 'x'
	again, _ := m.Get(ctx, account)
	assert.Equal(t, []byte("b"), again.State)
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRelay(t)

	require.NoError(t, client.Health(ctx))

	_, err := client.Get(ctx, account)
	require.ErrorIs(t, err, ErrNotFound)

	first := Blob{LastModified: 100, State: []byte{0x01, 0x02, 0xff}}
	require.NoError(t, client.Put(ctx, account, first, 0))

	got, err := client.Get(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	// A stale writer gets the current blob back.
	err = client.Put(ctx, account, Blob{LastModified: 150, State: []byte("stale")}, 50)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first, conflict.Current)

	require.NoError(t, client.Put(ctx, account, Blob{LastModified: 200, State: []byte("next")}, 100))
	got, err = client.Get(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.LastModified)
}

func TestConcurrentWritersOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRelay(t)
	require.NoError(t, client.Put(ctx, account, Blob{LastModified: 1, State: []byte("base")}, 0))

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- client.Put(ctx, account, Blob{LastModified: int64(10 + i), State: []byte{byte(i)}}, 1)
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		var conflict *ConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestServerRejectsBadRequests(t *testing.T) {
	router := NewServer(NewMemoryStore()).Router()
	do := func(method, path string, body []byte) int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
		return rec.Code
	}

	statePath := constants.RelayStatePath + "/" + account
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, constants.RelayStatePath+"/not-an-account", nil))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, statePath, []byte("{")))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, statePath, []byte(`{"lastModified": 1}`)))
	assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodPost, statePath, nil))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz", nil))

	huge, err := json.Marshal(putRequest{LastModified: 1, State: bytes.Repeat([]byte{1}, constants.RelayMaxBodyBytes)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(http.MethodPut, statePath, huge))
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://relay", "relay.example.com", "http://"} {
		_, err := NewClient(u, nil)
		assert.Error(t, err, u)
	}
	c, err := NewClient("https://relay.example.com/", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com/v1/state/"+account, c.stateURL(account))
}

func TestClientReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "maintenance")
	}))
	defer srv.Close()
	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.Get(context.Background(), account)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "maintenance")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(NewMemoryStore()).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	assert.NoError(t, <-done)
}
