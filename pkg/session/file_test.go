package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))
}

func TestFileStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Session{
		Cookies:      "JSESSIONID=abc",
		AuthToken:    "tok-1",
		DatabaseName: "prod",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "JSESSIONID=abc", got.Cookies)
	assert.Equal(t, "tok-1", got.AuthToken)
	assert.Equal(t, "prod", got.DatabaseName)
	assert.False(t, got.CreatedAt.IsZero(), "zero CreatedAt should be filled in")
}

func TestFileStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_UniqueIDsSameMillisecond(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id, err := store.Create(ctx, &Session{Cookies: "c", CreatedAt: at})
		require.NoError(t, err)
		assert.False(t, seen[id], "id %q issued twice", id)
		seen[id] = true
	}
}

func TestFileStore_LatestTieBreak(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Create(ctx, &Session{Cookies: "first", CreatedAt: at})
	require.NoError(t, err)
	lastID, err := store.Create(ctx, &Session{Cookies: "second", CreatedAt: at})
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, lastID, latest.ID, "same timestamp: last inserted wins")
	assert.Equal(t, "second", latest.Cookies)
}

func TestFileStore_LatestNewestWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	newest, err := store.Create(ctx, &Session{
		Cookies:   "new",
		CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Session{
		Cookies:   "old",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, newest, latest.ID)
}

func TestFileStore_LatestEmpty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_UpdateAuth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Session{Cookies: "old", AuthToken: "old-tok"})
	require.NoError(t, err)

	require.NoError(t, store.UpdateAuth(ctx, id, "fresh", "fresh-tok"))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Cookies)
	assert.Equal(t, "fresh-tok", got.AuthToken)

	assert.ErrorIs(t, store.UpdateAuth(ctx, "missing", "c", "t"), ErrNotFound)
}

func TestFileStore_DeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Session{Cookies: "c"})
	require.NoError(t, err)

	removed, err := store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed, "second delete of same id reports nothing removed")
}

func TestFileStore_DeleteAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, &Session{Cookies: "c"})
		require.NoError(t, err)
	}

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_ListInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Create(ctx, &Session{Cookies: "c"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, sess := range list {
		assert.Equal(t, ids[i], sess.ID)
	}
}

func TestFileStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()

	store := NewFileStore(path)
	id, err := store.Create(ctx, &Session{
		Cookies:   "JSESSIONID=abc",
		AuthToken: "tok",
		Creds:     &Credentials{Username: "u", Password: "p", DatabaseName: "db"},
	})
	require.NoError(t, err)

	reloaded := NewFileStore(path)
	got, err := reloaded.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=abc", got.Cookies)
	assert.Equal(t, "tok", got.AuthToken)
	require.NotNil(t, got.Creds)
	assert.Equal(t, "u", got.Creds.Username)

	// New ids issued after reload must not collide with snapshotted ones.
	id2, err := reloaded.Create(ctx, &Session{Cookies: "c"})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestFileStore_CorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewFileStore(path)
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_SnapshotOmitsIDKeyInValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()

	store := NewFileStore(path)
	id, err := store.Create(ctx, &Session{Cookies: "c"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &snapshot))
	require.Contains(t, snapshot, id)
	assert.NotContains(t, snapshot[id], "ID", "id lives in the map key only")
}

func TestFileStore_PersistFailureNonFatal(t *testing.T) {
	// Point the snapshot at a directory so every write fails.
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	id, err := store.Create(ctx, &Session{Cookies: "c"})
	require.NoError(t, err, "mutation succeeds even when the snapshot cannot be written")

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Cookies)
}

func TestFileStore_CloneIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &Session{Cookies: "canonical"})
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	got.Cookies = "mutated"

	again, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "canonical", again.Cookies)
}

func TestFileStore_ConcurrentCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const goroutines = 10
	const perGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_, err := store.Create(ctx, &Session{Cookies: "c"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, goroutines*perGoroutine)

	seen := make(map[string]bool, len(list))
	for _, sess := range list {
		assert.False(t, seen[sess.ID], "duplicate id %q", sess.ID)
		seen[sess.ID] = true
	}
}

func TestSession_FormatCreatedAt(t *testing.T) {
	sess := &Session{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
	assert.Equal(t, "2026-03-01 09:30:00 UTC", sess.FormatCreatedAt())
}
