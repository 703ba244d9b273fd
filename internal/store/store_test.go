// ABOUTME: Tests for the SQLite hit counter
// ABOUTME: Covers increment, per-key listing, validation and concurrent updates

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStore_IncrementHit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementHit(ctx, "/chat/completions", "alice")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStore_IncrementHitSeparatesPathAndKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.IncrementHit(ctx, "/chat/completions", "alice")
	require.NoError(t, err)
	_, err = store.IncrementHit(ctx, "/v1/chat/completions", "alice")
	require.NoError(t, err)

	n, err := store.IncrementHit(ctx, "/chat/completions", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "bob's counter is independent of alice's")
}

func TestStore_IncrementHitRejectsEmpty(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.IncrementHit(ctx, "", "alice")
	assert.ErrorIs(t, err, ErrInvalidHit)

	_, err = store.IncrementHit(ctx, "/chat/completions", "")
	assert.ErrorIs(t, err, ErrInvalidHit)
}

func TestStore_ListHits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for range 2 {
		_, err := store.IncrementHit(ctx, "/v1/chat/completions", "alice")
		require.NoError(t, err)
	}
	_, err := store.IncrementHit(ctx, "/chat/completions", "alice")
	require.NoError(t, err)
	_, err = store.IncrementHit(ctx, "/chat/completions", "bob")
	require.NoError(t, err)

	hits, err := store.ListHits(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "/chat/completions", hits[0].Path)
	assert.Equal(t, int64(1), hits[0].Count)
	assert.Equal(t, "/v1/chat/completions", hits[1].Path)
	assert.Equal(t, int64(2), hits[1].Count)
	assert.Equal(t, "alice", hits[1].KeyName)
	assert.WithinDuration(t, time.Now(), hits[1].LastSeen, time.Minute)
}

func TestStore_ListHitsUnknownKey(t *testing.T) {
	store := setupTestStore(t)

	hits, err := store.ListHits(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, err := store.IncrementHit(ctx, "/chat/completions", "alice")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	hits, err := store.ListHits(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(workers*perWorker), hits[0].Count)
}
