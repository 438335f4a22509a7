package bolt

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, cleanupInterval time.Duration) (*Store, func()) {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "shadow_auth_bolt_test_")
	require.NoError(t, err)

	store, err := NewStore(filepath.Join(tempDir, "kv.db"), cleanupInterval)
	require.NoError(t, err)

	return store, func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 0)
	defer cleanup()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, store.Delete(ctx, "k"))
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 10*time.Millisecond)
	defer cleanup()

	require.NoError(t, store.Set(ctx, "short", "v", 20*time.Millisecond))
	require.NoError(t, store.Set(ctx, "forever", "v", 0))
	time.Sleep(60 * time.Millisecond)

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	v, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestStore_GetDelOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 0)
	defer cleanup()

	require.NoError(t, store.Set(ctx, "ticket", "payload", time.Minute))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := store.GetDel(ctx, "ticket"); err == nil && v == "payload" {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 0)
	defer cleanup()

	require.NoError(t, store.Set(ctx, "k", "a", time.Minute))

	ok, err := store.CompareAndDelete(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndDelete(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_IncrAndSets(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 0)
	defer cleanup()

	n, err := store.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.AddToSet(ctx, "s", "x", time.Minute))
	require.NoError(t, store.AddToSet(ctx, "s", "y", time.Minute))
	members, err := store.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	require.NoError(t, store.RemoveFromSet(ctx, "s", "x", "y"))
	members, err = store.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestStore_SetNX(t *testing.T) {
	ctx := context.Background()
	store, cleanup := setupTestStore(t, 0)
	defer cleanup()

	ok, err := store.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	require.NoError(t, store.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	ok, err = store.SetNX(ctx, "short", "v2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
