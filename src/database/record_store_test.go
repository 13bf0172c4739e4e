package database

import (
	"context"
	"sync"
	"testing"

	"github.com/hyperio-mc/agent-talk/src/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore_CRUD(t *testing.T) {
	WithTestDB(t, func(tdb *TestDB) {
		ctx := context.Background()
		store := NewRecordStore(tdb.DB)

		v, err := store.Put(ctx, "apikey:abc", []byte(`{"id":"1"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		_, err = store.Put(ctx, "apikey:abc", []byte(`{"id":"2"}`))
		assert.ErrorIs(t, err, repositories.ErrConflict)

		rec, err := store.Get(ctx, "apikey:abc")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"1"}`, string(rec.Value))

		v, err = store.Update(ctx, "apikey:abc", []byte(`{"id":"3"}`), rec.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		_, err = store.Update(ctx, "apikey:abc", []byte(`{"id":"4"}`), 1)
		assert.ErrorIs(t, err, repositories.ErrVersionMismatch)

		_, err = store.Update(ctx, "apikey:missing", []byte(`{}`), 1)
		assert.ErrorIs(t, err, repositories.ErrNotFound)

		require.NoError(t, store.Delete(ctx, "apikey:abc"))
		_, err = store.Get(ctx, "apikey:abc")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "apikey:abc"), repositories.ErrNotFound)
	})
}

func TestRecordStore_ConcurrentUpdatesSerialize(t *testing.T) {
	WithTestDB(t, func(tdb *TestDB) {
		ctx := context.Background()
		store := NewRecordStore(tdb.DB)

		_, err := store.Put(ctx, "counter", []byte("x"))
		require.NoError(t, err)

		// All writers race on version 1; exactly one may win.
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Update(ctx, "counter", []byte("y"), 1); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		require.NoError(t, store.Health(ctx))
	})
}

func TestNewTestDB_SkipsWithoutContainerRuntime(t *testing.T) {
	t.Setenv("SKIP_INTEGRATION", "")
	t.Setenv("TEST_DATABASE_URL", "")
	t.Setenv("PATH", t.TempDir())

	var skipped bool
	t.Run("no runtime", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		NewTestDB(t)
	})
	assert.True(t, skipped)
}
