package device

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openTestSQLite(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, ok, err := s.Get(ctx, "usage:d1:2026-10-12")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "usage:d1:2026-10-12", "1"))
			require.NoError(t, s.Set(ctx, "usage:d1:2026-10-12", "2"))
			v, ok, err := s.Get(ctx, "usage:d1:2026-10-12")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", v)

			require.NoError(t, s.Remove(ctx, "usage:d1:2026-10-12"))
			_, ok, err = s.Get(ctx, "usage:d1:2026-10-12")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "a", "1"))
			require.NoError(t, s.Set(ctx, "b", "2"))
			require.NoError(t, s.Clear(ctx))
			for _, k := range []string{"a", "b"} {
				_, ok, err := s.Get(ctx, k)
				require.NoError(t, err)
				assert.False(t, ok, k)
			}
		})
	}
}

func TestStores_IncrementBelow(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openTestSQLite(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			key := "usage:d1:2026-10-12"

			n, ok, err := s.IncrementBelow(ctx, key, 2)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 1, n)

			n, ok, err = s.IncrementBelow(ctx, key, 2)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 2, n)

			n, ok, err = s.IncrementBelow(ctx, key, 2)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 2, n)

			v, _, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "2", v)

			n, ok, err = s.IncrementBelow(ctx, "usage:d2:2026-10-12", 0)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, 0, n)

			require.NoError(t, s.Set(ctx, "usage:d3:2026-10-12", "lots"))
			_, _, err = s.IncrementBelow(ctx, "usage:d3:2026-10-12", 2)
			require.Error(t, err)
			v, _, err = s.Get(ctx, "usage:d3:2026-10-12")
			require.NoError(t, err)
			assert.Equal(t, "lots", v)
		})
	}
}

func TestStores_IncrementBelowConcurrent(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openTestSQLite(t) },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			var admitted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := s.IncrementBelow(ctx, "usage:d1:2026-10-12", 2)
					assert.NoError(t, err)
					if ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(2), admitted.Load())
			v, _, err := s.Get(ctx, "usage:d1:2026-10-12")
			require.NoError(t, err)
			assert.Equal(t, "2", v)
		})
	}
}

func TestEnsureID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := EnsureID(ctx, s)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := EnsureID(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, s.Clear(ctx))
	fresh, err := EnsureID(ctx, s)
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	id, err := EnsureID(ctx, s)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := EnsureID(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	require.Error(t, err)
}
