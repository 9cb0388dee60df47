package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/serroba/admission-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestRateLimitMemoryStore(t *testing.T) {
	t.Run("records and counts requests", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		for i := range 3 {
			w, err := s.Record(context.Background(), "key1", 5, time.Minute, t0)

			require.NoError(t, err)
			assert.True(t, w.Admitted)
			assert.Equal(t, int64(i), w.Count)
		}
	})

	t.Run("does not record denied requests", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		for range 2 {
			_, _ = s.Record(context.Background(), "key1", 2, time.Minute, t0)
		}

		for range 3 {
			w, err := s.Record(context.Background(), "key1", 2, time.Minute, t0.Add(time.Second))

			require.NoError(t, err)
			assert.False(t, w.Admitted)
			assert.Equal(t, int64(2), w.Count)
			assert.Equal(t, t0, w.Oldest)
		}
	})

	t.Run("tracks keys independently", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		_, _ = s.Record(context.Background(), "key1", 5, time.Minute, t0)
		_, _ = s.Record(context.Background(), "key1", 5, time.Minute, t0)

		w, err := s.Record(context.Background(), "key2", 5, time.Minute, t0)

		require.NoError(t, err)
		assert.Equal(t, int64(0), w.Count, "key2 should have its own window")
	})

	t.Run("prunes entries once the window has passed", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		_, _ = s.Record(context.Background(), "key1", 2, time.Minute, t0)
		_, _ = s.Record(context.Background(), "key1", 2, time.Minute, t0.Add(10*time.Second))

		w, err := s.Record(context.Background(), "key1", 2, time.Minute, t0.Add(59*time.Second))
		require.NoError(t, err)
		assert.False(t, w.Admitted, "oldest entry is still live one second before the window ends")

		w, err = s.Record(context.Background(), "key1", 2, time.Minute, t0.Add(60*time.Second))
		require.NoError(t, err)
		assert.True(t, w.Admitted)
		assert.Equal(t, int64(1), w.Count, "only the entry at t0+10s should remain")
	})

	t.Run("expires idle keys", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		_, _ = s.Record(context.Background(), "key1", 2, time.Minute, t0)
		_, _ = s.Record(context.Background(), "key2", 2, time.Minute, t0.Add(30*time.Second))

		s.Sweep(t0.Add(time.Minute))

		assert.Equal(t, 1, s.Len())
	})

	t.Run("returns a store error when the context is done", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Record(ctx, "key1", 2, time.Minute, t0)

		var se *ratelimit.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "key1", se.Key)
	})

	t.Run("admits exactly limit of many concurrent requests", func(t *testing.T) {
		s := store.NewRateLimitMemoryStore()

		const limit, n = 10, 100

		var (
			admitted atomic.Int64
			wg       sync.WaitGroup
		)

		for range n {
			wg.Add(1)

			go func() {
				defer wg.Done()

				w, err := s.Record(context.Background(), "hot", limit, time.Minute, t0)
				if err == nil && w.Admitted {
					admitted.Add(1)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int64(limit), admitted.Load())
	})
}

func TestRateLimitMemoryStore_Usage(t *testing.T) {
	s := store.NewRateLimitMemoryStore()

	u, err := s.Usage(context.Background(), "key1", time.Minute, t0)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Usage{}, u)

	_, _ = s.Record(context.Background(), "key1", 5, time.Minute, t0)
	_, _ = s.Record(context.Background(), "key1", 5, time.Minute, t0.Add(20*time.Second))

	u, err = s.Usage(context.Background(), "key1", time.Minute, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Count)
	assert.Equal(t, t0, u.Oldest)

	u, err = s.Usage(context.Background(), "key1", time.Minute, t0.Add(60*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Count)
	assert.Equal(t, t0.Add(20*time.Second), u.Oldest)
}
