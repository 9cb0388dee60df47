package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/serroba/admission-go/internal/ratelimit"
)

// RateLimitMemoryStore is an in-memory implementation of ratelimit.Store.
// It is atomic within one process only.
type RateLimitMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	// unix seconds, ascending
	scores    []int64
	expiresAt time.Time
}

// NewRateLimitMemoryStore creates a new in-memory rate limit store.
func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	return &RateLimitMemoryStore{
		windows: make(map[string]*memoryWindow),
	}
}

func (s *RateLimitMemoryStore) Record(
	ctx context.Context, key string, limit int64, window time.Duration, now time.Time,
) (ratelimit.Window, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Window{}, ratelimit.WrapStoreError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.live(key, now)
	if w == nil {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	w.prune(now.Unix() - int64(window/time.Second))

	count := int64(len(w.scores))
	if count >= limit {
		result := ratelimit.Window{Count: count}
		if count > 0 {
			result.Oldest = time.Unix(w.scores[0], 0)
		}

		return result, nil
	}

	score := now.Unix()
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > score })
	w.scores = append(w.scores, 0)
	copy(w.scores[i+1:], w.scores[i:])
	w.scores[i] = score
	w.expiresAt = now.Add(window)

	return ratelimit.Window{Count: count, Admitted: true}, nil
}

func (s *RateLimitMemoryStore) Usage(
	ctx context.Context, key string, window time.Duration, now time.Time,
) (ratelimit.Usage, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Usage{}, ratelimit.WrapStoreError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.live(key, now)
	if w == nil {
		return ratelimit.Usage{}, nil
	}

	cutoff := now.Unix() - int64(window/time.Second)
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > cutoff })

	u := ratelimit.Usage{Count: int64(len(w.scores) - i)}
	if i < len(w.scores) {
		u.Oldest = time.Unix(w.scores[i], 0)
	}

	return u, nil
}

// Len returns the number of keys held, including ones not yet swept.
func (s *RateLimitMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.windows)
}

// Sweep drops every key whose expiry has passed, like the key TTL in Redis.
func (s *RateLimitMemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		if !now.Before(w.expiresAt) {
			delete(s.windows, key)
		}
	}
}

// StartJanitor sweeps expired keys every interval until ctx is done.
func (s *RateLimitMemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)

	go func() {
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Sweep(now)
			}
		}
	}()
}

// live returns the window for key, dropping it first if its expiry has passed.
// Callers must hold s.mu.
func (s *RateLimitMemoryStore) live(key string, now time.Time) *memoryWindow {
	w, ok := s.windows[key]
	if !ok {
		return nil
	}

	if !now.Before(w.expiresAt) {
		delete(s.windows, key)

		return nil
	}

	return w
}

// prune removes scores at or before cutoff.
func (w *memoryWindow) prune(cutoff int64) {
	i := sort.Search(len(w.scores), func(i int) bool { return w.scores[i] > cutoff })
	w.scores = w.scores[i:]
}

var _ ratelimit.Store = (*RateLimitMemoryStore)(nil)
