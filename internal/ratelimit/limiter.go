package ratelimit

import (
	"context"
	"time"
)

// DefaultStoreTimeout bounds a single store round trip. It sits on the hot path of
// every request, so it is much shorter than any request timeout.
const DefaultStoreTimeout = 100 * time.Millisecond

// Key identifies one sliding window.
type Key struct {
	ClientID string
	Endpoint string
}

// String returns the store key for the window.
func (k Key) String() string {
	return "rate_limit:" + k.ClientID + ":" + k.Endpoint
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed bool
	// Count is the number of entries in the window including this request when allowed.
	Count int64
	// ResetAt is when the oldest entry leaves the window. Zero when allowed.
	ResetAt time.Time
	// FailedOpen is set when the store could not be consulted and the request was
	// admitted anyway.
	FailedOpen bool
}

// Remaining returns how many more requests the policy admits in the current window.
func (d Decision) Remaining(p Policy) int64 {
	if !d.Allowed {
		return 0
	}

	return max(0, p.Limit-d.Count)
}

// FailOpen is the decision used when the store failed. Every StoreError maps to it:
// an unreachable limiter admits traffic instead of rejecting all of it, trading strict
// enforcement for availability.
func FailOpen(_ *StoreError) Decision {
	return Decision{Allowed: true, Count: 0, FailedOpen: true}
}

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Check decides whether a request for key is admitted under policy.
	// A non-nil error is always a *StoreError; callers are expected to map it with
	// FailOpen rather than fail the request.
	Check(ctx context.Context, key Key, policy Policy) (Decision, error)
}

// SlidingWindowLimiter implements rate limiting using a sliding window log.
type SlidingWindowLimiter struct {
	store   Store
	now     func() time.Time
	timeout time.Duration
}

// Option configures a SlidingWindowLimiter.
type Option func(*SlidingWindowLimiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindowLimiter) { l.now = now }
}

// WithTimeout bounds each store round trip. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(l *SlidingWindowLimiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(store Store, opts ...Option) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		store:   store,
		now:     time.Now,
		timeout: DefaultStoreTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check records the request if the window for key has room.
// Denied requests are never recorded.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key Key, policy Policy) (Decision, error) {
	now := l.now().Truncate(time.Second)

	if policy.Limit <= 0 {
		return Decision{Allowed: false, ResetAt: now.Add(policy.Window)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	k := key.String()

	w, err := l.store.Record(ctx, k, policy.Limit, policy.Window, now)
	if err != nil {
		return Decision{}, WrapStoreError(k, err)
	}

	if w.Admitted {
		return Decision{Allowed: true, Count: w.Count + 1}, nil
	}

	resetAt := now.Add(policy.Window)
	if !w.Oldest.IsZero() {
		resetAt = w.Oldest.Add(policy.Window)
	}

	return Decision{Allowed: false, Count: w.Count, ResetAt: resetAt}, nil
}

// Usage reports the window for key without recording a request.
func (l *SlidingWindowLimiter) Usage(ctx context.Context, key Key, policy Policy) (Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	k := key.String()

	u, err := l.store.Usage(ctx, k, policy.Window, l.now().Truncate(time.Second))
	if err != nil {
		return Usage{}, WrapStoreError(k, err)
	}

	return u, nil
}

// Timeout returns the store round trip bound.
func (l *SlidingWindowLimiter) Timeout() time.Duration {
	return l.timeout
}
