package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Window is the state of one sliding window as observed by a single atomic Record call.
type Window struct {
	// Count is the number of live entries before this request was considered.
	Count int64
	// Admitted reports whether an entry was added for this request.
	Admitted bool
	// Oldest is the timestamp of the oldest live entry. It is only set when the
	// request was not admitted and the window is not empty.
	Oldest time.Time
}

// Usage is a read-only view of a sliding window.
type Usage struct {
	Count  int64
	Oldest time.Time
}

// Store defines the interface for sliding window storage.
//
// Implementations must execute every Record call as one atomic unit per key:
// prune entries scored at or before now-window, count the rest, and only when the
// count is below limit add an entry scored at now and refresh the key expiry to
// window. Entries admitted within the same second must not collapse into one.
//
// Every error returned is a *StoreError.
type Store interface {
	Record(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error)

	// Usage counts live entries without recording or pruning anything.
	Usage(ctx context.Context, key string, window time.Duration, now time.Time) (Usage, error)
}

// StoreErrorKind classifies store failures.
type StoreErrorKind string

const (
	// StoreTimeout means the store did not answer before the deadline.
	StoreTimeout StoreErrorKind = "timeout"
	// StoreUnavailable means the store could not be reached or refused the command.
	StoreUnavailable StoreErrorKind = "unavailable"
	// StoreProtocol means the store answered with something that could not be understood.
	StoreProtocol StoreErrorKind = "protocol"
)

// ErrUnexpectedReply marks replies from the store that do not have the expected shape.
var ErrUnexpectedReply = errors.New("unexpected store reply")

// StoreError is the only error a Store returns.
type StoreError struct {
	Kind StoreErrorKind
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("rate limit store %s for %q: %v", e.Kind, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStoreError classifies err and wraps it in a *StoreError.
// An err that already is a *StoreError is returned unchanged; nil stays nil.
func WrapStoreError(key string, err error) error {
	if err == nil {
		return nil
	}

	var se *StoreError
	if errors.As(err, &se) {
		return se
	}

	return &StoreError{Kind: classify(err), Key: key, Err: err}
}

func classify(err error) StoreErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return StoreTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StoreTimeout
	}

	if errors.Is(err, ErrUnexpectedReply) {
		return StoreProtocol
	}

	return StoreUnavailable
}
