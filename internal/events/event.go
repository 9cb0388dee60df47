// Package events defines the events emitted by the admission middleware and the
// handlers that persist them.
package events

import "time"

const (
	TopicRateLimitExceeded = "ratelimit.exceeded"
	TopicStoreFailure      = "ratelimit.store_failed"
)

// RateLimitExceeded is emitted when a request is rejected.
type RateLimitExceeded struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"clientId"`
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	Limit         int64     `json:"limit"`
	WindowSeconds int64     `json:"windowSeconds"`
	Count         int64     `json:"count"`
	ResetAt       time.Time `json:"resetAt"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// StoreFailure is emitted when the limiter cannot reach the counter store and the
// request was admitted without counting.
type StoreFailure struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurredAt"`
}
