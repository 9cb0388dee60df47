package events

import "context"

// Store persists admission events.
type Store interface {
	SaveRateLimitExceeded(ctx context.Context, event *RateLimitExceeded) error
	SaveStoreFailure(ctx context.Context, event *StoreFailure) error
}
