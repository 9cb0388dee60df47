package events

import (
	"context"
	"fmt"

	"github.com/serroba/admission-go/internal/messaging"
)

// NewRateLimitExceededHandler creates a handler that persists rejections.
func NewRateLimitExceededHandler(store Store) messaging.Handler[RateLimitExceeded] {
	return func(ctx context.Context, event *RateLimitExceeded) error {
		if err := store.SaveRateLimitExceeded(ctx, event); err != nil {
			return fmt.Errorf("save rate limit exceeded %s: %w", event.ID, err)
		}

		return nil
	}
}

// NewStoreFailureHandler creates a handler that persists store failures.
func NewStoreFailureHandler(store Store) messaging.Handler[StoreFailure] {
	return func(ctx context.Context, event *StoreFailure) error {
		if err := store.SaveStoreFailure(ctx, event); err != nil {
			return fmt.Errorf("save store failure %s: %w", event.ID, err)
		}

		return nil
	}
}
