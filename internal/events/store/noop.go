package store

import (
	"context"

	"github.com/serroba/admission-go/internal/events"
	"go.uber.org/zap"
)

// Noop is a no-op implementation of events.Store that logs events.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op event store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveRateLimitExceeded(_ context.Context, event *events.RateLimitExceeded) error {
	n.logger.Info("rate limit exceeded event received",
		zap.String("clientId", event.ClientID),
		zap.String("endpoint", event.Endpoint),
		zap.Int64("limit", event.Limit),
		zap.Time("resetAt", event.ResetAt),
	)

	return nil
}

func (n *Noop) SaveStoreFailure(_ context.Context, event *events.StoreFailure) error {
	n.logger.Info("store failure event received",
		zap.String("key", event.Key),
		zap.String("kind", event.Kind),
		zap.String("error", event.Error),
	)

	return nil
}

var _ events.Store = (*Noop)(nil)
