package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/admission-go/internal/events"
)

const schema = `
	CREATE TABLE IF NOT EXISTS rate_limit_events (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		client_id      TEXT,
		endpoint       TEXT,
		method         TEXT,
		rate_limit     BIGINT,
		window_seconds BIGINT,
		request_count  BIGINT,
		reset_at       TIMESTAMPTZ,
		store_key      TEXT,
		failure_kind   TEXT,
		error          TEXT,
		occurred_at    TIMESTAMPTZ NOT NULL
	)
`

const (
	kindExceeded     = "exceeded"
	kindStoreFailure = "store_failure"
)

// PostgresStore is a PostgreSQL implementation of events.Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the events table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)

	return err
}

// SaveRateLimitExceeded inserts a rejection. Redelivered events are ignored.
func (p *PostgresStore) SaveRateLimitExceeded(ctx context.Context, event *events.RateLimitExceeded) error {
	query := `
		INSERT INTO rate_limit_events
			(id, kind, client_id, endpoint, method, rate_limit, window_seconds, request_count, reset_at, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		kindExceeded,
		event.ClientID,
		event.Endpoint,
		event.Method,
		event.Limit,
		event.WindowSeconds,
		event.Count,
		event.ResetAt,
		event.OccurredAt,
	)

	return err
}

// SaveStoreFailure inserts a store failure. Redelivered events are ignored.
func (p *PostgresStore) SaveStoreFailure(ctx context.Context, event *events.StoreFailure) error {
	query := `
		INSERT INTO rate_limit_events (id, kind, store_key, failure_kind, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		kindStoreFailure,
		event.Key,
		event.Kind,
		event.Error,
		event.OccurredAt,
	)

	return err
}

var _ events.Store = (*PostgresStore)(nil)
