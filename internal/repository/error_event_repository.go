package repository

import (
	"context"
	"encoding/json"
	"time"

	"quotekeeper/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createErrorEventsTable = `
CREATE TABLE IF NOT EXISTS error_events (
    id          BIGSERIAL   PRIMARY KEY,
    operation   TEXT        NOT NULL,
    source      TEXT        NOT NULL,
    symbol      TEXT        NOT NULL DEFAULT '',
    cause       TEXT        NOT NULL,
    metadata    JSONB       NOT NULL DEFAULT '{}',
    occurred_at TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_events_expires_at
    ON error_events (expires_at);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ErrorEvent is one persisted terminal failure.
type ErrorEvent struct {
	ID         int64             `json:"id"`
	Operation  string            `json:"operation"`
	Source     string            `json:"source"`
	Symbol     string            `json:"symbol,omitempty"`
	Cause      string            `json:"cause"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// ErrorEventRepository persists critical failure contexts with a bounded
// retention so operators can inspect the last hour of terminal errors.
type ErrorEventRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewErrorEventRepository(pool PgxPool, tracer trace.Tracer) *ErrorEventRepository {
	return &ErrorEventRepository{pool: pool, tracer: tracer}
}

func (r *ErrorEventRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "error-event-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createErrorEventsTable)
	return err
}

// Record persists ec with the given cause, expiring after retention.
func (r *ErrorEventRepository) Record(ctx context.Context, ec domain.ErrorContext, cause string, retention time.Duration) error {
	_, span := r.tracer.Start(ctx, "error-event-repo.record")
	defer span.End()

	meta := ec.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO error_events (operation, source, symbol, cause, metadata, occurred_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ec.Operation, ec.Source, ec.Symbol, cause, metaJSON, ec.Timestamp, ec.Timestamp.Add(retention),
	)
	return err
}

// Recent returns unexpired events, newest first.
func (r *ErrorEventRepository) Recent(ctx context.Context, limit int) ([]*ErrorEvent, error) {
	_, span := r.tracer.Start(ctx, "error-event-repo.recent")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT id, operation, source, symbol, cause, metadata, occurred_at, expires_at
		 FROM error_events
		 WHERE expires_at > NOW()
		 ORDER BY occurred_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ErrorEvent
	for rows.Next() {
		e := &ErrorEvent{}
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Operation, &e.Source, &e.Symbol, &e.Cause, &metaJSON, &e.OccurredAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Purge deletes expired events and reports how many were removed.
func (r *ErrorEventRepository) Purge(ctx context.Context) (int64, error) {
	_, span := r.tracer.Start(ctx, "error-event-repo.purge")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM error_events WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
