package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// ErrorEventStore implements domain.ErrorEventStore using PostgreSQL.
// The event context map is stored as JSONB.
type ErrorEventStore struct {
	pool *pgxpool.Pool
}

// NewErrorEventStore creates a new ErrorEventStore backed by the given
// connection pool.
func NewErrorEventStore(pool *pgxpool.Pool) *ErrorEventStore {
	return &ErrorEventStore{pool: pool}
}

// Create appends a fault record.
func (s *ErrorEventStore) Create(ctx context.Context, e domain.ErrorEvent) error {
	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("postgres: marshal error context: %w", err)
	}

	const query = `
		INSERT INTO error_events (
			id, ts, component, kind, severity, message, context, resolved, resolution
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.Timestamp, e.Component, string(e.Kind), string(e.Severity),
		e.Message, ctxJSON, e.Resolved, e.Resolution,
	)
	if err != nil {
		return fmt.Errorf("postgres: create error event %s: %w", e.ID, err)
	}
	return nil
}

// ListRecent returns events reported within the given window, newest first.
func (s *ErrorEventStore) ListRecent(ctx context.Context, window time.Duration, opts domain.ListOpts) ([]domain.ErrorEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().Add(-window)

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, component, kind, severity, message, context, resolved, resolution
		 FROM error_events WHERE ts >= $1
		 ORDER BY ts DESC LIMIT $2 OFFSET $3`,
		cutoff, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list error events: %w", err)
	}
	defer rows.Close()

	var events []domain.ErrorEvent
	for rows.Next() {
		var e domain.ErrorEvent
		var kind, severity string
		var ctxJSON []byte

		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Component, &kind, &severity,
			&e.Message, &ctxJSON, &e.Resolved, &e.Resolution,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan error event: %w", err)
		}

		if ctxJSON != nil {
			if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal error context: %w", err)
			}
		}

		e.Kind = domain.ErrorKind(kind)
		e.Severity = domain.ErrorSeverity(severity)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list error events rows: %w", err)
	}
	return events, nil
}
