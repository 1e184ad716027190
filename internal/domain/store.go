package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// OrderStore persists the order audit trail.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
}

// PositionStore persists position history. The in-memory open set owned by
// the Position Manager remains authoritative while the process runs; the
// store is the durable audit trail.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListClosedSince(ctx context.Context, since time.Time, opts ListOpts) ([]Position, error)
}

// ErrorEventStore persists reported faults for post-mortem analysis.
type ErrorEventStore interface {
	Create(ctx context.Context, e ErrorEvent) error
	ListRecent(ctx context.Context, window time.Duration, opts ListOpts) ([]ErrorEvent, error)
}
