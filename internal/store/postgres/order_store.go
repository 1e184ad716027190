package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// isUniqueViolation reports whether err is a primary-key or unique-index
// conflict (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order into the database.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, signal_id, trace_id, symbol, side, order_type,
			quantity, requested_price, stop_loss, take_profit,
			status, broker_ticket, fill_price, filled_quantity,
			commission, reject_reason, created_at, filled_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.SignalID, o.TraceID, o.Symbol,
		string(o.Side), string(o.Type),
		o.Quantity, o.RequestedPrice, o.StopLoss, o.TakeProfit,
		string(o.Status), o.BrokerTicket, o.FillPrice, o.FilledQuantity,
		o.Commission, o.RejectReason, o.CreatedAt, o.FilledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create order %s: %w", o.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Update rewrites the mutable fill/status fields of an existing order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			status = $2, broker_ticket = $3, fill_price = $4,
			filled_quantity = $5, commission = $6, reject_reason = $7,
			filled_at = $8, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Status), o.BrokerTicket, o.FillPrice,
		o.FilledQuantity, o.Commission, o.RejectReason, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, signal_id, trace_id, symbol, side, order_type,
	quantity, requested_price, stop_loss, take_profit,
	status, broker_ticket, fill_price, filled_quantity,
	commission, reject_reason, created_at, filled_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, orderType, status string

	err := scanner.Scan(
		&o.ID, &o.SignalID, &o.TraceID, &o.Symbol,
		&side, &orderType,
		&o.Quantity, &o.RequestedPrice, &o.StopLoss, &o.TakeProfit,
		&status, &o.BrokerTicket, &o.FillPrice, &o.FilledQuantity,
		&o.Commission, &o.RejectReason, &o.CreatedAt, &o.FilledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders newest first with pagination.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return orders, nil
}
