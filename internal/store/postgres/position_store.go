package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, order_id, broker_ticket, symbol, side, volume,
	entry_price, current_price, unrealized_pnl, realized_pnl, commission,
	stop_loss, take_profit, risk_amount, risk_level,
	max_favorable, max_adverse, status, close_reason, opened_at, closed_at`

func scanPosition(scanner interface{ Scan(dest ...any) error }) (domain.Position, error) {
	var p domain.Position
	var side, riskLevel, status string

	err := scanner.Scan(
		&p.ID, &p.OrderID, &p.BrokerTicket, &p.Symbol, &side, &p.Volume,
		&p.EntryPrice, &p.CurrentPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.Commission,
		&p.StopLoss, &p.TakeProfit, &p.RiskAmount, &riskLevel,
		&p.MaxFavorable, &p.MaxAdverse, &status, &p.CloseReason, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.OrderSide(side)
	p.RiskLevel = domain.RiskLevel(riskLevel)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, order_id, broker_ticket, symbol, side, volume,
			entry_price, current_price, unrealized_pnl, realized_pnl, commission,
			stop_loss, take_profit, risk_amount, risk_level,
			max_favorable, max_adverse, status, close_reason,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OrderID, p.BrokerTicket, p.Symbol, string(p.Side), p.Volume,
		p.EntryPrice, p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL, p.Commission,
		p.StopLoss, p.TakeProfit, p.RiskAmount, string(p.RiskLevel),
		p.MaxFavorable, p.MaxAdverse, string(p.Status), p.CloseReason,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price  = $2,
			unrealized_pnl = $3,
			realized_pnl   = $4,
			commission     = $5,
			risk_level     = $6,
			max_favorable  = $7,
			max_adverse    = $8,
			status         = $9,
			close_reason   = $10,
			closed_at      = $11,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL, p.Commission,
		string(p.RiskLevel), p.MaxFavorable, p.MaxAdverse,
		string(p.Status), p.CloseReason, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListClosedSince returns positions closed at or after the given time,
// newest first.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE closed_at IS NOT NULL AND closed_at >= $1
		 ORDER BY closed_at DESC LIMIT $2 OFFSET $3`,
		since, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate closed positions: %w", err)
	}
	return positions, nil
}
