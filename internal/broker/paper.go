// Package broker provides broker-gateway implementations: a REST client for
// a live gateway and an in-process paper broker for simulated trading.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// Paper is an in-process simulated broker. Orders fill instantly at the
// current quote; positions are marked to the latest tick fed via SetTick.
// It is safe for concurrent use.
type Paper struct {
	commissionPerLot float64
	logger           *slog.Logger

	mu         sync.Mutex
	now        func() time.Time
	balance    float64
	dayStart   time.Time
	dayPnL     float64
	ticks      map[string]domain.Tick
	positions  map[int64]*paperPosition
	nextTicket int64
}

type paperPosition struct {
	ticket     int64
	symbol     string
	side       domain.OrderSide
	volume     float64
	entryPrice float64
}

// NewPaper creates a paper broker with the given starting balance.
func NewPaper(balance, commissionPerLot float64, logger *slog.Logger) *Paper {
	return &Paper{
		commissionPerLot: commissionPerLot,
		logger:           logger.With(slog.String("component", "paper_broker")),
		now:              time.Now,
		balance:          balance,
		dayStart:         time.Now().UTC().Truncate(24 * time.Hour),
		ticks:            make(map[string]domain.Tick),
		positions:        make(map[int64]*paperPosition),
		nextTicket:       1000,
	}
}

// rollDayLocked resets the daily PnL counter when a new UTC day has started.
// Callers must hold p.mu.
func (p *Paper) rollDayLocked() {
	day := p.now().UTC().Truncate(24 * time.Hour)
	if day.After(p.dayStart) {
		p.logger.Info("paper day rollover", slog.Float64("day_pnl", p.dayPnL))
		p.dayStart = day
		p.dayPnL = 0
	}
}

// setClock replaces the time source; used by tests.
func (p *Paper) setClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetTick feeds the latest quote for a symbol.
func (p *Paper) SetTick(tick domain.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks[tick.Symbol] = tick
}

func (p *Paper) Connect(ctx context.Context) error { return nil }

func (p *Paper) GetTick(_ context.Context, symbol string) (domain.Tick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tick, ok := p.ticks[symbol]
	if !ok {
		return domain.Tick{}, fmt.Errorf("paper: tick %s: %w", symbol, domain.ErrNotFound)
	}
	return tick, nil
}

// GetCandles is unsupported in simulation; the paper broker serves quotes
// only.
func (p *Paper) GetCandles(_ context.Context, symbol, timeframe string, count int) ([]domain.Candle, error) {
	return nil, nil
}

func (p *Paper) PlaceOrder(_ context.Context, spec domain.OrderSpec) (domain.PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()

	tick, ok := p.ticks[spec.Symbol]
	if !ok {
		return domain.PlaceResult{
			Success: false, ErrorCode: "NO_QUOTE",
			Message: "no quote for " + spec.Symbol, Retryable: true,
		}, nil
	}
	if spec.Quantity <= 0 {
		return domain.PlaceResult{
			Success: false, ErrorCode: "INVALID_VOLUME",
			Message: "volume must be positive", Retryable: false,
		}, nil
	}

	fill := tick.Ask
	if spec.Side == domain.OrderSideSell {
		fill = tick.Bid
	}
	commission := p.commissionPerLot * spec.Quantity

	p.nextTicket++
	ticket := p.nextTicket
	p.positions[ticket] = &paperPosition{
		ticket:     ticket,
		symbol:     spec.Symbol,
		side:       spec.Side,
		volume:     spec.Quantity,
		entryPrice: fill,
	}
	p.balance -= commission
	p.dayPnL -= commission

	p.logger.Info("paper fill",
		slog.Int64("ticket", ticket),
		slog.String("symbol", spec.Symbol),
		slog.String("side", string(spec.Side)),
		slog.Float64("volume", spec.Quantity),
		slog.Float64("price", fill),
	)
	return domain.PlaceResult{
		Success:    true,
		Ticket:     ticket,
		FillPrice:  fill,
		Commission: commission,
	}, nil
}

func (p *Paper) ClosePosition(_ context.Context, ticket int64, volume float64) (domain.CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()

	pos, ok := p.positions[ticket]
	if !ok {
		return domain.CloseResult{Success: false, Message: fmt.Sprintf("ticket %d not found", ticket)}, nil
	}
	tick, ok := p.ticks[pos.symbol]
	if !ok {
		return domain.CloseResult{Success: false, Message: "no quote for " + pos.symbol}, nil
	}

	price := tick.Bid
	if pos.side == domain.OrderSideSell {
		price = tick.Ask
	}
	profit := p.profitAt(pos, price)
	commission := p.commissionPerLot * pos.volume

	delete(p.positions, ticket)
	p.balance += profit - commission
	p.dayPnL += profit - commission

	p.logger.Info("paper close",
		slog.Int64("ticket", ticket),
		slog.Float64("price", price),
		slog.Float64("profit", profit),
	)
	return domain.CloseResult{
		Success:    true,
		ClosePrice: price,
		Profit:     profit,
		Commission: commission,
	}, nil
}

func (p *Paper) GetPositions(_ context.Context, symbol string) ([]domain.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		if symbol != "" && pos.symbol != symbol {
			continue
		}
		profit := 0.0
		if tick, ok := p.ticks[pos.symbol]; ok {
			price := tick.Bid
			if pos.side == domain.OrderSideSell {
				price = tick.Ask
			}
			profit = p.profitAt(pos, price)
		}
		out = append(out, domain.BrokerPosition{
			Ticket:     pos.ticket,
			Symbol:     pos.symbol,
			Side:       pos.side,
			Volume:     pos.volume,
			EntryPrice: pos.entryPrice,
			Profit:     profit,
		})
	}
	return out, nil
}

func (p *Paper) GetAccountInfo(ctx context.Context) (domain.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDayLocked()

	unrealized := 0.0
	for _, pos := range p.positions {
		if tick, ok := p.ticks[pos.symbol]; ok {
			price := tick.Bid
			if pos.side == domain.OrderSideSell {
				price = tick.Ask
			}
			unrealized += p.profitAt(pos, price)
		}
	}
	equity := p.balance + unrealized

	marginLevel := 10_000.0 // simulation never margin-calls on its own
	return domain.AccountState{
		Balance:       p.balance,
		Equity:        equity,
		MarginLevel:   marginLevel,
		DailyPnL:      p.dayPnL + unrealized,
		HighWaterMark: equity,
		OpenPositions: len(p.positions),
	}, nil
}

func (p *Paper) IsMarketOpen(context.Context, string) (bool, error) { return true, nil }

// defaultUnitValue is the standard forex contract size used for simulated
// PnL.
const defaultUnitValue = 100_000

func (p *Paper) profitAt(pos *paperPosition, price float64) float64 {
	sign := 1.0
	if pos.side == domain.OrderSideSell {
		sign = -1
	}
	return (price - pos.entryPrice) * sign * pos.volume * defaultUnitValue
}
