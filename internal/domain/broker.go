package domain

import (
	"context"
	"time"
)

// Tick is a single top-of-book quote.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Mid returns the quote midpoint.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Spread returns ask minus bid in price units.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	OpenTime  time.Time
}

// OrderSpec is the broker-facing order request.
type OrderSpec struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// PlaceResult is the broker's answer to an order submission.
type PlaceResult struct {
	Success    bool
	Ticket     int64
	FillPrice  float64
	Commission float64
	ErrorCode  string
	Message    string
	Retryable  bool
}

// CloseResult is the broker's answer to a position close.
type CloseResult struct {
	Success    bool
	ClosePrice float64
	Profit     float64
	Commission float64
	Message    string
}

// BrokerPosition is the broker's view of one open position, used for
// reconciliation against the local open set.
type BrokerPosition struct {
	Ticket     int64
	Symbol     string
	Side       OrderSide
	Volume     float64
	EntryPrice float64
	Profit     float64
}

// BrokerGateway is the external broker/exchange connector. Every method
// carries a context deadline; exceeding it yields an error, never an
// indefinite block.
type BrokerGateway interface {
	Connect(ctx context.Context) error
	GetTick(ctx context.Context, symbol string) (Tick, error)
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
	PlaceOrder(ctx context.Context, spec OrderSpec) (PlaceResult, error)
	ClosePosition(ctx context.Context, ticket int64, volume float64) (CloseResult, error)
	GetPositions(ctx context.Context, symbol string) ([]BrokerPosition, error)
	GetAccountInfo(ctx context.Context) (AccountState, error)
	IsMarketOpen(ctx context.Context, symbol string) (bool, error)
}

// StrategicValidator is the external policy evaluator. Evaluate must honor
// the caller's context deadline; Escalate reports a recovery escalation and
// is advisory only.
type StrategicValidator interface {
	Evaluate(ctx context.Context, sig Signal, fastMode bool) (PolicyDecision, error)
	Escalate(ctx context.Context, reason string, events []ErrorEvent) error
}

// Scorer is the black-box ML scoring function.
type Scorer interface {
	Score(ctx context.Context, sig Signal) (Score, error)
}
