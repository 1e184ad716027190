package domain

import "time"

// PositionStatus tracks the position lifecycle: open -> closing -> closed or
// failed. A position exists if and only if a corresponding filled order
// exists.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusFailed  PositionStatus = "failed"
)

// RiskLevel grades a position's unrealized loss against its risk budget.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Position represents an open or historical economic exposure. It is mutated
// exclusively by the Position Manager.
type Position struct {
	ID            string         `json:"id"`
	OrderID       string         `json:"order_id"`
	BrokerTicket  int64          `json:"broker_ticket"`
	Symbol        string         `json:"symbol"`
	Side          OrderSide      `json:"side"`
	Volume        float64        `json:"volume"` // lots
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	Commission    float64        `json:"commission"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	RiskAmount    float64        `json:"risk_amount"` // monetary risk budget set at entry
	RiskLevel     RiskLevel      `json:"risk_level"`
	MaxFavorable  float64        `json:"max_favorable"` // best unrealized PnL seen, account currency
	MaxAdverse    float64        `json:"max_adverse"`   // worst unrealized PnL seen, account currency
	Status        PositionStatus `json:"status"`
	CloseReason   string         `json:"close_reason,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// DirectionSign returns +1 for long exposure and -1 for short.
func (p Position) DirectionSign() float64 {
	if p.Side == OrderSideSell {
		return -1
	}
	return 1
}

// TradeStats are the rolling statistics over closed positions that the
// portfolio risk checks read.
type TradeStats struct {
	TotalTrades       int     `json:"total_trades"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"win_rate"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
	ConsecutiveWins   int     `json:"consecutive_wins"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	RealizedPnL       float64 `json:"realized_pnl"`
}
