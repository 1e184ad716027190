package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideForDirection maps a signal direction onto the order side that opens the
// exposure.
func SideForDirection(d Direction) OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style requested from the broker.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus tracks the order lifecycle. An order is owned by Trade
// Execution until it reaches a terminal state; a fill transfers the economic
// exposure to the Position Manager.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Order represents one broker order derived from a risk-approved signal.
type Order struct {
	ID             string      `json:"id"`
	SignalID       string      `json:"signal_id"`
	TraceID        string      `json:"trace_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Quantity       float64     `json:"quantity"` // lots
	RequestedPrice float64     `json:"requested_price"`
	StopLoss       float64     `json:"stop_loss"`
	TakeProfit     float64     `json:"take_profit"`
	Status         OrderStatus `json:"status"`
	BrokerTicket   int64       `json:"broker_ticket,omitempty"`
	FillPrice      float64     `json:"fill_price,omitempty"`
	FilledQuantity float64     `json:"filled_quantity,omitempty"`
	Commission     float64     `json:"commission,omitempty"`
	RejectReason   string      `json:"reject_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
}

// ExecutionStatus classifies one execution attempt's outcome.
type ExecutionStatus string

const (
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionRejected ExecutionStatus = "rejected"
	ExecutionTimeout  ExecutionStatus = "timeout"
)

// ExecutionResult is emitted for every execution attempt, terminal or not.
type ExecutionResult struct {
	Status    ExecutionStatus
	Order     Order
	FillPrice float64
	Slippage  float64 // price units, signed against the trade
	Latency   time.Duration
	Message   string
	Err       error // sentinel classifying a non-success, for errors.Is
}
