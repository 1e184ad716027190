package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// Event types an operator can subscribe to via config.
const (
	EventOrderFilled    = "order_filled"
	EventOrderRejected  = "order_rejected"
	EventPositionClosed = "position_closed"
	EventEscalation     = "escalation"
	EventEmergencyStop  = "emergency_stop"
)

// OrderFilled announces a successful fill.
func (n *Notifier) OrderFilled(ctx context.Context, order domain.Order, slippage float64) error {
	title := fmt.Sprintf("Filled %s %s", order.Side, order.Symbol)
	msg := fmt.Sprintf("%.2f lots @ %.5f (slippage %.5f)\nSL %.5f / TP %.5f\nticket %d",
		order.FilledQuantity, order.FillPrice, slippage,
		order.StopLoss, order.TakeProfit, order.BrokerTicket)
	return n.Notify(ctx, EventOrderFilled, title, msg)
}

// OrderRejected announces a rejected or failed order.
func (n *Notifier) OrderRejected(ctx context.Context, order domain.Order) error {
	title := fmt.Sprintf("Rejected %s %s", order.Side, order.Symbol)
	msg := fmt.Sprintf("%.2f lots @ %.5f\nreason: %s",
		order.Quantity, order.RequestedPrice, order.RejectReason)
	return n.Notify(ctx, EventOrderRejected, title, msg)
}

// PositionClosed announces a realized trade outcome.
func (n *Notifier) PositionClosed(ctx context.Context, p domain.Position) error {
	title := fmt.Sprintf("Closed %s %s", p.Side, p.Symbol)
	msg := fmt.Sprintf("%.2f lots, PnL %+.2f (commission %.2f)\nreason: %s",
		p.Volume, p.RealizedPnL, p.Commission, p.CloseReason)
	return n.Notify(ctx, EventPositionClosed, title, msg)
}

// EmergencyStop announces a trading halt. It bypasses the event filter;
// operators always hear about this one.
func (n *Notifier) EmergencyStop(ctx context.Context, reason string) error {
	return n.NotifyAll(ctx, "EMERGENCY STOP", reason)
}

// Escalate forwards a human-review request with the triggering fault events.
// This satisfies the escalation hook of the error-recovery system.
func (n *Notifier) Escalate(ctx context.Context, reason string, events []domain.ErrorEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", reason)
	for _, e := range events {
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", e.Severity, e.Kind, e.Component, e.Message)
	}
	return n.Notify(ctx, EventEscalation, "Escalation", b.String())
}
