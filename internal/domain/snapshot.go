package domain

import "time"

// SystemSnapshot is a point-in-time serialization of recovery state. It is
// written on a timer and on shutdown, and read on startup to restore circuit
// breaker and connection-health state. Positions are intentionally excluded:
// they are reconciled live from the broker, never restored from disk.
type SystemSnapshot struct {
	TakenAt         time.Time                   `json:"taken_at"`
	RecoveryState   RecoveryState               `json:"recovery_state"`
	Connections     map[string]ConnectionHealth `json:"connections"`
	CircuitBreakers map[string]BreakerSnapshot  `json:"circuit_breakers"`
	OpenPositions   []Position                  `json:"open_positions"`
	PendingOrders   []Order                     `json:"pending_orders"`
	UnresolvedCrits int                         `json:"unresolved_crits"`
}
