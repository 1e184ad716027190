package domain

import "time"

// ErrorSeverity grades a reported fault. High and critical severities trigger
// immediate recovery routines.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorKind classifies a reported fault for recovery-routine selection.
type ErrorKind string

const (
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindExecution  ErrorKind = "execution"
	ErrorKindPosition   ErrorKind = "position"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindInternal   ErrorKind = "internal"
)

// ErrorEvent records one reported fault. Events are retained in a bounded
// most-recent history used for escalation-rate calculations.
type ErrorEvent struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Component  string            `json:"component"`
	Kind       ErrorKind         `json:"kind"`
	Severity   ErrorSeverity     `json:"severity"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
	Resolved   bool              `json:"resolved"`
	Resolution string            `json:"resolution,omitempty"`
}

// ConnectionState is a monitored component's link status.
type ConnectionState string

const (
	ConnStateConnected    ConnectionState = "connected"
	ConnStateDisconnected ConnectionState = "disconnected"
	ConnStateReconnecting ConnectionState = "reconnecting"
	ConnStateFailed       ConnectionState = "failed"
)

// ConnectionHealth is the per-component state maintained by the health-check
// loop and read by recovery to decide whether to open a circuit breaker.
type ConnectionHealth struct {
	Component         string          `json:"component"`
	State             ConnectionState `json:"state"`
	FailureCount      int             `json:"failure_count"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	LastHeartbeat     time.Time       `json:"last_heartbeat"`
}

// RecoveryState is the global state machine of the Error Recovery System.
type RecoveryState string

const (
	RecoveryHealthy    RecoveryState = "healthy"
	RecoveryDegraded   RecoveryState = "degraded"
	RecoveryCritical   RecoveryState = "critical"
	RecoveryRecovering RecoveryState = "recovering"
	RecoveryEmergency  RecoveryState = "emergency"
)

// SystemHealth is the operator-facing health summary. It always reflects open
// circuit breakers; the system never appears healthy while one is open.
type SystemHealth struct {
	State           RecoveryState               `json:"state"`
	Connections     map[string]ConnectionHealth `json:"connections"`
	CircuitBreakers map[string]BreakerSnapshot  `json:"circuit_breakers"`
	RecentErrors    int                         `json:"recent_errors"`
	UnresolvedCrits int                         `json:"unresolved_crits"`
	UptimePercent   float64                     `json:"uptime_percent"`
}

// BreakerSnapshot is a point-in-time view of one circuit breaker.
type BreakerSnapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	OpenedAt    time.Time `json:"opened_at"`
}
