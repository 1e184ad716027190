// Package recovery is the cross-cutting error-recovery system. Components
// report faults through the domain.FaultReporter interface; recovery runs
// component-specific routines with backoff, tracks a global health state
// machine, persists periodic snapshots, and escalates repeated high-severity
// faults to the strategic policy evaluator. Dependencies run one way:
// recovery holds narrow references to the components it supervises, never the
// reverse.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breakoutlab/tradecore/internal/circuit"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

// Liquidator closes the whole position book. Satisfied by the position
// manager.
type Liquidator interface {
	EmergencyCloseAll(ctx context.Context, reason string) (closed, failed int)
}

// Escalator receives escalations when the error rate crosses the window
// threshold. Satisfied by the strategic validator client.
type Escalator interface {
	Escalate(ctx context.Context, reason string, events []domain.ErrorEvent) error
}

// Component is one supervised subsystem: a liveness probe plus a recovery
// routine invoked on failure.
type Component struct {
	Name    string
	Check   func(ctx context.Context) error
	Recover func(ctx context.Context) error
}

// System is the error-recovery state machine.
type System struct {
	cfg        config.RecoveryConfig
	liquidator Liquidator
	escalator  Escalator
	snapshots  domain.SnapshotStore
	events     domain.ErrorEventStore // optional audit trail
	metrics    *metrics.Metrics       // optional instrumentation
	logger     *slog.Logger

	mu          sync.Mutex
	state       domain.RecoveryState
	history     []domain.ErrorEvent // most recent last, bounded
	components  map[string]*componentEntry
	breakers    map[string]*circuit.Breaker
	escalatedAt time.Time
	halted      bool
	shutdown    func() // optional, invoked once on emergency shutdown

	now         func() time.Time
	backoffBase time.Duration
}

type componentEntry struct {
	component Component
	health    domain.ConnectionHealth
}

// New creates the recovery system. liquidator and snapshots are required;
// escalator and events may be nil.
func New(cfg config.RecoveryConfig, liquidator Liquidator, escalator Escalator, snapshots domain.SnapshotStore, events domain.ErrorEventStore, logger *slog.Logger) *System {
	return &System{
		cfg:         cfg,
		liquidator:  liquidator,
		escalator:   escalator,
		snapshots:   snapshots,
		events:      events,
		logger:      logger.With(slog.String("component", "error_recovery")),
		state:       domain.RecoveryHealthy,
		components:  make(map[string]*componentEntry),
		breakers:    make(map[string]*circuit.Breaker),
		now:         time.Now,
		backoffBase: time.Second,
	}
}

// SetMetrics wires the process-wide metrics. Optional; set during startup
// before the loops run.
func (s *System) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	s.publishLocked()
}

// publishLocked exports the global state and per-breaker open flags. Caller
// holds the lock.
func (s *System) publishLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.RecoveryState.Set(stateValue(s.state))
	for name, b := range s.breakers {
		open := 0.0
		if b.State() == circuit.StateOpen {
			open = 1
		}
		s.metrics.BreakerOpen.WithLabelValues(name).Set(open)
	}
}

// stateValue maps the recovery state onto the gauge scale documented on the
// metric.
func stateValue(st domain.RecoveryState) float64 {
	switch st {
	case domain.RecoveryDegraded:
		return 1
	case domain.RecoveryCritical:
		return 2
	case domain.RecoveryRecovering:
		return 3
	case domain.RecoveryEmergency:
		return 4
	}
	return 0
}

// OnEmergencyShutdown registers a callback invoked exactly once when the
// system enters the emergency state. Typically wired to the process-wide
// cancel function.
func (s *System) OnEmergencyShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = fn
}

// RegisterComponent adds a supervised component to the health-check loop.
func (s *System) RegisterComponent(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[c.Name] = &componentEntry{
		component: c,
		health: domain.ConnectionHealth{
			Component:     c.Name,
			State:         domain.ConnStateConnected,
			LastHeartbeat: s.now(),
		},
	}
}

// RegisterBreaker includes a circuit breaker in snapshots and health reports.
func (s *System) RegisterBreaker(b *circuit.Breaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers[b.Name()] = b
}

// ResetBreaker closes a registered breaker by name. Used by the operator API
// after the underlying fault has been dealt with.
func (s *System) ResetBreaker(name string) bool {
	s.mu.Lock()
	b, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return true
}

// TradingHalted reports whether the system has stopped accepting new trades.
func (s *System) TradingHalted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// State returns the current global recovery state.
func (s *System) State() domain.RecoveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReportError implements domain.FaultReporter. High and critical severities
// trigger the reporting component's recovery routine immediately; a burst of
// them inside the escalation window additionally escalates to the policy
// evaluator, at most once per window.
func (s *System) ReportError(ctx context.Context, component string, kind domain.ErrorKind, severity domain.ErrorSeverity, message string, fields map[string]string) {
	event := domain.ErrorEvent{
		ID:        uuid.New().String(),
		Timestamp: s.now(),
		Component: component,
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Context:   fields,
	}

	s.mu.Lock()
	s.history = append(s.history, event)
	if len(s.history) > s.cfg.ErrorHistorySize {
		s.history = s.history[len(s.history)-s.cfg.ErrorHistorySize:]
	}
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(component, string(severity)).Inc()
	}
	if s.state != domain.RecoveryEmergency {
		switch severity {
		case domain.SeverityCritical:
			s.state = domain.RecoveryCritical
		case domain.SeverityHigh:
			if s.state == domain.RecoveryHealthy {
				s.state = domain.RecoveryDegraded
			}
		}
	}
	windowEvents := s.recentSevereLocked()
	escalate := len(windowEvents) >= s.cfg.EscalationThreshold &&
		s.now().Sub(s.escalatedAt) >= s.cfg.EscalationWindow.Duration
	if escalate {
		s.escalatedAt = s.now()
	}
	unresolved := s.unresolvedCriticalsLocked()
	emergency := unresolved >= s.cfg.EmergencyThreshold && !s.halted
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Log(ctx, levelFor(severity), "error reported",
		slog.String("event_id", event.ID),
		slog.String("source", component),
		slog.String("kind", string(kind)),
		slog.String("severity", string(severity)),
		slog.String("message", message),
	)

	if s.events != nil {
		if err := s.events.Create(ctx, event); err != nil {
			s.logger.Warn("event persistence failed", slog.String("error", err.Error()))
		}
	}

	if severity == domain.SeverityHigh || severity == domain.SeverityCritical {
		s.recoverComponent(ctx, component)
	}

	if escalate {
		s.doEscalate(ctx, windowEvents)
	}

	if emergency {
		s.EmergencyShutdown(ctx, fmt.Sprintf("%d unresolved critical errors", unresolved))
	}
}

// Resolve marks an error event handled. Resolution is what clears a critical
// from the emergency-shutdown count.
func (s *System) Resolve(eventID, action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		if s.history[i].ID == eventID {
			s.history[i].Resolved = true
			s.history[i].Resolution = action
			return true
		}
	}
	return false
}

// recentSevereLocked returns the high/critical events inside the escalation
// window. Caller holds the lock.
func (s *System) recentSevereLocked() []domain.ErrorEvent {
	cutoff := s.now().Add(-s.cfg.EscalationWindow.Duration)
	var out []domain.ErrorEvent
	for _, e := range s.history {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if e.Severity == domain.SeverityHigh || e.Severity == domain.SeverityCritical {
			out = append(out, e)
		}
	}
	return out
}

func (s *System) unresolvedCriticalsLocked() int {
	n := 0
	for _, e := range s.history {
		if e.Severity == domain.SeverityCritical && !e.Resolved {
			n++
		}
	}
	return n
}

// recoverComponent runs the named component's recovery routine with
// exponential backoff. The global state shows Recovering for the duration and
// lands on Healthy or Critical.
func (s *System) recoverComponent(ctx context.Context, name string) {
	s.mu.Lock()
	entry, ok := s.components[name]
	if !ok || entry.component.Recover == nil || s.halted {
		s.mu.Unlock()
		return
	}
	s.state = domain.RecoveryRecovering
	entry.health.State = domain.ConnStateReconnecting
	s.publishLocked()
	s.mu.Unlock()

	backoff := s.backoffBase
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		err := entry.component.Recover(ctx)
		if err == nil {
			s.mu.Lock()
			entry.health.State = domain.ConnStateConnected
			entry.health.ReconnectAttempts = 0
			entry.health.LastHeartbeat = s.now()
			s.state = domain.RecoveryHealthy
			s.publishLocked()
			s.mu.Unlock()
			s.logger.Info("component recovered",
				slog.String("target", name),
				slog.Int("attempt", attempt),
			)
			return
		}

		s.mu.Lock()
		entry.health.ReconnectAttempts = attempt
		s.mu.Unlock()
		s.logger.Warn("recovery attempt failed",
			slog.String("target", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	entry.health.State = domain.ConnStateFailed
	s.state = domain.RecoveryCritical
	s.publishLocked()
	s.mu.Unlock()
	s.logger.Error("recovery exhausted", slog.String("target", name))
}

// ForceRecovery runs the named component's recovery routine on operator
// request. It reports false when the component is unknown or has no recovery
// routine.
func (s *System) ForceRecovery(ctx context.Context, name, reason string) bool {
	s.mu.Lock()
	entry, ok := s.components[name]
	if !ok || entry.component.Recover == nil {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.logger.Info("forced recovery requested",
		slog.String("target", name),
		slog.String("reason", reason),
	)
	s.recoverComponent(ctx, name)
	return true
}

// doEscalate notifies the policy evaluator. Failures are logged only; this
// call is advisory.
func (s *System) doEscalate(ctx context.Context, events []domain.ErrorEvent) {
	if s.escalator == nil {
		return
	}
	reason := fmt.Sprintf("%d high-severity errors within %s", len(events), s.cfg.EscalationWindow.Duration)
	s.logger.Warn("escalating to policy evaluator", slog.String("reason", reason))
	if err := s.escalator.Escalate(ctx, reason, events); err != nil {
		s.logger.Warn("escalation delivery failed", slog.String("error", err.Error()))
	}
}

// EmergencyShutdown halts trading, liquidates all positions, persists a final
// snapshot, escalates, and invokes the registered shutdown callback. It runs
// at most once.
func (s *System) EmergencyShutdown(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return
	}
	s.halted = true
	s.state = domain.RecoveryEmergency
	shutdown := s.shutdown
	events := s.recentSevereLocked()
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Error("emergency shutdown", slog.String("reason", reason))

	if s.liquidator != nil {
		closed, failed := s.liquidator.EmergencyCloseAll(ctx, "emergency shutdown: "+reason)
		s.logger.Info("liquidation complete",
			slog.Int("closed", closed),
			slog.Int("failed", failed),
		)
	}

	if err := s.SaveSnapshot(nil, nil); err != nil {
		s.logger.Error("final snapshot failed", slog.String("error", err.Error()))
	}

	if s.escalator != nil {
		if err := s.escalator.Escalate(ctx, "emergency shutdown: "+reason, events); err != nil {
			s.logger.Warn("escalation delivery failed", slog.String("error", err.Error()))
		}
	}

	if shutdown != nil {
		shutdown()
	}
}

// SaveSnapshot persists the current system state. Open positions and pending
// orders are advisory context in the snapshot; they are never restored from
// it.
func (s *System) SaveSnapshot(openPositions []domain.Position, pendingOrders []domain.Order) error {
	s.mu.Lock()
	snap := domain.SystemSnapshot{
		TakenAt:         s.now(),
		RecoveryState:   s.state,
		Connections:     make(map[string]domain.ConnectionHealth, len(s.components)),
		CircuitBreakers: make(map[string]domain.BreakerSnapshot, len(s.breakers)),
		OpenPositions:   openPositions,
		PendingOrders:   pendingOrders,
		UnresolvedCrits: s.unresolvedCriticalsLocked(),
	}
	for name, entry := range s.components {
		snap.Connections[name] = entry.health
	}
	for name, b := range s.breakers {
		snap.CircuitBreakers[name] = b.Snapshot()
	}
	s.mu.Unlock()

	if err := s.snapshots.Save(snap); err != nil {
		return fmt.Errorf("recovery: save snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot loads the latest snapshot and restores circuit-breaker and
// connection-health state. A missing snapshot is not an error; positions are
// reconciled live from the broker instead of restored.
func (s *System) RestoreSnapshot() error {
	snap, err := s.snapshots.Load()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("recovery: load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snap.RecoveryState
	if s.state == domain.RecoveryEmergency {
		// An emergency state never survives a restart on its own; the
		// health loop re-evaluates from degraded.
		s.state = domain.RecoveryDegraded
	}
	for name, health := range snap.Connections {
		if entry, ok := s.components[name]; ok {
			entry.health = health
		}
	}
	for name, bs := range snap.CircuitBreakers {
		if b, ok := s.breakers[name]; ok {
			b.Restore(bs)
		}
	}
	s.publishLocked()
	s.logger.Info("snapshot restored",
		slog.Time("taken_at", snap.TakenAt),
		slog.String("state", string(snap.RecoveryState)),
	)
	return nil
}

// Health returns the operator-facing health summary.
func (s *System) Health() domain.SystemHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := domain.SystemHealth{
		State:           s.state,
		Connections:     make(map[string]domain.ConnectionHealth, len(s.components)),
		CircuitBreakers: make(map[string]domain.BreakerSnapshot, len(s.breakers)),
		RecentErrors:    len(s.recentSevereLocked()),
		UnresolvedCrits: s.unresolvedCriticalsLocked(),
	}
	for name, entry := range s.components {
		h.Connections[name] = entry.health
	}
	for name, b := range s.breakers {
		h.CircuitBreakers[name] = b.Snapshot()
	}

	// Coarse availability gauge derived from the current state.
	switch s.state {
	case domain.RecoveryHealthy:
		h.UptimePercent = 100
	case domain.RecoveryDegraded:
		h.UptimePercent = 75
	case domain.RecoveryRecovering:
		h.UptimePercent = 50
	case domain.RecoveryCritical:
		h.UptimePercent = 25
	}
	return h
}

// RecentEvents returns up to n most recent error events, newest first.
func (s *System) RecentEvents(n int) []domain.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]domain.ErrorEvent, 0, n)
	for i := len(s.history) - 1; i >= len(s.history)-n; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// RunSnapshotLoop persists snapshots on the configured interval and once more
// on shutdown. positions supplies the open book for snapshot context; it may
// be nil.
func (s *System) RunSnapshotLoop(ctx context.Context, positions func() []domain.Position) error {
	ticker := time.NewTicker(s.cfg.SnapshotInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SaveSnapshot(currentPositions(positions), nil); err != nil {
				s.logger.Error("shutdown snapshot failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.SaveSnapshot(currentPositions(positions), nil); err != nil {
				s.logger.Warn("snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

func currentPositions(fn func() []domain.Position) []domain.Position {
	if fn == nil {
		return nil
	}
	return fn()
}

// RunHealthLoop probes every registered component on the configured interval
// and triggers recovery for failing ones.
func (s *System) RunHealthLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *System) checkAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.checkOne(ctx, name)
	}

	// Breakers open and close on their own cool-down clock; re-export their
	// flags every probe pass.
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
}

func (s *System) checkOne(ctx context.Context, name string) {
	s.mu.Lock()
	entry, ok := s.components[name]
	if !ok || entry.component.Check == nil {
		s.mu.Unlock()
		return
	}
	check := entry.component.Check
	s.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := check(checkCtx)
	cancel()

	s.mu.Lock()
	if err == nil {
		entry.health.State = domain.ConnStateConnected
		entry.health.FailureCount = 0
		entry.health.LastHeartbeat = s.now()
		s.mu.Unlock()
		return
	}
	entry.health.FailureCount++
	entry.health.State = domain.ConnStateDisconnected
	failures := entry.health.FailureCount
	s.mu.Unlock()

	s.logger.Warn("health check failed",
		slog.String("target", name),
		slog.Int("failures", failures),
		slog.String("error", err.Error()),
	)
	s.ReportError(ctx, name, domain.ErrorKindConnection, domain.SeverityHigh,
		fmt.Sprintf("health check failed: %v", err), nil)
}

func levelFor(severity domain.ErrorSeverity) slog.Level {
	switch severity {
	case domain.SeverityCritical:
		return slog.LevelError
	case domain.SeverityHigh:
		return slog.LevelError
	case domain.SeverityMedium:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
