package recovery

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/circuit"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeLiquidator struct {
	mu     sync.Mutex
	calls  int
	reason string
}

func (l *fakeLiquidator) EmergencyCloseAll(_ context.Context, reason string) (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.reason = reason
	return 2, 0
}

type fakeEscalator struct {
	mu     sync.Mutex
	calls  int
	events int
}

func (e *fakeEscalator) Escalate(_ context.Context, _ string, events []domain.ErrorEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.events = len(events)
	return nil
}

func (e *fakeEscalator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestSystem(t *testing.T, liq Liquidator, esc Escalator) *System {
	t.Helper()
	cfg := config.Defaults().Recovery
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "state.json")
	s := New(cfg, liq, esc, NewFileSnapshotStore(cfg.SnapshotPath), nil, testLogger())
	s.backoffBase = time.Millisecond
	return s
}

func TestEscalationFiresOncePerWindow(t *testing.T) {
	esc := &fakeEscalator{}
	s := newTestSystem(t, &fakeLiquidator{}, esc)

	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Second)
		s.ReportError(ctx, "trade_execution", domain.ErrorKindExecution, domain.SeverityHigh, "broker rejection", nil)
	}
	assert.Equal(t, 1, esc.callCount())

	// More severe errors inside the same window do not re-escalate.
	clock = clock.Add(time.Second)
	s.ReportError(ctx, "trade_execution", domain.ErrorKindExecution, domain.SeverityHigh, "broker rejection", nil)
	assert.Equal(t, 1, esc.callCount())

	// Once the window elapses a new burst escalates again.
	clock = clock.Add(6 * time.Minute)
	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Second)
		s.ReportError(ctx, "trade_execution", domain.ErrorKindExecution, domain.SeverityHigh, "broker rejection", nil)
	}
	assert.Equal(t, 2, esc.callCount())
}

func TestHighSeverityTriggersComponentRecovery(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	var recovered int
	s.RegisterComponent(Component{
		Name:    "broker_gateway",
		Recover: func(context.Context) error { recovered++; return nil },
	})

	s.ReportError(context.Background(), "broker_gateway", domain.ErrorKindConnection, domain.SeverityHigh, "connection lost", nil)

	assert.Equal(t, 1, recovered)
	assert.Equal(t, domain.RecoveryHealthy, s.State())
	h := s.Health()
	assert.Equal(t, domain.ConnStateConnected, h.Connections["broker_gateway"].State)
}

func TestMetricsTrackErrorsStateAndBreakers(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)
	m := metrics.New(prometheus.NewRegistry())
	b := circuit.New("validation", 1, time.Minute)
	s.RegisterBreaker(b)
	s.SetMetrics(m)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecoveryState))

	s.ReportError(context.Background(), "trade_execution", domain.ErrorKindExecution, domain.SeverityCritical, "order stuck", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("trade_execution", string(domain.SeverityCritical))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecoveryState))

	b.RecordFailure()
	s.checkAll(context.Background())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("validation")))

	require.True(t, s.ResetBreaker("validation"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("validation")))
}

func TestForceRecovery(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	var recovered int
	s.RegisterComponent(Component{
		Name:    "broker_gateway",
		Recover: func(context.Context) error { recovered++; return nil },
	})

	ctx := context.Background()
	assert.True(t, s.ForceRecovery(ctx, "broker_gateway", "operator requested"))
	assert.Equal(t, 1, recovered)
	assert.False(t, s.ForceRecovery(ctx, "no_such_component", "operator requested"))
}

func TestRecoveryExhaustionGoesCritical(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)
	s.cfg.MaxReconnectAttempts = 3

	var attempts int
	s.RegisterComponent(Component{
		Name:    "broker_gateway",
		Recover: func(context.Context) error { attempts++; return errors.New("still down") },
	})

	s.ReportError(context.Background(), "broker_gateway", domain.ErrorKindConnection, domain.SeverityHigh, "connection lost", nil)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, domain.RecoveryCritical, s.State())
	h := s.Health()
	assert.Equal(t, domain.ConnStateFailed, h.Connections["broker_gateway"].State)
}

func TestLowSeverityDoesNotRecover(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	var recovered int
	s.RegisterComponent(Component{
		Name:    "broker_gateway",
		Recover: func(context.Context) error { recovered++; return nil },
	})

	s.ReportError(context.Background(), "broker_gateway", domain.ErrorKindConnection, domain.SeverityLow, "slow tick", nil)
	assert.Zero(t, recovered)
	assert.Equal(t, domain.RecoveryHealthy, s.State())
}

func TestUnresolvedCriticalsTriggerEmergencyShutdown(t *testing.T) {
	liq := &fakeLiquidator{}
	esc := &fakeEscalator{}
	s := newTestSystem(t, liq, esc)

	var shutdowns int
	s.OnEmergencyShutdown(func() { shutdowns++ })

	ctx := context.Background()
	for i := 0; i < s.cfg.EmergencyThreshold; i++ {
		s.ReportError(ctx, "position_manager", domain.ErrorKindPosition, domain.SeverityCritical, "close failed", nil)
	}

	assert.Equal(t, domain.RecoveryEmergency, s.State())
	assert.True(t, s.TradingHalted())
	assert.Equal(t, 1, liq.calls)
	assert.Contains(t, liq.reason, "emergency shutdown")
	assert.Equal(t, 1, shutdowns)

	// Further criticals do not run the shutdown sequence again.
	s.ReportError(ctx, "position_manager", domain.ErrorKindPosition, domain.SeverityCritical, "close failed", nil)
	assert.Equal(t, 1, liq.calls)
	assert.Equal(t, 1, shutdowns)
}

func TestResolveClearsCriticalCount(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	s.ReportError(context.Background(), "trade_execution", domain.ErrorKindExecution, domain.SeverityCritical, "stuck order", nil)
	events := s.RecentEvents(1)
	require.Len(t, events, 1)
	assert.Equal(t, 1, s.Health().UnresolvedCrits)

	require.True(t, s.Resolve(events[0].ID, "order cancelled manually"))
	assert.Zero(t, s.Health().UnresolvedCrits)

	assert.False(t, s.Resolve("no-such-event", "noop"))
}

func TestErrorHistoryIsBounded(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)
	s.cfg.ErrorHistorySize = 10

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		s.ReportError(ctx, "validation", domain.ErrorKindValidation, domain.SeverityLow, "noise", nil)
	}
	assert.Len(t, s.RecentEvents(0), 10)
}

func TestSnapshotRoundTripRestoresBreakerAndConnectionState(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	b := circuit.New("execution", 5, time.Minute)
	s.RegisterBreaker(b)
	s.RegisterComponent(Component{Name: "broker_gateway"})
	b.TripOpen()
	s.mu.Lock()
	s.components["broker_gateway"].health.State = domain.ConnStateReconnecting
	s.components["broker_gateway"].health.FailureCount = 4
	s.mu.Unlock()

	require.NoError(t, s.SaveSnapshot(nil, nil))

	// A fresh system with the same registrations restores identical state.
	s2 := New(s.cfg, &fakeLiquidator{}, nil, NewFileSnapshotStore(s.cfg.SnapshotPath), nil, testLogger())
	b2 := circuit.New("execution", 5, time.Minute)
	s2.RegisterBreaker(b2)
	s2.RegisterComponent(Component{Name: "broker_gateway"})
	require.NoError(t, s2.RestoreSnapshot())

	assert.Equal(t, circuit.StateOpen, b2.State())
	h := s2.Health()
	assert.Equal(t, domain.ConnStateReconnecting, h.Connections["broker_gateway"].State)
	assert.Equal(t, 4, h.Connections["broker_gateway"].FailureCount)
}

func TestRestoreWithoutSnapshotIsNoop(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)
	require.NoError(t, s.RestoreSnapshot())
	assert.Equal(t, domain.RecoveryHealthy, s.State())
}

func TestFileSnapshotStore(t *testing.T) {
	store := NewFileSnapshotStore(filepath.Join(t.TempDir(), "nested", "state.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, store.LastSavedAt().IsZero())

	snap := domain.SystemSnapshot{
		TakenAt:       time.Now().UTC().Truncate(time.Second),
		RecoveryState: domain.RecoveryDegraded,
		CircuitBreakers: map[string]domain.BreakerSnapshot{
			"execution": {State: "open", Failures: 5},
		},
		UnresolvedCrits: 2,
	}
	require.NoError(t, store.Save(snap))
	assert.False(t, store.LastSavedAt().IsZero())

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, snap.RecoveryState, got.RecoveryState)
	assert.Equal(t, snap.CircuitBreakers, got.CircuitBreakers)
	assert.Equal(t, snap.UnresolvedCrits, got.UnresolvedCrits)
}

func TestHealthCheckFailureReportsAndRecovers(t *testing.T) {
	s := newTestSystem(t, &fakeLiquidator{}, nil)

	healthy := false
	var recovered int
	s.RegisterComponent(Component{
		Name: "broker_gateway",
		Check: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("no heartbeat")
		},
		Recover: func(context.Context) error {
			recovered++
			healthy = true
			return nil
		},
	})

	s.checkAll(context.Background())

	assert.Equal(t, 1, recovered)
	h := s.Health()
	assert.Equal(t, domain.ConnStateConnected, h.Connections["broker_gateway"].State)
}
