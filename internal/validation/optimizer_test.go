package validation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

// stubPolicy implements domain.StrategicValidator with configurable behavior.
type stubPolicy struct {
	decision domain.PolicyDecision
	err      error
	delay    time.Duration
	calls    atomic.Int64
}

func (s *stubPolicy) Evaluate(ctx context.Context, sig domain.Signal, fastMode bool) (domain.PolicyDecision, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.PolicyDecision{}, ctx.Err()
		}
	}
	return s.decision, s.err
}

func (s *stubPolicy) Escalate(ctx context.Context, reason string, events []domain.ErrorEvent) error {
	return nil
}

func testOptimizerConfig() Config {
	return Config{
		SubDeadline:        45 * time.Millisecond,
		TotalDeadline:      90 * time.Millisecond,
		CacheTTL:           5 * time.Minute,
		CacheSize:          1000,
		CacheMinConfidence: 0.5,
		BreakerThreshold:   5,
		BreakerCooldown:    60 * time.Second,
	}
}

func newTestOptimizer(policy domain.StrategicValidator) *Optimizer {
	technical := NewSignalValidator(0.75, []string{"M15", "H1", "H4"}, testLogger())
	return NewOptimizer(technical, policy, testOptimizerConfig(), testLogger())
}

func TestOptimizerApprovesWhenBothApprove(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}}
	o := newTestOptimizer(policy)

	verdict := o.Validate(context.Background(), validLongSignal())

	assert.True(t, verdict.Approved)
	assert.Equal(t, domain.VerdictSourceFresh, verdict.Source)
	// Combined confidence favors the strategic score.
	assert.Greater(t, verdict.Confidence, 0.8)
}

func TestOptimizerRejectsOnStrategicVeto(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Approved: false, Confidence: 0.3, Reasons: []string{"exposure cap"}}}
	o := newTestOptimizer(policy)

	verdict := o.Validate(context.Background(), validLongSignal())

	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reasons, "exposure cap")
}

func TestOptimizerCacheHitIsSameVerdictAndFaster(t *testing.T) {
	policy := &stubPolicy{
		decision: domain.PolicyDecision{Approved: true, Confidence: 0.9},
		delay:    20 * time.Millisecond,
	}
	o := newTestOptimizer(policy)
	sig := validLongSignal()

	first := o.Validate(context.Background(), sig)
	require.True(t, first.Approved)
	require.Equal(t, domain.VerdictSourceFresh, first.Source)

	second := o.Validate(context.Background(), sig)
	assert.Equal(t, domain.VerdictSourceCache, second.Source)
	assert.Equal(t, first.Approved, second.Approved)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Less(t, second.Latency, first.Latency/10, "cache hit should be >=10x faster")
	assert.Equal(t, int64(1), policy.calls.Load(), "cache hit must not re-invoke the policy evaluator")
}

func TestOptimizerCountsCacheLookups(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}}
	o := newTestOptimizer(policy)
	m := metrics.New(prometheus.NewRegistry())
	o.SetMetrics(m)
	sig := validLongSignal()

	o.Validate(context.Background(), sig)
	o.Validate(context.Background(), sig)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationCache.WithLabelValues("hit")))
}

func TestOptimizerStrategicTimeoutFallsBack(t *testing.T) {
	policy := &stubPolicy{
		decision: domain.PolicyDecision{Approved: true, Confidence: 0.9},
		delay:    200 * time.Millisecond, // well past the 45ms sub-deadline
	}
	o := newTestOptimizer(policy)

	start := time.Now()
	verdict := o.Validate(context.Background(), validLongSignal())
	elapsed := time.Since(start)

	assert.False(t, verdict.Approved, "timeout must yield a conservative non-approval")
	assert.ErrorIs(t, verdict.Err, domain.ErrValidationTimeout)
	assert.Less(t, elapsed, 90*time.Millisecond+30*time.Millisecond,
		"result must arrive within the total deadline")
}

func TestOptimizerBreakerShortCircuits(t *testing.T) {
	policy := &stubPolicy{err: context.DeadlineExceeded}
	o := newTestOptimizer(policy)

	// Five distinct signals, all failing strategically, trip the breaker.
	for i := 0; i < 5; i++ {
		sig := validLongSignal()
		sig.EntryPrice += float64(i) * 0.01 // distinct fingerprints
		sig.TakeProfit += float64(i) * 0.01
		verdict := o.Validate(context.Background(), sig)
		require.False(t, verdict.Approved)
	}

	before := policy.calls.Load()
	sig := validLongSignal()
	sig.EntryPrice += 1.0
	sig.TakeProfit += 1.0
	verdict := o.Validate(context.Background(), sig)

	assert.False(t, verdict.Approved)
	assert.ErrorIs(t, verdict.Err, domain.ErrCircuitOpen)
	assert.Equal(t, domain.VerdictSourceFallback, verdict.Source)
	assert.Equal(t, before, policy.calls.Load(), "open breaker must not invoke the policy evaluator")
}

func TestOptimizerInvalidSignalDoesNotTripBreaker(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}}
	o := newTestOptimizer(policy)

	bad := validLongSignal()
	bad.Symbol = ""

	for i := 0; i < 10; i++ {
		verdict := o.Validate(context.Background(), bad)
		require.False(t, verdict.Approved)
	}

	assert.True(t, o.Breaker().Allow(), "malformed input must not open the breaker")
}

func TestOptimizerDoesNotCacheLowConfidenceRejections(t *testing.T) {
	policy := &stubPolicy{decision: domain.PolicyDecision{Approved: false, Confidence: 0.1}}
	o := newTestOptimizer(policy)
	sig := validLongSignal()

	first := o.Validate(context.Background(), sig)
	require.False(t, first.Approved)

	second := o.Validate(context.Background(), sig)
	assert.Equal(t, domain.VerdictSourceFresh, second.Source,
		"low-confidence rejection must not be served from cache")
}
