package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/broker"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/execution"
	"github.com/breakoutlab/tradecore/internal/position"
	"github.com/breakoutlab/tradecore/internal/risk"
	"github.com/breakoutlab/tradecore/internal/validation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type stubPolicy struct {
	decision domain.PolicyDecision
}

func (s *stubPolicy) Evaluate(context.Context, domain.Signal, bool) (domain.PolicyDecision, error) {
	return s.decision, nil
}

func (s *stubPolicy) Escalate(context.Context, string, []domain.ErrorEvent) error { return nil }

type stubScorer struct {
	score domain.Score
	err   error
}

func (s *stubScorer) Score(context.Context, domain.Signal) (domain.Score, error) {
	return s.score, s.err
}

type fixedOpenCount int

func (c fixedOpenCount) OpenCount() int { return int(c) }

func strongSignal() domain.Signal {
	return domain.Signal{
		ID:         "sig-1",
		Symbol:     "EURUSD",
		Direction:  domain.DirectionLong,
		Pattern:    domain.PatternBreakOfStructure,
		Timeframe:  "H1",
		EntryPrice: 1.1000,
		StopLoss:   1.0950,
		TakeProfit: 1.1100,
		Context: domain.SignalContext{
			BreakDistance: 0.0030,
			AverageVolume: 1000,
			BreakVolume:   2200,
			Momentum:      0.8,
			Session:       "london",
			Volatility:    1.0,
		},
		DetectedAt: time.Now().UTC(),
	}
}

// testHarness wires real components over the paper broker.
type testHarness struct {
	orch      *Orchestrator
	paper     *broker.Paper
	positions *position.Manager
}

func newHarness(t *testing.T, policy domain.StrategicValidator, scorer domain.Scorer) *testHarness {
	t.Helper()
	cfg := config.Defaults()
	logger := testLogger()

	paper := broker.NewPaper(10_000, 0, logger)
	paper.SetTick(domain.Tick{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1000, Time: time.Now()})

	technical := validation.NewSignalValidator(
		cfg.Validation.ConfidenceThreshold, cfg.Validation.Timeframes, logger)
	optimizer := validation.NewOptimizer(technical, policy, validation.Config{
		SubDeadline:        cfg.Validation.SubDeadline.Duration,
		TotalDeadline:      cfg.Validation.TotalDeadline.Duration,
		CacheTTL:           cfg.Validation.CacheTTL.Duration,
		CacheSize:          cfg.Validation.CacheSize,
		CacheMinConfidence: cfg.Validation.CacheMinConfidence,
		BreakerThreshold:   cfg.Validation.BreakerThreshold,
		BreakerCooldown:    cfg.Validation.BreakerCooldown.Duration,
	}, logger)

	positions := position.NewManager(paper, nil, nil, cfg.Positions, cfg.Risk, logger)
	executor := execution.NewExecutor(paper, nil, nil, cfg.Execution, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = executor.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	stages := []Stage{
		&ValidationStage{Optimizer: optimizer},
		&ScoringStage{Scorer: scorer, MinProbability: cfg.Risk.MinProbability},
		&RiskStage{
			Engine:    risk.NewEngine(cfg.Risk, logger),
			Broker:    paper,
			Positions: positions,
		},
		&ExecutionStage{Executor: executor},
	}
	orch := NewOrchestrator(stages, positions, nil, nil, logger)
	return &testHarness{orch: orch, paper: paper, positions: positions}
}

func TestPipelineExecutesStrongSignalEndToEnd(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)

	res := h.orch.Process(context.Background(), strongSignal())

	require.True(t, res.Completed, "stopped at %s: %s", res.StoppedAt, res.Reason)
	assert.NotEmpty(t, res.TraceID)
	require.NotNil(t, res.Execution)
	assert.Equal(t, domain.ExecutionSuccess, res.Execution.Status)
	assert.Equal(t, domain.OrderStatusFilled, res.Execution.Order.Status)
	require.NotNil(t, res.Position)
	assert.Equal(t, 1, h.positions.OpenCount())

	for _, stage := range []string{"validation", "scoring", "risk", "execution"} {
		assert.Contains(t, res.StageLatency, stage)
	}
}

func TestPipelineStopsAtValidation(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: false, Confidence: 0.2, Reasons: []string{"exposure cap"}}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)

	res := h.orch.Process(context.Background(), strongSignal())

	assert.False(t, res.Completed)
	assert.Equal(t, "validation", res.StoppedAt)
	assert.Contains(t, res.Reason, "exposure cap")
	assert.Nil(t, res.Score, "scoring must not run after a validation stop")
	assert.Nil(t, res.Decision)
	assert.Nil(t, res.Execution)
	assert.Zero(t, h.positions.OpenCount())
}

func TestPipelineStopsAtScoring(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.3, Confidence: 0.8}},
	)

	res := h.orch.Process(context.Background(), strongSignal())

	assert.False(t, res.Completed)
	assert.Equal(t, "scoring", res.StoppedAt)
	assert.NotNil(t, res.Verdict)
	assert.NotNil(t, res.Score)
	assert.Nil(t, res.Decision)
}

func TestPipelineStopsAtRiskWhenBookIsFull(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)
	// Swap in a saturated open-position count.
	for _, s := range h.orch.stages {
		if rs, ok := s.(*RiskStage); ok {
			rs.Positions = fixedOpenCount(5)
		}
	}

	res := h.orch.Process(context.Background(), strongSignal())

	assert.False(t, res.Completed)
	assert.Equal(t, "risk", res.StoppedAt)
	assert.ErrorIs(t, res.Err, domain.ErrRiskRejected)
	require.NotNil(t, res.Decision)
	assert.False(t, res.Decision.Approved)
	assert.Nil(t, res.Execution)
}

func TestPipelineHaltGateDropsSignals(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)
	h.orch.halted = func() bool { return true }

	res := h.orch.Process(context.Background(), strongSignal())

	assert.False(t, res.Completed)
	assert.Equal(t, "halt", res.StoppedAt)
	assert.ErrorIs(t, res.Err, domain.ErrTradingHalted)
	assert.Nil(t, res.Verdict)
}

func TestPoolBackpressure(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)
	pool := NewPool(h.orch, config.PipelineConfig{Workers: 2, QueueSize: 1}, nil, nil, testLogger())
	// Workers not started: the queue holds exactly one signal.

	require.NoError(t, pool.Submit(strongSignal()))
	assert.ErrorIs(t, pool.Submit(strongSignal()), domain.ErrQueueFull)
}

func TestPoolProcessesSubmittedSignals(t *testing.T) {
	h := newHarness(t,
		&stubPolicy{decision: domain.PolicyDecision{Approved: true, Confidence: 0.9}},
		&stubScorer{score: domain.Score{Probability: 0.9, Confidence: 0.85}},
	)
	results := make(chan Result, 4)
	pool := NewPool(h.orch, config.PipelineConfig{Workers: 2, QueueSize: 8},
		func(res Result) { results <- res }, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	require.NoError(t, pool.Submit(strongSignal()))

	select {
	case res := <-results:
		assert.True(t, res.Completed, "stopped at %s: %s", res.StoppedAt, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was never processed")
	}
}
