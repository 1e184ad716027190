package execution

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/circuit"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeBroker scripts PlaceOrder responses and counts calls.
type fakeBroker struct {
	mu         sync.Mutex
	script     []domain.PlaceResult
	placeCalls atomic.Int64
	marketOpen bool
	tick       domain.Tick
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		marketOpen: true,
		tick:       domain.Tick{Symbol: "EURUSD", Bid: 1.09995, Ask: 1.10005, Time: time.Now()},
	}
}

func (b *fakeBroker) push(results ...domain.PlaceResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, results...)
}

func (b *fakeBroker) Connect(context.Context) error { return nil }

func (b *fakeBroker) GetTick(_ context.Context, symbol string) (domain.Tick, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick, nil
}

func (b *fakeBroker) GetCandles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func (b *fakeBroker) PlaceOrder(_ context.Context, spec domain.OrderSpec) (domain.PlaceResult, error) {
	b.placeCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.script) == 0 {
		return domain.PlaceResult{Success: true, Ticket: 1001, FillPrice: spec.Price}, nil
	}
	r := b.script[0]
	b.script = b.script[1:]
	return r, nil
}

func (b *fakeBroker) ClosePosition(context.Context, int64, float64) (domain.CloseResult, error) {
	return domain.CloseResult{Success: true}, nil
}

func (b *fakeBroker) GetPositions(context.Context, string) ([]domain.BrokerPosition, error) {
	return nil, nil
}

func (b *fakeBroker) GetAccountInfo(context.Context) (domain.AccountState, error) {
	return domain.AccountState{Balance: 10_000, Equity: 10_000}, nil
}

func (b *fakeBroker) IsMarketOpen(context.Context, string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marketOpen, nil
}

func testExecConfig() config.ExecutionConfig {
	cfg := config.Defaults().Execution
	cfg.RetryDelay.Duration = time.Millisecond
	return cfg
}

func testRequest() Request {
	return Request{
		Signal: domain.Signal{
			ID:         "sig-1",
			TraceID:    "trace-1",
			Symbol:     "EURUSD",
			Direction:  domain.DirectionLong,
			Pattern:    domain.PatternBreakout,
			Timeframe:  "H1",
			EntryPrice: 1.1000,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
			DetectedAt: time.Now(),
		},
		Decision: domain.RiskDecision{
			Approved:   true,
			Size:       0.18,
			RiskAmount: 100,
			StopLoss:   1.0950,
			TakeProfit: 1.1100,
		},
	}
}

// startExecutor runs the consumer loop for the duration of the test.
func startExecutor(t *testing.T, e *Executor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestExecutorFillsOrder(t *testing.T) {
	broker := newFakeBroker()
	broker.push(domain.PlaceResult{Success: true, Ticket: 42, FillPrice: 1.10002, Commission: 0.5})
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, int64(42), res.Order.BrokerTicket)
	assert.InDelta(t, 0.00002, res.Slippage, 1e-9)
	assert.NotNil(t, res.Order.FilledAt)
	assert.EqualValues(t, 1, broker.placeCalls.Load())
}

func TestExecutorRetriesRetryableRejections(t *testing.T) {
	broker := newFakeBroker()
	broker.push(
		domain.PlaceResult{Success: false, ErrorCode: "REQUOTE", Retryable: true},
		domain.PlaceResult{Success: false, ErrorCode: "REQUOTE", Retryable: true},
		domain.PlaceResult{Success: true, Ticket: 7, FillPrice: 1.1000},
	)
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.EqualValues(t, 3, broker.placeCalls.Load())
}

func TestExecutorExhaustsRetries(t *testing.T) {
	broker := newFakeBroker()
	cfg := testExecConfig()
	for i := 0; i <= cfg.MaxRetries; i++ {
		broker.push(domain.PlaceResult{Success: false, ErrorCode: "REQUOTE", Message: "requote", Retryable: true})
	}
	var reported atomic.Int64
	reporter := reporterFunc(func(_ context.Context, component string, kind domain.ErrorKind, sev domain.ErrorSeverity, _ string, _ map[string]string) {
		reported.Add(1)
		assert.Equal(t, "trade_execution", component)
		assert.Equal(t, domain.ErrorKindExecution, kind)
		assert.Equal(t, domain.SeverityHigh, sev)
	})
	e := NewExecutor(broker, nil, reporter, cfg, testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Equal(t, domain.OrderStatusRejected, res.Order.Status)
	assert.ErrorIs(t, res.Err, domain.ErrBrokerRejected)
	assert.EqualValues(t, int64(cfg.MaxRetries)+1, broker.placeCalls.Load())
	assert.EqualValues(t, 1, reported.Load())
}

func TestExecutorNonRetryableRejectionStopsImmediately(t *testing.T) {
	broker := newFakeBroker()
	broker.push(domain.PlaceResult{Success: false, ErrorCode: "INVALID_VOLUME", Retryable: false})
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.EqualValues(t, 1, broker.placeCalls.Load())
}

func TestExecutorRejectsExcessiveSlippage(t *testing.T) {
	broker := newFakeBroker()
	// Fill 10 pips worse than requested on a long, far past the cap.
	broker.push(domain.PlaceResult{Success: true, Ticket: 9, FillPrice: 1.1010})
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionRejected, res.Status)
	assert.Contains(t, res.Message, "slippage")
	assert.InDelta(t, 0.0010, res.Slippage, 1e-9)
}

func TestExecutorRejectsWhenMarketClosed(t *testing.T) {
	broker := newFakeBroker()
	broker.marketOpen = false
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionRejected, res.Status)
	assert.Contains(t, res.Message, "market closed")
	assert.ErrorIs(t, res.Err, domain.ErrMarketClosed)
	assert.Zero(t, broker.placeCalls.Load())
}

func TestExecutorRejectsWideSpread(t *testing.T) {
	broker := newFakeBroker()
	// Spread of 30 pips against a 50-pip stop blows through the 30% cap.
	broker.tick = domain.Tick{Symbol: "EURUSD", Bid: 1.0985, Ask: 1.1015, Time: time.Now()}
	e := NewExecutor(broker, nil, nil, testExecConfig(), testLogger())
	startExecutor(t, e)

	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.ExecutionRejected, res.Status)
	assert.Contains(t, res.Message, "spread")
	assert.Zero(t, broker.placeCalls.Load())
}

func TestExecutorQueueBackpressure(t *testing.T) {
	broker := newFakeBroker()
	cfg := testExecConfig()
	cfg.QueueSize = 2
	e := NewExecutor(broker, nil, nil, cfg, testLogger())
	// No consumer running: the queue fills and stays full.

	_, err := e.Submit(testRequest())
	require.NoError(t, err)
	_, err = e.Submit(testRequest())
	require.NoError(t, err)

	_, err = e.Submit(testRequest())
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestExecutorBreakerOpensAfterConsecutiveRejections(t *testing.T) {
	broker := newFakeBroker()
	cfg := testExecConfig()
	for i := 0; i < cfg.BreakerThreshold; i++ {
		broker.push(domain.PlaceResult{Success: false, ErrorCode: "REJECTED", Retryable: false})
	}
	e := NewExecutor(broker, nil, nil, cfg, testLogger())
	startExecutor(t, e)

	for i := 0; i < cfg.BreakerThreshold; i++ {
		res, err := e.Execute(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionFailed, res.Status)
	}
	assert.Equal(t, circuit.StateOpen, e.Breaker().State())
	callsBefore := broker.placeCalls.Load()

	// While open, submissions are rejected without touching the broker.
	res, err := e.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRejected, res.Status)
	assert.Contains(t, res.Message, "circuit breaker open")
	assert.ErrorIs(t, res.Err, domain.ErrCircuitOpen)
	assert.Equal(t, callsBefore, broker.placeCalls.Load())
}

func TestExecutorSuccessResetsBreaker(t *testing.T) {
	broker := newFakeBroker()
	cfg := testExecConfig()
	broker.push(
		domain.PlaceResult{Success: false, ErrorCode: "REJECTED", Retryable: false},
		domain.PlaceResult{Success: false, ErrorCode: "REJECTED", Retryable: false},
		domain.PlaceResult{Success: true, Ticket: 3, FillPrice: 1.1000},
	)
	e := NewExecutor(broker, nil, nil, cfg, testLogger())
	startExecutor(t, e)

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), testRequest())
		require.NoError(t, err)
	}
	snap := e.Breaker().Snapshot()
	assert.Equal(t, string(circuit.StateClosed), snap.State)
	assert.Zero(t, snap.Failures)
}

// reporterFunc adapts a function to domain.FaultReporter.
type reporterFunc func(ctx context.Context, component string, kind domain.ErrorKind, severity domain.ErrorSeverity, message string, fields map[string]string)

func (f reporterFunc) ReportError(ctx context.Context, component string, kind domain.ErrorKind, severity domain.ErrorSeverity, message string, fields map[string]string) {
	f(ctx, component, kind, severity, message, fields)
}
