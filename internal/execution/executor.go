// Package execution turns approved risk decisions into broker orders and
// tracks them to a terminal state. Submissions flow through a bounded queue
// drained by a single consumer in submission order; a bounded number of
// orders may be in flight concurrently.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/breakoutlab/tradecore/internal/circuit"
	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
)

const componentName = "trade_execution"

// Request pairs a signal with its approved risk decision.
type Request struct {
	Signal   domain.Signal
	Decision domain.RiskDecision
}

type submission struct {
	req  Request
	resp chan domain.ExecutionResult
}

// Executor submits orders to the broker gateway with precondition checks,
// bounded retries, slippage verification, and a circuit breaker.
type Executor struct {
	broker   domain.BrokerGateway
	breaker  *circuit.Breaker
	orders   domain.OrderStore // optional audit trail
	reporter domain.FaultReporter
	cfg      config.ExecutionConfig
	queue    chan submission
	inflight chan struct{}
	logger   *slog.Logger
}

// NewExecutor creates an Executor over the given broker gateway. orders may
// be nil (no audit persistence); reporter may be nil (faults are only
// logged).
func NewExecutor(broker domain.BrokerGateway, orders domain.OrderStore, reporter domain.FaultReporter, cfg config.ExecutionConfig, logger *slog.Logger) *Executor {
	if reporter == nil {
		reporter = domain.NopReporter{}
	}
	return &Executor{
		broker:   broker,
		breaker:  circuit.New("execution", cfg.BreakerThreshold, cfg.BreakerCooldown.Duration),
		orders:   orders,
		reporter: reporter,
		cfg:      cfg,
		queue:    make(chan submission, cfg.QueueSize),
		inflight: make(chan struct{}, cfg.MaxInFlight),
		logger:   logger.With(slog.String("component", componentName)),
	}
}

// Breaker exposes the execution circuit breaker for health reporting and
// operator resets.
func (e *Executor) Breaker() *circuit.Breaker { return e.breaker }

// Submit enqueues an execution request and returns a channel that will carry
// exactly one result. A full queue rejects immediately with
// domain.ErrQueueFull; submission never blocks on queue capacity.
func (e *Executor) Submit(req Request) (<-chan domain.ExecutionResult, error) {
	sub := submission{req: req, resp: make(chan domain.ExecutionResult, 1)}
	select {
	case e.queue <- sub:
		return sub.resp, nil
	default:
		return nil, domain.ErrQueueFull
	}
}

// Execute submits a request and waits for its result, bounded by ctx.
func (e *Executor) Execute(ctx context.Context, req Request) (domain.ExecutionResult, error) {
	resp, err := e.Submit(req)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return domain.ExecutionResult{Status: domain.ExecutionTimeout, Message: "wait cancelled"}, ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Requests are consumed in
// submission order; each acquires an in-flight slot before its broker call so
// at most MaxInFlight orders are outstanding at once.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.Int("queue_size", e.cfg.QueueSize),
		slog.Int("max_in_flight", e.cfg.MaxInFlight),
	)
	defer e.logger.Info("executor stopped")

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case sub := <-e.queue:
			select {
			case e.inflight <- struct{}{}:
			case <-ctx.Done():
				sub.resp <- domain.ExecutionResult{Status: domain.ExecutionRejected, Message: "shutting down"}
				e.drain()
				return ctx.Err()
			}
			go func(sub submission) {
				defer func() { <-e.inflight }()
				sub.resp <- e.process(ctx, sub.req)
			}(sub)
		}
	}
}

// drain rejects everything still buffered after shutdown so no caller hangs.
func (e *Executor) drain() {
	for {
		select {
		case sub := <-e.queue:
			sub.resp <- domain.ExecutionResult{Status: domain.ExecutionRejected, Message: "shutting down"}
		default:
			return
		}
	}
}

// process runs one request through preconditions, submission with retries,
// and slippage verification. It emits a result for every attempt, terminal or
// not.
func (e *Executor) process(ctx context.Context, req Request) domain.ExecutionResult {
	start := time.Now()
	sig, decision := req.Signal, req.Decision

	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("trace_id", sig.TraceID),
		slog.String("symbol", sig.Symbol),
	)

	order := domain.Order{
		ID:             uuid.New().String(),
		SignalID:       sig.ID,
		TraceID:        sig.TraceID,
		Symbol:         sig.Symbol,
		Side:           domain.SideForDirection(sig.Direction),
		Type:           domain.OrderTypeMarket,
		Quantity:       decision.Size,
		RequestedPrice: sig.EntryPrice,
		StopLoss:       decision.StopLoss,
		TakeProfit:     decision.TakeProfit,
		Status:         domain.OrderStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	// Circuit breaker: while open, reject without contacting the broker.
	if !e.breaker.Allow() {
		return e.reject(ctx, order, start, "execution circuit breaker open", domain.ErrCircuitOpen)
	}

	if msg, cause := e.checkPreconditions(ctx, sig); msg != "" {
		return e.reject(ctx, order, start, msg, cause)
	}

	e.persistOrder(ctx, order, true)

	result := e.submitWithRetries(ctx, log, &order, sig, start)
	e.persistOrder(ctx, order, false)

	if result.Status == domain.ExecutionFailed || result.Status == domain.ExecutionTimeout {
		e.reporter.ReportError(ctx, componentName, domain.ErrorKindExecution, domain.SeverityHigh,
			result.Message, map[string]string{
				"order_id": order.ID,
				"symbol":   order.Symbol,
				"status":   string(result.Status),
			})
	}
	return result
}

// checkPreconditions validates everything that can be decided locally before
// contacting the broker: market hours and the spread relative to the stop
// distance. A non-empty msg means the order must be rejected; cause, when
// non-nil, classifies the rejection for errors.Is.
func (e *Executor) checkPreconditions(ctx context.Context, sig domain.Signal) (msg string, cause error) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	open, err := e.broker.IsMarketOpen(checkCtx, sig.Symbol)
	if err != nil {
		return fmt.Sprintf("market-state check failed: %v", err), domain.ErrConnectionLost
	}
	if !open {
		return "market closed", domain.ErrMarketClosed
	}

	tick, err := e.broker.GetTick(checkCtx, sig.Symbol)
	if err != nil {
		return fmt.Sprintf("tick unavailable: %v", err), domain.ErrConnectionLost
	}
	maxSpread := e.cfg.MaxSpreadFactor * sig.StopDistance()
	if tick.Spread() > maxSpread {
		return fmt.Sprintf("spread %.5f exceeds %.5f (%.0f%% of stop distance)",
			tick.Spread(), maxSpread, e.cfg.MaxSpreadFactor*100), nil
	}
	return "", nil
}

// submitWithRetries places the order, retrying broker-level rejections up to
// the configured bound with a fixed delay, then verifies realized slippage.
func (e *Executor) submitWithRetries(ctx context.Context, log *slog.Logger, order *domain.Order, sig domain.Signal, start time.Time) domain.ExecutionResult {
	spec := domain.OrderSpec{
		Symbol:     order.Symbol,
		Side:       order.Side,
		Type:       order.Type,
		Quantity:   order.Quantity,
		Price:      order.RequestedPrice,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		Comment:    "tradecore:" + sig.ID,
	}

	var lastMsg string
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryDelay.Duration):
			case <-ctx.Done():
				order.Status = domain.OrderStatusExpired
				return domain.ExecutionResult{
					Status: domain.ExecutionTimeout, Order: *order,
					Latency: time.Since(start), Message: "cancelled during retry backoff",
				}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		placed, err := e.broker.PlaceOrder(callCtx, spec)
		cancel()

		if err != nil {
			e.breaker.RecordFailure()
			lastMsg = fmt.Sprintf("broker call failed: %v", err)
			log.Warn("order placement failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !placed.Success {
			e.breaker.RecordFailure()
			lastMsg = fmt.Sprintf("broker rejected order (%s): %s", placed.ErrorCode, placed.Message)
			log.Warn("order rejected by broker",
				slog.Int("attempt", attempt+1),
				slog.String("code", placed.ErrorCode),
			)
			if !placed.Retryable {
				break
			}
			continue
		}

		e.breaker.RecordSuccess()
		now := time.Now().UTC()
		order.Status = domain.OrderStatusFilled
		order.BrokerTicket = placed.Ticket
		order.FillPrice = placed.FillPrice
		order.FilledQuantity = order.Quantity
		order.Commission = placed.Commission
		order.FilledAt = &now

		slippage := realizedSlippage(order.Side, order.RequestedPrice, placed.FillPrice)
		if slippage > e.cfg.MaxSlippage {
			// Filled worse than the cap allows: surface as a rejection so the
			// position manager can decide whether to unwind.
			order.RejectReason = fmt.Sprintf("slippage %.5f exceeds cap %.5f", slippage, e.cfg.MaxSlippage)
			log.Warn("fill exceeded slippage cap",
				slog.Float64("slippage", slippage),
				slog.Float64("cap", e.cfg.MaxSlippage),
			)
			return domain.ExecutionResult{
				Status: domain.ExecutionRejected, Order: *order,
				FillPrice: placed.FillPrice, Slippage: slippage,
				Latency: time.Since(start), Message: order.RejectReason,
			}
		}

		log.Info("order filled",
			slog.Int64("ticket", placed.Ticket),
			slog.Float64("fill_price", placed.FillPrice),
			slog.Float64("slippage", slippage),
			slog.Duration("latency", time.Since(start)),
		)
		return domain.ExecutionResult{
			Status: domain.ExecutionSuccess, Order: *order,
			FillPrice: placed.FillPrice, Slippage: slippage,
			Latency: time.Since(start),
		}
	}

	order.Status = domain.OrderStatusRejected
	order.RejectReason = lastMsg
	return domain.ExecutionResult{
		Status: domain.ExecutionFailed, Order: *order,
		Latency: time.Since(start), Message: lastMsg,
		Err: domain.ErrBrokerRejected,
	}
}

// reject finalizes a locally rejected order without a broker call. cause may
// be nil when no sentinel applies.
func (e *Executor) reject(ctx context.Context, order domain.Order, start time.Time, msg string, cause error) domain.ExecutionResult {
	order.Status = domain.OrderStatusRejected
	order.RejectReason = msg
	e.persistOrder(ctx, order, true)
	e.logger.Info("order rejected locally",
		slog.String("signal_id", order.SignalID),
		slog.String("reason", msg),
	)
	return domain.ExecutionResult{
		Status: domain.ExecutionRejected, Order: order,
		Latency: time.Since(start), Message: msg,
		Err: cause,
	}
}

// persistOrder writes the order audit record when a store is configured.
// Persistence failures are logged, never propagated into the execution path.
func (e *Executor) persistOrder(ctx context.Context, order domain.Order, create bool) {
	if e.orders == nil {
		return
	}
	var err error
	if create {
		err = e.orders.Create(ctx, order)
	} else {
		err = e.orders.Update(ctx, order)
	}
	if err != nil {
		e.logger.Warn("order persistence failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// realizedSlippage measures how much worse the fill is than the intended
// price, in price units. Favorable fills report zero.
func realizedSlippage(side domain.OrderSide, requested, fill float64) float64 {
	var s float64
	if side == domain.OrderSideBuy {
		s = fill - requested
	} else {
		s = requested - fill
	}
	if s < 0 {
		return 0
	}
	return s
}
