// Package pipeline sequences the trade-decision stages per signal:
// validation, scoring, risk gating, and execution, stopping at the first
// non-approval. A bounded worker pool drains the incoming signal queue.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

// Result is the envelope carried through the stages. Each stage fills in its
// own output; the zero pointers mark stages never reached.
type Result struct {
	TraceID      string
	Signal       domain.Signal
	Completed    bool
	StoppedAt    string // stage that stopped the signal, empty when completed
	Reason       string
	Err          error // sentinel classifying the stop, for errors.Is; nil on clean rejections
	StageLatency map[string]time.Duration
	TotalLatency time.Duration

	Verdict   *domain.ValidationVerdict
	Score     *domain.Score
	Decision  *domain.RiskDecision
	Execution *domain.ExecutionResult
	Position  *domain.Position
}

// PositionRegistrar adopts a filled order as an open position. Satisfied by
// the position manager.
type PositionRegistrar interface {
	Register(ctx context.Context, order domain.Order, decision domain.RiskDecision) (domain.Position, error)
}

// Orchestrator runs each signal through the ordered stage list. It never
// retries a signal; retry policy lives inside the stages' components.
type Orchestrator struct {
	stages    []Stage
	positions PositionRegistrar
	halted    func() bool // optional trading-halt gate
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOrchestrator builds an orchestrator over the given stage list. halted
// and m may be nil.
func NewOrchestrator(stages []Stage, positions PositionRegistrar, halted func() bool, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stages:    stages,
		positions: positions,
		halted:    halted,
		metrics:   m,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Process runs one signal through the pipeline and returns the full result
// envelope.
func (o *Orchestrator) Process(ctx context.Context, sig domain.Signal) Result {
	start := time.Now()
	if sig.TraceID == "" {
		sig.TraceID = uuid.New().String()
	}

	res := Result{
		TraceID:      sig.TraceID,
		Signal:       sig,
		StageLatency: make(map[string]time.Duration, len(o.stages)),
	}
	log := o.logger.With(
		slog.String("trace_id", sig.TraceID),
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
	)

	if o.halted != nil && o.halted() {
		res.StoppedAt = "halt"
		res.Reason = "trading halted"
		res.Err = domain.ErrTradingHalted
		res.TotalLatency = time.Since(start)
		o.observe(res)
		log.Warn("signal dropped, trading halted")
		return res
	}

	for _, stage := range o.stages {
		stageStart := time.Now()
		approved, reason, err := stage.Run(ctx, &res)
		elapsed := time.Since(stageStart)
		res.StageLatency[stage.Name()] = elapsed
		if o.metrics != nil {
			o.metrics.StageLatency.WithLabelValues(stage.Name()).Observe(elapsed.Seconds())
		}

		if err != nil {
			res.StoppedAt = stage.Name()
			res.Reason = err.Error()
			res.TotalLatency = time.Since(start)
			o.observe(res)
			log.Error("stage failed",
				slog.String("stage", stage.Name()),
				slog.Duration("stage_latency", elapsed),
				slog.String("error", err.Error()),
			)
			return res
		}
		if !approved {
			res.StoppedAt = stage.Name()
			res.Reason = reason
			res.TotalLatency = time.Since(start)
			o.observe(res)
			log.Info("signal stopped",
				slog.String("stage", stage.Name()),
				slog.String("reason", reason),
				slog.Duration("stage_latency", elapsed),
			)
			return res
		}
	}

	if res.Execution != nil && o.positions != nil {
		pos, err := o.positions.Register(ctx, res.Execution.Order, *res.Decision)
		if err != nil {
			log.Error("position registration failed", slog.String("error", err.Error()))
		} else {
			res.Position = &pos
		}
	}

	res.Completed = true
	res.TotalLatency = time.Since(start)
	o.observe(res)
	log.Info("signal executed",
		slog.Duration("total_latency", res.TotalLatency),
		slog.Float64("fill_price", res.Execution.FillPrice),
	)
	return res
}

func (o *Orchestrator) observe(res Result) {
	if o.metrics == nil {
		return
	}
	o.metrics.PipelineLatency.Observe(res.TotalLatency.Seconds())
	if res.Completed {
		o.metrics.SignalsTotal.WithLabelValues("executed", "execution").Inc()
		return
	}
	o.metrics.SignalsTotal.WithLabelValues("stopped", res.StoppedAt).Inc()
}
