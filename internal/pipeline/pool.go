package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

// Pool drains the incoming signal queue with a bounded set of workers, each
// running signals through the orchestrator.
type Pool struct {
	orch     *Orchestrator
	cfg      config.PipelineConfig
	queue    chan domain.Signal
	onResult func(Result) // optional, called after every processed signal
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPool creates a worker pool over the orchestrator. onResult and m may be
// nil.
func NewPool(orch *Orchestrator, cfg config.PipelineConfig, onResult func(Result), m *metrics.Metrics, logger *slog.Logger) *Pool {
	return &Pool{
		orch:     orch,
		cfg:      cfg,
		queue:    make(chan domain.Signal, cfg.QueueSize),
		onResult: onResult,
		metrics:  m,
		logger:   logger.With(slog.String("component", "signal_pool")),
	}
}

// Submit enqueues a signal for processing. A full queue rejects immediately
// with domain.ErrQueueFull rather than blocking the producer.
func (p *Pool) Submit(sig domain.Signal) error {
	select {
	case p.queue <- sig:
		return nil
	default:
		if p.metrics != nil {
			p.metrics.SignalsTotal.WithLabelValues("dropped", "queue").Inc()
		}
		return domain.ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("signal pool starting",
		slog.Int("workers", p.cfg.Workers),
		slog.Int("queue_size", p.cfg.QueueSize),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case sig := <-p.queue:
					res := p.orch.Process(ctx, sig)
					if p.onResult != nil {
						p.onResult(res)
					}
				}
			}
		})
	}

	err := g.Wait()
	p.logger.Info("signal pool stopped")
	return err
}
