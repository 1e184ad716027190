package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/breakoutlab/tradecore/internal/broker"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/execution"
	"github.com/breakoutlab/tradecore/internal/metrics"
	"github.com/breakoutlab/tradecore/internal/pipeline"
	"github.com/breakoutlab/tradecore/internal/policy"
	"github.com/breakoutlab/tradecore/internal/position"
	"github.com/breakoutlab/tradecore/internal/recovery"
	"github.com/breakoutlab/tradecore/internal/risk"
	"github.com/breakoutlab/tradecore/internal/scorer"
	"github.com/breakoutlab/tradecore/internal/server"
	"github.com/breakoutlab/tradecore/internal/server/handler"
	"github.com/breakoutlab/tradecore/internal/validation"
)

// paperStartBalance seeds the simulated account in paper mode.
const paperStartBalance = 10_000

// core bundles the trading components one mode run owns.
type core struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	gateway   domain.BrokerGateway
	optimizer *validation.Optimizer
	executor  *execution.Executor
	positions *position.Manager
	recovery  *recovery.System
	snapshots domain.SnapshotStore
	pool      *pipeline.Pool
	feed      *broker.TickFeed
}

// TradeMode runs the full decision pipeline against the live broker gateway.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	gateway, err := broker.NewREST(a.cfg.Broker)
	if err != nil {
		return err
	}
	if err := gateway.Connect(ctx); err != nil {
		return err
	}

	c := a.buildCore(deps, gateway)
	c.feed = broker.NewTickFeed(a.cfg.Broker.WsHost, a.cfg.Broker.ApiKey, a.cfg.Broker.Symbols, a.logger)
	if deps.PriceCache != nil {
		cache := deps.PriceCache
		c.feed.OnTick(func(ctx context.Context, tick domain.Tick) {
			if err := cache.SetTick(ctx, tick); err != nil {
				a.logger.DebugContext(ctx, "tick cache write failed",
					slog.String("symbol", tick.Symbol),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	return a.runCore(ctx, deps, c, "trade")
}

// PaperMode runs the same pipeline against an in-process simulated broker.
// The tick feed drives the simulation's quotes so fills track the real market.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	paper := broker.NewPaper(paperStartBalance, 0, a.logger)

	c := a.buildCore(deps, paper)
	c.feed = broker.NewTickFeed(a.cfg.Broker.WsHost, a.cfg.Broker.ApiKey, a.cfg.Broker.Symbols, a.logger)
	c.feed.OnTick(func(ctx context.Context, tick domain.Tick) {
		paper.SetTick(tick)
	})

	return a.runCore(ctx, deps, c, "paper")
}

// MonitorMode tracks the live book read-only: position valuation,
// reconciliation, snapshots, and the operator API. No signals are processed
// and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	gateway, err := broker.NewREST(a.cfg.Broker)
	if err != nil {
		return err
	}
	if err := gateway.Connect(ctx); err != nil {
		return err
	}

	c := a.buildCore(deps, gateway)

	g, ctx := errgroup.WithContext(ctx)

	if err := c.recovery.RestoreSnapshot(); err != nil {
		a.logger.WarnContext(ctx, "snapshot restore failed", slog.String("error", err.Error()))
	}
	if err := c.positions.Reconcile(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial reconciliation failed", slog.String("error", err.Error()))
	}

	g.Go(func() error { return c.positions.Run(ctx) })
	g.Go(func() error { return c.recovery.RunSnapshotLoop(ctx, c.positions.OpenPositions) })
	g.Go(func() error { return c.recovery.RunHealthLoop(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveLoop(ctx, deps, c) })
	}
	a.startHTTPServer(ctx, g, deps, c, "monitor")

	return g.Wait()
}

// buildCore constructs the decision pipeline and its supervision around the
// given broker gateway.
func (a *App) buildCore(deps *Dependencies, gateway domain.BrokerGateway) *core {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	policyClient := policy.NewClient(a.cfg.Policy)

	// Recovery system first: it is the fault reporter everything else holds.
	// The escalator fans out to the policy evaluator and operator channels.
	positions := position.NewManager(gateway, deps.PositionStore, nil, a.cfg.Positions, a.cfg.Risk, a.logger)
	snapshots := recovery.NewFileSnapshotStore(a.cfg.Recovery.SnapshotPath)
	rec := recovery.New(
		a.cfg.Recovery,
		positions,
		multiEscalator{policyClient, deps.Notifier},
		snapshots,
		deps.ErrorStore,
		a.logger,
	)
	positions.SetReporter(rec)
	positions.OnClose(func(ctx context.Context, p domain.Position) {
		if err := deps.Notifier.PositionClosed(ctx, p); err != nil {
			a.logger.DebugContext(ctx, "close notification failed", slog.String("error", err.Error()))
		}
	})

	technical := validation.NewSignalValidator(
		a.cfg.Validation.ConfidenceThreshold,
		a.cfg.Validation.Timeframes,
		a.logger,
	)
	optimizer := validation.NewOptimizer(technical, policyClient, validation.Config{
		SubDeadline:        a.cfg.Validation.SubDeadline.Duration,
		TotalDeadline:      a.cfg.Validation.TotalDeadline.Duration,
		CacheTTL:           a.cfg.Validation.CacheTTL.Duration,
		CacheSize:          a.cfg.Validation.CacheSize,
		CacheMinConfidence: a.cfg.Validation.CacheMinConfidence,
		BreakerThreshold:   a.cfg.Validation.BreakerThreshold,
		BreakerCooldown:    a.cfg.Validation.BreakerCooldown.Duration,
	}, a.logger)

	var scoring domain.Scorer = scorer.NewClient(a.cfg.Scorer)
	if a.cfg.Scorer.FallbackEnabled {
		scoring = scorer.WithFallback(scoring, a.logger)
	}

	executor := execution.NewExecutor(gateway, deps.OrderStore, rec, a.cfg.Execution, a.logger)

	optimizer.SetMetrics(m)
	positions.SetMetrics(m)

	rec.RegisterBreaker(optimizer.Breaker())
	rec.RegisterBreaker(executor.Breaker())
	rec.SetMetrics(m)
	rec.RegisterComponent(recovery.Component{
		Name: "broker",
		Check: func(ctx context.Context) error {
			_, err := gateway.GetAccountInfo(ctx)
			return err
		},
		Recover: gateway.Connect,
	})
	if deps.CacheHealth != nil {
		rec.RegisterComponent(recovery.Component{
			Name:  "cache",
			Check: deps.CacheHealth,
		})
	}
	if deps.BlobHealth != nil {
		rec.RegisterComponent(recovery.Component{
			Name:  "archive",
			Check: deps.BlobHealth,
		})
	}

	stages := []pipeline.Stage{
		&pipeline.ValidationStage{Optimizer: optimizer},
		&pipeline.ScoringStage{Scorer: scoring, MinProbability: a.cfg.Risk.MinProbability},
		&pipeline.RiskStage{
			Engine:    risk.NewEngine(a.cfg.Risk, a.logger),
			Broker:    gateway,
			Positions: positions,
		},
		&pipeline.ExecutionStage{Executor: executor},
	}
	orch := pipeline.NewOrchestrator(stages, positions, rec.TradingHalted, m, a.logger)
	pool := pipeline.NewPool(orch, a.cfg.Pipeline, a.resultObserver(deps, m, positions), m, a.logger)

	return &core{
		registry:  registry,
		metrics:   m,
		gateway:   gateway,
		optimizer: optimizer,
		executor:  executor,
		positions: positions,
		snapshots: snapshots,
		recovery:  rec,
		pool:      pool,
	}
}

// resultObserver publishes pipeline outcomes: operator notifications, event
// bus messages, and order metrics.
func (a *App) resultObserver(deps *Dependencies, m *metrics.Metrics, positions *position.Manager) func(pipeline.Result) {
	return func(res pipeline.Result) {
		ctx := context.Background()

		if res.Execution != nil {
			m.OrdersTotal.WithLabelValues(string(res.Execution.Status)).Inc()
			switch res.Execution.Status {
			case domain.ExecutionSuccess:
				m.OrderSlippage.Observe(res.Execution.Slippage)
				if err := deps.Notifier.OrderFilled(ctx, res.Execution.Order, res.Execution.Slippage); err != nil {
					a.logger.DebugContext(ctx, "fill notification failed", slog.String("error", err.Error()))
				}
			default:
				if err := deps.Notifier.OrderRejected(ctx, res.Execution.Order); err != nil {
					a.logger.DebugContext(ctx, "rejection notification failed", slog.String("error", err.Error()))
				}
			}
		}
		m.OpenPositions.Set(float64(positions.OpenCount()))

		if deps.EventBus != nil {
			payload, err := json.Marshal(map[string]any{
				"trace_id":  res.TraceID,
				"signal_id": res.Signal.ID,
				"symbol":    res.Signal.Symbol,
				"completed": res.Completed,
				"stage":     res.StoppedAt,
				"reason":    res.Reason,
			})
			if err == nil {
				if err := deps.EventBus.Publish(ctx, "tradecore:results", payload); err != nil {
					a.logger.DebugContext(ctx, "result publish failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// runCore starts the full pipeline goroutine set and blocks until the context
// is cancelled or a subsystem fails.
func (a *App) runCore(ctx context.Context, deps *Dependencies, c *core, mode string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.recovery.OnEmergencyShutdown(func() {
		if err := deps.Notifier.EmergencyStop(context.Background(), "trading halted, book liquidated"); err != nil {
			a.logger.Warn("emergency notification failed", slog.String("error", err.Error()))
		}
		cancel()
	})

	g, ctx := errgroup.WithContext(ctx)

	if err := c.recovery.RestoreSnapshot(); err != nil {
		a.logger.WarnContext(ctx, "snapshot restore failed", slog.String("error", err.Error()))
	}
	if err := c.positions.Reconcile(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial reconciliation failed", slog.String("error", err.Error()))
	}

	g.Go(func() error { return c.executor.Run(ctx) })
	g.Go(func() error { return c.positions.Run(ctx) })
	g.Go(func() error { return c.pool.Run(ctx) })
	g.Go(func() error { return c.recovery.RunSnapshotLoop(ctx, c.positions.OpenPositions) })
	g.Go(func() error { return c.recovery.RunHealthLoop(ctx) })
	if c.feed != nil {
		g.Go(func() error { return c.feed.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveLoop(ctx, deps, c) })
	}
	a.startHTTPServer(ctx, g, deps, c, mode)

	return g.Wait()
}

// runArchiveLoop ships closed trades, error events, and the latest system
// snapshot to cold storage once a day. Failures are logged and retried on the
// next tick.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies, c *core) error {
	const interval = 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			since := time.Now().Add(-interval)
			if n, err := deps.Archiver.ArchiveClosedTrades(ctx, since); err != nil {
				a.logger.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "trades archived", slog.Int64("count", n))
			}
			if _, err := deps.Archiver.ArchiveErrorEvents(ctx, interval); err != nil {
				a.logger.WarnContext(ctx, "error-event archive failed", slog.String("error", err.Error()))
			}
			snap, err := c.snapshots.Load()
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					a.logger.WarnContext(ctx, "snapshot load failed", slog.String("error", err.Error()))
				}
				continue
			}
			if err := deps.Archiver.ArchiveSnapshot(ctx, snap); err != nil {
				a.logger.WarnContext(ctx, "snapshot archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// startHTTPServer adds the operator API goroutines to the errgroup when the
// server is enabled in config.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, mode string) {
	if !a.cfg.Server.Enabled {
		return
	}

	// Monitor mode watches the book only; signal intake is disabled there.
	var submitter handler.SignalSubmitter = c.pool
	if mode == "monitor" {
		submitter = rejectSubmitter{}
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(c.recovery, a.logger),
		Status:    handler.NewStatusHandler(mode, c.recovery),
		Signals:   handler.NewSignalHandler(submitter, a.logger),
		Orders:    handler.NewOrderHandler(deps.OrderStore, a.logger),
		Positions: handler.NewPositionHandler(c.positions, a.logger),
		Recovery:  handler.NewRecoveryHandler(c.recovery, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, c.registry, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// rejectSubmitter refuses every signal; used when the mode does not trade.
type rejectSubmitter struct{}

func (rejectSubmitter) Submit(domain.Signal) error {
	return fmt.Errorf("app: monitor mode: %w", domain.ErrTradingHalted)
}

// multiEscalator fans one escalation out to every configured target. The
// first error is returned; remaining targets are still attempted.
type multiEscalator []recovery.Escalator

func (m multiEscalator) Escalate(ctx context.Context, reason string, events []domain.ErrorEvent) error {
	var first error
	for _, e := range m {
		if err := e.Escalate(ctx, reason, events); err != nil && first == nil {
			first = err
		}
	}
	return first
}
