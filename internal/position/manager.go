// Package position tracks open trading positions: mark-to-market valuation
// on a fixed tick, automatic closure on stop/target touch and portfolio
// triggers, broker reconciliation, and rolling trade statistics.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

const componentName = "position_manager"

// Risk-level thresholds as a fraction of the position's risk budget consumed
// by unrealized loss.
const (
	riskLevelMediumAt   = 0.25
	riskLevelHighAt     = 0.50
	riskLevelCriticalAt = 0.80
)

// Manager owns every position's lifecycle. Positions are mutated only while
// holding the manager's lock; tick valuation, closure rules, and broker
// reconciliation all run on the monitor loop.
type Manager struct {
	broker   domain.BrokerGateway
	store    domain.PositionStore // optional audit trail
	reporter domain.FaultReporter
	cfg      config.PositionsConfig
	riskCfg  config.RiskConfig
	metrics  *metrics.Metrics // optional instrumentation
	logger   *slog.Logger

	onClose func(ctx context.Context, p domain.Position)

	mu        sync.RWMutex
	open      map[string]*domain.Position
	stats     statsTracker
	tickCount int
}

// NewManager creates a position manager over the given broker gateway.
// store and reporter may be nil.
func NewManager(broker domain.BrokerGateway, store domain.PositionStore, reporter domain.FaultReporter, cfg config.PositionsConfig, riskCfg config.RiskConfig, logger *slog.Logger) *Manager {
	if reporter == nil {
		reporter = domain.NopReporter{}
	}
	return &Manager{
		broker:   broker,
		store:    store,
		reporter: reporter,
		cfg:      cfg,
		riskCfg:  riskCfg,
		logger:   logger.With(slog.String("component", componentName)),
		open:     make(map[string]*domain.Position),
	}
}

// SetReporter replaces the fault reporter. The manager is constructed before
// the recovery system that reports into it, so wiring happens in two steps.
func (m *Manager) SetReporter(r domain.FaultReporter) {
	if r == nil {
		return
	}
	m.reporter = r
}

// SetMetrics wires the process-wide metrics. Optional; set before Run.
func (m *Manager) SetMetrics(mm *metrics.Metrics) {
	m.metrics = mm
}

// OnClose registers a callback invoked with the final state of every position
// that reaches the closed status. Set before Run.
func (m *Manager) OnClose(fn func(ctx context.Context, p domain.Position)) {
	m.onClose = fn
}

// Register adopts a filled order as a new open position.
func (m *Manager) Register(ctx context.Context, order domain.Order, decision domain.RiskDecision) (domain.Position, error) {
	if order.Status != domain.OrderStatusFilled {
		return domain.Position{}, fmt.Errorf("position: register: order %s is %s, not filled", order.ID, order.Status)
	}

	p := domain.Position{
		ID:           uuid.New().String(),
		OrderID:      order.ID,
		BrokerTicket: order.BrokerTicket,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Volume:       order.FilledQuantity,
		EntryPrice:   order.FillPrice,
		CurrentPrice: order.FillPrice,
		Commission:   order.Commission,
		StopLoss:     decision.StopLoss,
		TakeProfit:   decision.TakeProfit,
		RiskAmount:   decision.RiskAmount,
		RiskLevel:    domain.RiskLevelLow,
		Status:       domain.PositionStatusOpen,
		OpenedAt:     time.Now().UTC(),
	}

	m.mu.Lock()
	m.open[p.ID] = &p
	m.mu.Unlock()

	m.persist(ctx, p, true)
	m.logger.Info("position opened",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("side", string(p.Side)),
		slog.Float64("volume", p.Volume),
		slog.Float64("entry", p.EntryPrice),
	)
	return p, nil
}

// Run drives the monitor loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MonitorInterval.Duration)
	defer ticker.Stop()

	m.logger.Info("position monitor started",
		slog.Duration("interval", m.cfg.MonitorInterval.Duration))
	defer m.logger.Info("position monitor stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.MonitorTick(ctx)
		}
	}
}

// MonitorTick runs one monitoring pass: refresh prices per open symbol,
// revalue every position, apply closure rules, and periodically reconcile
// against the broker.
func (m *Manager) MonitorTick(ctx context.Context) {
	m.mu.Lock()
	m.tickCount++
	reconcile := m.cfg.ReconcileEvery > 0 && m.tickCount%m.cfg.ReconcileEvery == 0
	symbols := make(map[string]struct{}, len(m.open))
	for _, p := range m.open {
		symbols[p.Symbol] = struct{}{}
	}
	m.mu.Unlock()

	if len(symbols) > 0 {
		ticks := make(map[string]domain.Tick, len(symbols))
		for sym := range symbols {
			tick, err := m.broker.GetTick(ctx, sym)
			if err != nil {
				m.logger.Warn("tick refresh failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
				continue
			}
			ticks[sym] = tick
		}

		toClose := m.revalue(ticks)
		for _, c := range toClose {
			if err := m.Close(ctx, c.id, c.reason); err != nil {
				m.logger.Error("rule close failed",
					slog.String("position_id", c.id),
					slog.String("error", err.Error()),
				)
			}
		}

		m.checkPortfolioTriggers(ctx)
	}

	if reconcile {
		if err := m.Reconcile(ctx); err != nil {
			m.logger.Warn("reconciliation failed", slog.String("error", err.Error()))
		}
	}
}

type pendingClose struct {
	id     string
	reason string
}

// revalue marks every open position to the latest tick and returns those due
// for rule-based closure. Valuation is a pure function of the price: two
// passes at an unchanged price leave the position unchanged.
func (m *Manager) revalue(ticks map[string]domain.Tick) []pendingClose {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []pendingClose
	for _, p := range m.open {
		tick, ok := ticks[p.Symbol]
		if !ok || p.Status != domain.PositionStatusOpen {
			continue
		}
		price := closeSidePrice(p.Side, tick)
		valuate(p, price, m.riskCfg.UnitValue(p.Symbol))

		if reason, hit := stopOrTargetHit(p, price); hit {
			due = append(due, pendingClose{id: p.ID, reason: reason})
		}
	}

	if m.metrics != nil {
		var total float64
		for _, p := range m.open {
			total += p.UnrealizedPnL
		}
		m.metrics.UnrealizedPnL.Set(total)
	}
	return due
}

// closeSidePrice returns the price the position would close at: a long exits
// on the bid, a short on the ask.
func closeSidePrice(side domain.OrderSide, tick domain.Tick) float64 {
	if side == domain.OrderSideBuy {
		return tick.Bid
	}
	return tick.Ask
}

// valuate recomputes the position's mark-to-market state at the given price.
func valuate(p *domain.Position, price, unitValue float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.DirectionSign() * p.Volume * unitValue

	if p.UnrealizedPnL > p.MaxFavorable {
		p.MaxFavorable = p.UnrealizedPnL
	}
	if p.UnrealizedPnL < p.MaxAdverse {
		p.MaxAdverse = p.UnrealizedPnL
	}
	p.RiskLevel = riskLevelFor(p.UnrealizedPnL, p.RiskAmount)
}

// riskLevelFor grades an unrealized loss against the monetary risk budgeted
// at entry.
func riskLevelFor(unrealized, riskAmount float64) domain.RiskLevel {
	if unrealized >= 0 || riskAmount <= 0 {
		return domain.RiskLevelLow
	}
	ratio := -unrealized / riskAmount
	switch {
	case ratio >= riskLevelCriticalAt:
		return domain.RiskLevelCritical
	case ratio >= riskLevelHighAt:
		return domain.RiskLevelHigh
	case ratio >= riskLevelMediumAt:
		return domain.RiskLevelMedium
	}
	return domain.RiskLevelLow
}

// stopOrTargetHit reports whether the price has touched the position's stop
// or target.
func stopOrTargetHit(p *domain.Position, price float64) (string, bool) {
	long := p.Side == domain.OrderSideBuy
	if p.StopLoss > 0 {
		if (long && price <= p.StopLoss) || (!long && price >= p.StopLoss) {
			return "stop loss", true
		}
	}
	if p.TakeProfit > 0 {
		if (long && price >= p.TakeProfit) || (!long && price <= p.TakeProfit) {
			return "take profit", true
		}
	}
	return "", false
}

// checkPortfolioTriggers liquidates the whole book when an account-level
// limit is breached: margin level under the stop-out threshold or daily loss
// past the configured limit.
func (m *Manager) checkPortfolioTriggers(ctx context.Context) {
	acct, err := m.broker.GetAccountInfo(ctx)
	if err != nil {
		m.logger.Warn("account info unavailable", slog.String("error", err.Error()))
		return
	}

	if acct.MarginLevel > 0 && acct.MarginLevel < m.cfg.StopOutLevel {
		m.logger.Error("margin stop-out triggered",
			slog.Float64("margin_level", acct.MarginLevel),
			slog.Float64("stop_out_level", m.cfg.StopOutLevel),
		)
		m.EmergencyCloseAll(ctx, "margin stop-out")
		return
	}

	dailyLimit := acct.Balance * m.riskCfg.DailyLossLimitPct / 100
	if dailyLimit > 0 && acct.DailyPnL <= -dailyLimit {
		m.logger.Error("daily loss limit breached",
			slog.Float64("daily_pnl", acct.DailyPnL),
			slog.Float64("limit", dailyLimit),
		)
		m.EmergencyCloseAll(ctx, "daily loss limit")
	}
}

// Close transitions one position open -> closing -> closed, or failed when
// the broker refuses the close. A failed close is surfaced as an error event,
// never silently retried.
func (m *Manager) Close(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	p, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("position: close %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != domain.PositionStatusOpen {
		m.mu.Unlock()
		return fmt.Errorf("position: close %s: already %s", id, p.Status)
	}
	p.Status = domain.PositionStatusClosing
	snapshot := *p
	m.mu.Unlock()

	res, err := m.broker.ClosePosition(ctx, snapshot.BrokerTicket, snapshot.Volume)
	if err != nil || !res.Success {
		msg := res.Message
		if err != nil {
			msg = err.Error()
		}
		m.finalize(ctx, id, domain.PositionStatusFailed, 0, 0, reason)
		m.reporter.ReportError(ctx, componentName, domain.ErrorKindPosition, domain.SeverityHigh,
			fmt.Sprintf("close failed for %s: %s", snapshot.Symbol, msg), map[string]string{
				"position_id": id,
				"ticket":      fmt.Sprintf("%d", snapshot.BrokerTicket),
				"reason":      reason,
			})
		return fmt.Errorf("position: close %s: broker refused: %s", id, msg)
	}

	m.finalize(ctx, id, domain.PositionStatusClosed, res.Profit, res.Commission, reason)
	m.logger.Info("position closed",
		slog.String("position_id", id),
		slog.String("symbol", snapshot.Symbol),
		slog.Float64("profit", res.Profit),
		slog.String("reason", reason),
	)
	return nil
}

// finalize moves a position out of the open set into its terminal state and
// feeds the trade statistics.
func (m *Manager) finalize(ctx context.Context, id string, status domain.PositionStatus, profit, commission float64, reason string) {
	m.mu.Lock()
	p, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	p.Status = status
	p.CloseReason = reason
	p.ClosedAt = &now
	if status == domain.PositionStatusClosed {
		p.RealizedPnL = profit
		p.Commission += commission
		m.stats.record(profit)
		if m.metrics != nil {
			m.metrics.RealizedPnL.Add(profit)
		}
	}
	done := *p
	delete(m.open, id)
	m.mu.Unlock()

	m.persist(ctx, done, false)
	if status == domain.PositionStatusClosed && m.onClose != nil {
		m.onClose(ctx, done)
	}
}

// EmergencyCloseAll closes every open position independently: one failure
// does not stop the sweep. It returns the closed and failed counts.
func (m *Manager) EmergencyCloseAll(ctx context.Context, reason string) (closed, failed int) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.open))
	for id, p := range m.open {
		if p.Status == domain.PositionStatusOpen {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	m.logger.Warn("emergency close all",
		slog.Int("positions", len(ids)),
		slog.String("reason", reason),
	)
	for _, id := range ids {
		if err := m.Close(ctx, id, reason); err != nil {
			failed++
			continue
		}
		closed++
	}
	m.logger.Info("emergency close complete",
		slog.Int("closed", closed),
		slog.Int("failed", failed),
	)
	return closed, failed
}

// Reconcile compares the local open set against the broker's view. Positions
// the broker no longer holds are finalized as externally closed; broker
// positions with no local record are adopted. Either mismatch is repaired in
// place and still reported as a sync failure the caller can test with
// errors.Is against domain.ErrPositionSync.
func (m *Manager) Reconcile(ctx context.Context) error {
	brokerPositions, err := m.broker.GetPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("position: reconcile: %w", err)
	}

	byTicket := make(map[int64]domain.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		byTicket[bp.Ticket] = bp
	}

	m.mu.Lock()
	var vanished []string
	known := make(map[int64]struct{}, len(m.open))
	for id, p := range m.open {
		known[p.BrokerTicket] = struct{}{}
		if _, held := byTicket[p.BrokerTicket]; !held && p.Status == domain.PositionStatusOpen {
			vanished = append(vanished, id)
		}
	}
	m.mu.Unlock()

	for _, id := range vanished {
		m.mu.Lock()
		p, ok := m.open[id]
		var realized float64
		if ok {
			realized = p.UnrealizedPnL
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		m.logger.Warn("position closed at broker, adopting result",
			slog.String("position_id", id),
			slog.Float64("realized", realized),
		)
		m.finalize(ctx, id, domain.PositionStatusClosed, realized, 0, "closed at broker")
		m.reporter.ReportError(ctx, componentName, domain.ErrorKindPosition, domain.SeverityMedium,
			fmt.Sprintf("position %s closed externally at broker", id), map[string]string{
				"position_id": id,
			})
	}

	mismatches := len(vanished)
	for _, bp := range brokerPositions {
		if _, ok := known[bp.Ticket]; ok {
			continue
		}
		mismatches++
		p := domain.Position{
			ID:           uuid.New().String(),
			BrokerTicket: bp.Ticket,
			Symbol:       bp.Symbol,
			Side:         bp.Side,
			Volume:       bp.Volume,
			EntryPrice:   bp.EntryPrice,
			CurrentPrice: bp.EntryPrice,
			RiskLevel:    domain.RiskLevelLow,
			Status:       domain.PositionStatusOpen,
			OpenedAt:     time.Now().UTC(),
		}
		m.mu.Lock()
		m.open[p.ID] = &p
		m.mu.Unlock()

		m.logger.Warn("adopted untracked broker position",
			slog.Int64("ticket", bp.Ticket),
			slog.String("symbol", bp.Symbol),
		)
		m.persist(ctx, p, true)
		m.reporter.ReportError(ctx, componentName, domain.ErrorKindPosition, domain.SeverityMedium,
			fmt.Sprintf("untracked broker position %d adopted", bp.Ticket), map[string]string{
				"ticket": fmt.Sprintf("%d", bp.Ticket),
				"symbol": bp.Symbol,
			})
	}

	if mismatches > 0 {
		return fmt.Errorf("position: reconcile: %d mismatches repaired: %w", mismatches, domain.ErrPositionSync)
	}
	return nil
}

// OpenPositions returns a copy of every currently open position.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// Get returns one position from the open set.
func (m *Manager) Get(id string) (domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.open[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("position: get %s: %w", id, domain.ErrNotFound)
	}
	return *p, nil
}

// Stats returns the rolling trade statistics over closed positions.
func (m *Manager) Stats() domain.TradeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats.snapshot()
}

// persist writes the position audit record when a store is configured.
// Persistence failures never propagate into position handling.
func (m *Manager) persist(ctx context.Context, p domain.Position, create bool) {
	if m.store == nil {
		return
	}
	var err error
	if create {
		err = m.store.Create(ctx, p)
	} else {
		err = m.store.Update(ctx, p)
	}
	if err != nil {
		m.logger.Warn("position persistence failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}
