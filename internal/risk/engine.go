// Package risk implements the pre-trade risk engine: ordered limit checks and
// position sizing against current account state.
package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/breakoutlab/tradecore/internal/config"
	"github.com/breakoutlab/tradecore/internal/domain"
)

// Probability-based size scaling bounds: a score at the minimum threshold
// trades at 60% of the per-trade risk budget, a perfect score at 100%. The
// ceiling stays at 1 so the monetary risk can never exceed the budget.
const (
	probScaleFloor = 0.6
	probScaleCeil  = 1.0
)

// Engine evaluates scored signals against account limits and computes
// position size. Evaluate is a pure function of its inputs; the engine
// mutates no shared state.
type Engine struct {
	cfg    config.RiskConfig
	logger *slog.Logger
}

// NewEngine creates a risk engine with the given limits.
func NewEngine(cfg config.RiskConfig, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_engine")),
	}
}

// Evaluate runs every risk check and, when all pass, sizes the position. On
// rejection the decision names every failed check, not just the first.
func (e *Engine) Evaluate(sig domain.Signal, score domain.Score, account domain.AccountState) domain.RiskDecision {
	var failed []string

	stopDistance := sig.StopDistance()
	if stopDistance <= 0 {
		failed = append(failed, "stop distance is zero")
	}

	// 1. Remaining daily-loss budget.
	dailyLimit := account.Balance * e.cfg.DailyLossLimitPct / 100
	if dailyLimit+account.DailyPnL <= 0 {
		failed = append(failed, fmt.Sprintf(
			"daily loss budget exhausted (pnl %.2f, limit %.2f)", account.DailyPnL, dailyLimit))
	}

	// 2. Remaining total-loss budget against the equity high-water mark.
	hwm := account.HighWaterMark
	if hwm < account.Equity {
		hwm = account.Equity
	}
	totalLimit := hwm * e.cfg.TotalLossLimitPct / 100
	drawdown := hwm - account.Equity
	if totalLimit-drawdown <= 0 {
		failed = append(failed, fmt.Sprintf(
			"total loss budget exhausted (drawdown %.2f, limit %.2f)", drawdown, totalLimit))
	}

	// 3. Open-position count.
	if account.OpenPositions >= e.cfg.MaxOpenPositions {
		failed = append(failed, fmt.Sprintf(
			"max open positions reached (%d/%d)", account.OpenPositions, e.cfg.MaxOpenPositions))
	}

	// 4. Minimum score.
	if score.Probability < e.cfg.MinProbability {
		failed = append(failed, fmt.Sprintf(
			"probability %.2f below minimum %.2f", score.Probability, e.cfg.MinProbability))
	}

	// 5. Reward:risk ratio.
	if rr := sig.RewardRisk(); rr < e.cfg.MinRewardRisk {
		failed = append(failed, fmt.Sprintf(
			"reward:risk %.2f below minimum %.2f", rr, e.cfg.MinRewardRisk))
	}

	if len(failed) > 0 {
		e.logger.Debug("risk rejected",
			slog.String("signal_id", sig.ID),
			slog.Any("failed_checks", failed),
		)
		return domain.RiskDecision{Approved: false, FailedChecks: failed}
	}

	size, riskAmount := e.positionSize(sig, score, account, stopDistance)
	if size <= 0 {
		return domain.RiskDecision{
			Approved:     false,
			FailedChecks: []string{"computed position size below minimum lot"},
		}
	}

	return domain.RiskDecision{
		Approved:   true,
		Size:       size,
		RiskAmount: riskAmount,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
}

// positionSize computes lots from the per-trade risk budget, the session
// multiplier, and probability scaling, clamped to lot bounds and rounded down
// to the lot step. It returns the rounded size together with the monetary
// risk it carries.
func (e *Engine) positionSize(sig domain.Signal, score domain.Score, account domain.AccountState, stopDistance float64) (float64, float64) {
	unitValue := e.cfg.UnitValue(sig.Symbol)
	riskBudget := account.Balance * e.cfg.RiskPerTradePct / 100

	size := riskBudget / (stopDistance * unitValue)
	size *= e.cfg.SessionMultiplier(sig.Context.Session)
	size *= probabilityScale(score.Probability, e.cfg.MinProbability)

	// Clamp, then round down to the broker's lot step so the monetary risk
	// never exceeds the budget.
	if size > e.cfg.MaxLot {
		size = e.cfg.MaxLot
	}
	size = math.Floor(size/e.cfg.LotStep) * e.cfg.LotStep
	if size < e.cfg.MinLot {
		return 0, 0
	}

	riskAmount := size * unitValue * stopDistance
	return size, riskAmount
}

// probabilityScale maps a score in [minProb, 1] onto [probScaleFloor,
// probScaleCeil]: higher-conviction scores trade larger.
func probabilityScale(probability, minProbability float64) float64 {
	if minProbability >= 1 {
		return probScaleFloor
	}
	t := (probability - minProbability) / (1 - minProbability)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return probScaleFloor + t*(probScaleCeil-probScaleFloor)
}
