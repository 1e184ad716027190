// Package validation implements the structural signal validator and the
// validation optimizer that bounds total validation latency.
package validation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// Confidence component weights. They sum to 1 before the session, volatility,
// and news adjustments are applied.
const (
	weightBreakStrength = 0.35
	weightVolume        = 0.25
	weightMomentum      = 0.20
	weightFalseBreak    = 0.20
)

// SignalValidator performs the structural and statistical check of a raw
// pattern signal. It is a pure computation; the only latency it contributes
// is arithmetic.
type SignalValidator struct {
	threshold  float64
	timeframes map[string]bool
	logger     *slog.Logger
}

// NewSignalValidator creates a validator approving signals whose structural
// confidence reaches threshold. Only the whitelisted timeframes are accepted.
func NewSignalValidator(threshold float64, timeframes []string, logger *slog.Logger) *SignalValidator {
	allowed := make(map[string]bool, len(timeframes))
	for _, tf := range timeframes {
		allowed[tf] = true
	}
	return &SignalValidator{
		threshold:  threshold,
		timeframes: allowed,
		logger:     logger.With(slog.String("component", "signal_validator")),
	}
}

// Validate checks a signal's structure and scores it. Missing required
// structure returns domain.ErrInvalidSignal; malformed optional context
// fields are treated as neutral, never as errors.
func (v *SignalValidator) Validate(sig domain.Signal) (domain.ValidationVerdict, error) {
	start := time.Now()

	if err := v.checkStructure(sig); err != nil {
		return domain.ValidationVerdict{}, err
	}

	confidence, reasons := v.score(sig)

	verdict := domain.ValidationVerdict{
		Approved:   confidence >= v.threshold,
		Confidence: confidence,
		Source:     domain.VerdictSourceFresh,
		Latency:    time.Since(start),
		Reasons:    reasons,
		CreatedAt:  time.Now().UTC(),
	}
	if !verdict.Approved {
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, v.threshold))
	}
	return verdict, nil
}

// checkStructure validates required fields, the timeframe whitelist, and
// price-level consistency for the stated direction.
func (v *SignalValidator) checkStructure(sig domain.Signal) error {
	if sig.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", domain.ErrInvalidSignal)
	}
	if sig.Direction != domain.DirectionLong && sig.Direction != domain.DirectionShort {
		return fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidSignal, sig.Direction)
	}
	if sig.Pattern == "" {
		return fmt.Errorf("%w: missing pattern type", domain.ErrInvalidSignal)
	}
	if len(v.timeframes) > 0 && !v.timeframes[sig.Timeframe] {
		return fmt.Errorf("%w: timeframe %q not allowed", domain.ErrInvalidSignal, sig.Timeframe)
	}
	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 || sig.TakeProfit <= 0 {
		return fmt.Errorf("%w: price levels must be positive", domain.ErrInvalidSignal)
	}

	// Stop and target must sit on the correct side of entry.
	switch sig.Direction {
	case domain.DirectionLong:
		if sig.StopLoss >= sig.EntryPrice {
			return fmt.Errorf("%w: long stop %.5f not below entry %.5f", domain.ErrInvalidSignal, sig.StopLoss, sig.EntryPrice)
		}
		if sig.TakeProfit <= sig.EntryPrice {
			return fmt.Errorf("%w: long target %.5f not above entry %.5f", domain.ErrInvalidSignal, sig.TakeProfit, sig.EntryPrice)
		}
	case domain.DirectionShort:
		if sig.StopLoss <= sig.EntryPrice {
			return fmt.Errorf("%w: short stop %.5f not above entry %.5f", domain.ErrInvalidSignal, sig.StopLoss, sig.EntryPrice)
		}
		if sig.TakeProfit >= sig.EntryPrice {
			return fmt.Errorf("%w: short target %.5f not below entry %.5f", domain.ErrInvalidSignal, sig.TakeProfit, sig.EntryPrice)
		}
	}
	return nil
}

// score combines the structural confidence components with fixed weights and
// applies session, volatility, and news multipliers. The result is capped at
// 1.0.
func (v *SignalValidator) score(sig domain.Signal) (float64, []string) {
	var reasons []string
	ctx := sig.Context

	breakStrength := v.breakStrength(sig)
	volumeConf := v.volumeConfirmation(sig)
	momentum := v.momentumAlignment(sig)
	falseBreak := 1 - v.falseBreakRisk(sig)

	confidence := weightBreakStrength*breakStrength +
		weightVolume*volumeConf +
		weightMomentum*momentum +
		weightFalseBreak*falseBreak

	reasons = append(reasons, fmt.Sprintf(
		"break=%.2f volume=%.2f momentum=%.2f falsebreak=%.2f", breakStrength, volumeConf, momentum, falseBreak))

	// Session adjustment: major sessions boost, off-hours penalize.
	switch ctx.Session {
	case "london", "newyork":
		confidence *= 1.05
		reasons = append(reasons, "major session boost")
	case "off":
		confidence *= 0.85
		reasons = append(reasons, "off-session penalty")
	}

	// Volatility adjustment: elevated volatility reduces structural trust.
	if ctx.Volatility > 1.5 {
		confidence *= 0.85
		reasons = append(reasons, "high volatility penalty")
	}

	// News-risk adjustment.
	if ctx.NewsRisk > 0.7 {
		confidence *= 0.8
		reasons = append(reasons, "high news risk penalty")
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, reasons
}

// breakStrength grades the break distance relative to the stop distance. A
// break reaching half the stop distance is considered full strength.
func (v *SignalValidator) breakStrength(sig domain.Signal) float64 {
	stop := sig.StopDistance()
	if stop <= 0 || sig.Context.BreakDistance <= 0 {
		return 0.5 // neutral when unknown
	}
	strength := sig.Context.BreakDistance / (stop * 0.5)
	if strength > 1 {
		strength = 1
	}
	return strength
}

// volumeConfirmation expects a volume spike for break patterns and a volume
// decline for retest patterns.
func (v *SignalValidator) volumeConfirmation(sig domain.Signal) float64 {
	ctx := sig.Context
	if ctx.AverageVolume <= 0 || ctx.BreakVolume <= 0 {
		return 0.5
	}
	ratio := ctx.BreakVolume / ctx.AverageVolume

	if sig.Pattern == domain.PatternRetest {
		// Retests should come in on declining volume.
		switch {
		case ratio <= 0.7:
			return 1
		case ratio <= 1.0:
			return 0.7
		default:
			return 0.3
		}
	}

	// Break patterns should come in on a spike.
	switch {
	case ratio >= 2.0:
		return 1
	case ratio >= 1.5:
		return 0.8
	case ratio >= 1.0:
		return 0.5
	default:
		return 0.2
	}
}

// momentumAlignment maps signed momentum onto [0,1] relative to the signal
// direction.
func (v *SignalValidator) momentumAlignment(sig domain.Signal) float64 {
	m := sig.Context.Momentum
	if sig.Direction == domain.DirectionShort {
		m = -m
	}
	switch {
	case m >= 1:
		return 1
	case m <= -1:
		return 0
	default:
		return (m + 1) / 2
	}
}

// falseBreakRisk estimates the chance the break fails: shallow breaks on weak
// volume are the classic false break.
func (v *SignalValidator) falseBreakRisk(sig domain.Signal) float64 {
	risk := 0.3 // base rate
	if v.breakStrength(sig) < 0.3 {
		risk += 0.3
	}
	if v.volumeConfirmation(sig) < 0.4 {
		risk += 0.2
	}
	if sig.Context.Volatility > 2 {
		risk += 0.1
	}
	if risk > 1 {
		risk = 1
	}
	return risk
}
