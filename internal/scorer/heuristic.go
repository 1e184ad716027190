package scorer

import (
	"context"
	"log/slog"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// Heuristic is a rule-based scorer used when the ML service is unavailable.
// It folds the same features the model consumes into a coarse probability:
// reward:risk, volume confirmation, momentum alignment, and session quality,
// penalized by volatility and news risk. Its confidence is deliberately low
// so downstream sizing stays conservative.
type Heuristic struct{}

const heuristicConfidence = 0.4

func (Heuristic) Score(_ context.Context, sig domain.Signal) (domain.Score, error) {
	p := 0.5

	if rr := sig.RewardRisk(); rr >= 2.0 {
		p += 0.10
	} else if rr >= 1.5 {
		p += 0.05
	} else {
		p -= 0.10
	}

	if sig.Context.AverageVolume > 0 {
		ratio := sig.Context.BreakVolume / sig.Context.AverageVolume
		switch {
		case ratio >= 2.0:
			p += 0.10
		case ratio >= 1.5:
			p += 0.05
		case ratio < 0.8:
			p -= 0.05
		}
	}

	momentum := sig.Context.Momentum
	if sig.Direction == domain.DirectionShort {
		momentum = -momentum
	}
	switch {
	case momentum >= 0.5:
		p += 0.10
	case momentum > 0:
		p += 0.05
	case momentum < -0.3:
		p -= 0.10
	}

	switch sig.Context.Session {
	case "london", "newyork":
		p += 0.05
	case "off":
		p -= 0.05
	}

	if sig.Context.Volatility > 1.5 {
		p -= 0.05
	}
	if sig.Context.NewsRisk > 0.7 {
		p -= 0.10
	}

	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return domain.Score{Probability: p, Confidence: heuristicConfidence}, nil
}

// WithFallback returns a scorer that tries primary first and falls back to
// the heuristic on error.
func WithFallback(primary domain.Scorer, logger *slog.Logger) domain.Scorer {
	return &fallbackScorer{
		primary:  primary,
		fallback: Heuristic{},
		logger:   logger.With(slog.String("component", "scorer")),
	}
}

type fallbackScorer struct {
	primary  domain.Scorer
	fallback Heuristic
	logger   *slog.Logger
}

func (f *fallbackScorer) Score(ctx context.Context, sig domain.Signal) (domain.Score, error) {
	score, err := f.primary.Score(ctx, sig)
	if err == nil {
		return score, nil
	}
	f.logger.Warn("scoring service unavailable, using heuristic",
		slog.String("signal_id", sig.ID),
		slog.String("error", err.Error()),
	)
	return f.fallback.Score(ctx, sig)
}
