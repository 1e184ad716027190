package scorer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/domain"
)

func baseSignal() domain.Signal {
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
			AverageVolume: 1000,
			BreakVolume:   2200,
			Momentum:      0.8,
			Session:       "london",
			Volatility:    1.0,
		},
		DetectedAt: time.Now().UTC(),
	}
}

func TestHeuristicFavorsStrongSignals(t *testing.T) {
	strong, err := Heuristic{}.Score(context.Background(), baseSignal())
	require.NoError(t, err)

	weak := baseSignal()
	weak.TakeProfit = 1.1040 // reward:risk below 1
	weak.Context.BreakVolume = 500
	weak.Context.Momentum = -0.5
	weak.Context.Session = "off"
	weak.Context.NewsRisk = 0.9
	weakScore, err := Heuristic{}.Score(context.Background(), weak)
	require.NoError(t, err)

	assert.Greater(t, strong.Probability, weakScore.Probability)
	assert.GreaterOrEqual(t, strong.Probability, 0.7)
	assert.LessOrEqual(t, weakScore.Probability, 0.3)
}

func TestHeuristicInvertsMomentumForShorts(t *testing.T) {
	long := baseSignal()
	long.Context.Momentum = 0.8

	short := baseSignal()
	short.Direction = domain.DirectionShort
	short.StopLoss = 1.1050
	short.TakeProfit = 1.0900
	short.Context.Momentum = 0.8 // against the short

	longScore, err := Heuristic{}.Score(context.Background(), long)
	require.NoError(t, err)
	shortScore, err := Heuristic{}.Score(context.Background(), short)
	require.NoError(t, err)

	assert.Greater(t, longScore.Probability, shortScore.Probability)
}

func TestHeuristicProbabilityStaysInRange(t *testing.T) {
	sig := baseSignal()
	sig.Context.NewsRisk = 1
	sig.Context.Volatility = 3
	sig.Context.Momentum = -1
	sig.Context.BreakVolume = 0
	sig.Context.Session = "off"
	sig.TakeProfit = 1.1010

	score, err := Heuristic{}.Score(context.Background(), sig)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score.Probability, 0.0)
	assert.LessOrEqual(t, score.Probability, 1.0)
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, domain.Signal) (domain.Score, error) {
	return domain.Score{}, errors.New("connection refused")
}

type fixedScorer struct{ score domain.Score }

func (s fixedScorer) Score(context.Context, domain.Signal) (domain.Score, error) {
	return s.score, nil
}

func TestWithFallback(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	primary := WithFallback(fixedScorer{score: domain.Score{Probability: 0.9, Confidence: 0.8}}, logger)
	score, err := primary.Score(context.Background(), baseSignal())
	require.NoError(t, err)
	assert.Equal(t, 0.9, score.Probability)

	degraded := WithFallback(failingScorer{}, logger)
	score, err = degraded.Score(context.Background(), baseSignal())
	require.NoError(t, err)
	assert.Equal(t, heuristicConfidence, score.Confidence)
}
