package validation

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func validLongSignal() domain.Signal {
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
			BreakDistance: 0.0030,
			AverageVolume: 1000,
			BreakVolume:   2200,
			Momentum:      0.8,
			Session:       "london",
			Volatility:    1.0,
		},
		DetectedAt: time.Now().UTC(),
	}
}

func TestValidateApprovesStrongSignal(t *testing.T) {
	v := NewSignalValidator(0.75, []string{"M15", "H1", "H4"}, testLogger())

	verdict, err := v.Validate(validLongSignal())
	require.NoError(t, err)

	assert.True(t, verdict.Approved)
	assert.GreaterOrEqual(t, verdict.Confidence, 0.75)
	assert.LessOrEqual(t, verdict.Confidence, 1.0)
	assert.Equal(t, domain.VerdictSourceFresh, verdict.Source)
}

func TestValidateRejectsMissingStructure(t *testing.T) {
	v := NewSignalValidator(0.75, []string{"H1"}, testLogger())

	cases := []struct {
		name   string
		mutate func(*domain.Signal)
	}{
		{"missing symbol", func(s *domain.Signal) { s.Symbol = "" }},
		{"unknown direction", func(s *domain.Signal) { s.Direction = "sideways" }},
		{"missing pattern", func(s *domain.Signal) { s.Pattern = "" }},
		{"timeframe not whitelisted", func(s *domain.Signal) { s.Timeframe = "M1" }},
		{"zero entry", func(s *domain.Signal) { s.EntryPrice = 0 }},
		{"long stop above entry", func(s *domain.Signal) { s.StopLoss = 1.2000 }},
		{"long target below entry", func(s *domain.Signal) { s.TakeProfit = 1.0500 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := validLongSignal()
			tc.mutate(&sig)

			_, err := v.Validate(sig)
			require.ErrorIs(t, err, domain.ErrInvalidSignal)
		})
	}
}

func TestValidateShortPriceLevels(t *testing.T) {
	v := NewSignalValidator(0.75, []string{"H1"}, testLogger())

	sig := validLongSignal()
	sig.Direction = domain.DirectionShort
	sig.StopLoss = 1.1050
	sig.TakeProfit = 1.0900
	sig.Context.Momentum = -0.8

	verdict, err := v.Validate(sig)
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
}

func TestValidateMissingOptionalContextIsNeutral(t *testing.T) {
	v := NewSignalValidator(0.75, []string{"H1"}, testLogger())

	sig := validLongSignal()
	sig.Context = domain.SignalContext{}

	verdict, err := v.Validate(sig)
	require.NoError(t, err, "missing optional context must not be an error")
	assert.Greater(t, verdict.Confidence, 0.0)
}

func TestValidatePenalizesNewsAndVolatility(t *testing.T) {
	v := NewSignalValidator(0.75, []string{"H1"}, testLogger())

	base := validLongSignal()
	baseVerdict, err := v.Validate(base)
	require.NoError(t, err)

	risky := validLongSignal()
	risky.Context.Volatility = 2.5
	risky.Context.NewsRisk = 0.9
	riskyVerdict, err := v.Validate(risky)
	require.NoError(t, err)

	assert.Less(t, riskyVerdict.Confidence, baseVerdict.Confidence)
}

func TestFingerprintStableUnderPriceJitter(t *testing.T) {
	a := validLongSignal()
	b := validLongSignal()
	b.EntryPrice = a.EntryPrice + 0.00003 // below truncation resolution

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := validLongSignal()
	c.EntryPrice = a.EntryPrice + 0.01
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
