package domain

import (
	"fmt"
	"time"
)

// Direction indicates whether a signal trades with or against the quoted price.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PatternType identifies the chart structure that produced a signal.
type PatternType string

const (
	PatternBreakOfStructure PatternType = "bos"
	PatternRetest           PatternType = "retest"
	PatternBreakout         PatternType = "breakout"
	PatternReversal         PatternType = "reversal"
)

// Signal is a detected candidate trade setup. It is produced by an external
// pattern detector, immutable once created, and consumed exactly once by the
// decision pipeline.
type Signal struct {
	ID         string        `json:"id"`
	TraceID    string        `json:"trace_id,omitempty"`
	Symbol     string        `json:"symbol"`
	Direction  Direction     `json:"direction"`
	Pattern    PatternType   `json:"pattern"`
	Timeframe  string        `json:"timeframe"`
	EntryPrice float64       `json:"entry_price"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Context    SignalContext `json:"context"`
	DetectedAt time.Time     `json:"detected_at"`
}

// SignalContext carries the auxiliary volume / momentum / timing data the
// structural validator scores against. Missing optional fields are treated as
// neutral, never as errors.
type SignalContext struct {
	BreakDistance float64 `json:"break_distance"` // distance beyond the broken level, price units
	AverageVolume float64 `json:"average_volume"`
	BreakVolume   float64 `json:"break_volume"`
	Momentum      float64 `json:"momentum"` // signed momentum, positive = with direction
	Session       string  `json:"session"`  // "london", "newyork", "tokyo", "sydney", "off"
	Volatility    float64 `json:"volatility"` // relative volatility, 1.0 = normal
	NewsRisk      float64 `json:"news_risk"`  // [0,1], 1 = high-impact news imminent
}

// Fingerprint derives the deterministic cache key for a signal from its
// stable attributes. Price is truncated to the pip so that near-identical
// re-detections of the same setup collapse onto one key.
func (s Signal) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s|%.4f",
		s.Symbol, s.Pattern, s.Direction, s.Timeframe, truncate(s.EntryPrice, 4))
}

// StopDistance returns the absolute distance between entry and stop in price
// units. Zero means the signal is structurally unusable.
func (s Signal) StopDistance() float64 {
	d := s.EntryPrice - s.StopLoss
	if d < 0 {
		d = -d
	}
	return d
}

// RewardRisk returns the target distance divided by the stop distance, or 0
// when the stop distance is zero.
func (s Signal) RewardRisk() float64 {
	stop := s.StopDistance()
	if stop == 0 {
		return 0
	}
	target := s.TakeProfit - s.EntryPrice
	if target < 0 {
		target = -target
	}
	return target / stop
}

func truncate(v float64, decimals int) float64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale)) / scale
	}
	return -float64(int64(-v*scale)) / scale
}
