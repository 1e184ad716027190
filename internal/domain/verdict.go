package domain

import "time"

// VerdictSource distinguishes freshly computed verdicts from cache hits and
// degraded fallbacks.
type VerdictSource string

const (
	VerdictSourceFresh    VerdictSource = "fresh"
	VerdictSourceCache    VerdictSource = "cache"
	VerdictSourceFallback VerdictSource = "fallback"
)

// ValidationVerdict is the combined outcome of one validation pass over a
// signal. Confidence is always in [0,1].
type ValidationVerdict struct {
	Approved   bool
	Confidence float64
	Source     VerdictSource
	Latency    time.Duration
	Reasons    []string
	CreatedAt  time.Time
	Err        error // sentinel classifying a non-approval, for errors.Is
}

// PolicyDecision is the strategic evaluator's answer for a signal.
type PolicyDecision struct {
	Approved   bool
	Confidence float64
	Reasons    []string
}

// Score is the ML scorer's output for a validated signal.
type Score struct {
	Probability float64 // [0,1] estimated win probability
	Confidence  float64 // [0,1] model confidence in the estimate
}
