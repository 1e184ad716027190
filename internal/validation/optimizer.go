package validation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/breakoutlab/tradecore/internal/circuit"
	"github.com/breakoutlab/tradecore/internal/domain"
	"github.com/breakoutlab/tradecore/internal/metrics"
)

// Combined-confidence weights when both validators approve. Strategic
// confidence dominates.
const (
	combinedStrategicWeight = 0.6
	combinedTechnicalWeight = 0.4
	disagreementScale       = 0.8
	fallbackConfidence      = 0.2
)

// Config holds the optimizer's tunable parameters.
type Config struct {
	SubDeadline        time.Duration
	TotalDeadline      time.Duration
	CacheTTL           time.Duration
	CacheSize          int
	CacheMinConfidence float64
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	StatsWindow        int
}

// Optimizer bounds total validation latency and avoids duplicate work. It
// runs the strategic and technical validators concurrently under per-branch
// sub-deadlines and a total deadline, caches recent verdicts by signal
// fingerprint, and short-circuits through a circuit breaker when validation
// keeps failing.
type Optimizer struct {
	technical *SignalValidator
	strategic domain.StrategicValidator
	cache     *VerdictCache
	breaker   *circuit.Breaker
	stats     *LatencyStats
	metrics   *metrics.Metrics
	flight    singleflight.Group
	cfg       Config
	logger    *slog.Logger
}

// NewOptimizer creates an Optimizer over the given validators.
func NewOptimizer(technical *SignalValidator, strategic domain.StrategicValidator, cfg Config, logger *slog.Logger) *Optimizer {
	return &Optimizer{
		technical: technical,
		strategic: strategic,
		cache:     NewVerdictCache(cfg.CacheTTL, cfg.CacheSize),
		breaker:   circuit.New("validation", cfg.BreakerThreshold, cfg.BreakerCooldown),
		stats:     NewLatencyStats(cfg.StatsWindow),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "validation_optimizer")),
	}
}

// SetMetrics wires the process-wide metrics. Optional; set before Validate is
// first called.
func (o *Optimizer) SetMetrics(m *metrics.Metrics) { o.metrics = m }

// Breaker exposes the validation circuit breaker for health reporting and
// operator resets.
func (o *Optimizer) Breaker() *circuit.Breaker { return o.breaker }

// Stats returns the rolling latency statistics.
func (o *Optimizer) Stats() StatsSnapshot { return o.stats.Snapshot() }

// Validate produces one combined verdict for the signal. A cached verdict
// within TTL is returned immediately; otherwise both validators run
// concurrently. Concurrent calls for the same fingerprint share a single
// validation pass. Validate never blocks past the total deadline.
func (o *Optimizer) Validate(ctx context.Context, sig domain.Signal) domain.ValidationVerdict {
	start := time.Now()
	fp := sig.Fingerprint()

	if verdict, ok := o.cache.Get(fp); ok {
		verdict.Source = domain.VerdictSourceCache
		verdict.Latency = time.Since(start)
		o.stats.Record(verdict.Latency, true)
		o.countCacheLookup("hit")
		return verdict
	}
	o.countCacheLookup("miss")

	if !o.breaker.Allow() {
		verdict := degradedVerdict("validation circuit breaker open", domain.ErrCircuitOpen, start)
		o.stats.Record(verdict.Latency, false)
		return verdict
	}

	// Concurrent calls for the same fingerprint before the first resolves
	// share one pass; cache writes therefore happen exactly once per pass.
	result, _, _ := o.flight.Do(fp, func() (any, error) {
		return o.validateFresh(ctx, sig), nil
	})
	verdict := result.(domain.ValidationVerdict)
	verdict.Latency = time.Since(start)
	o.stats.Record(verdict.Latency, false)
	return verdict
}

func (o *Optimizer) countCacheLookup(result string) {
	if o.metrics != nil {
		o.metrics.ValidationCache.WithLabelValues(result).Inc()
	}
}

// validateFresh runs both validators concurrently and combines their results.
func (o *Optimizer) validateFresh(ctx context.Context, sig domain.Signal) domain.ValidationVerdict {
	start := time.Now()

	totalCtx, cancel := context.WithTimeout(ctx, o.cfg.TotalDeadline)
	defer cancel()

	type strategicOut struct {
		decision domain.PolicyDecision
		err      error
	}
	type technicalOut struct {
		verdict domain.ValidationVerdict
		err     error
	}

	strategicCh := make(chan strategicOut, 1)
	technicalCh := make(chan technicalOut, 1)

	go func() {
		branchCtx, branchCancel := context.WithTimeout(totalCtx, o.cfg.SubDeadline)
		defer branchCancel()
		decision, err := o.strategic.Evaluate(branchCtx, sig, true)
		strategicCh <- strategicOut{decision: decision, err: err}
	}()

	go func() {
		// The technical validator is pure computation; run it on the same
		// deadline for symmetry so a pathological input cannot stall the pass.
		verdict, err := o.technical.Validate(sig)
		technicalCh <- technicalOut{verdict: verdict, err: err}
	}()

	var (
		strategic    domain.PolicyDecision
		technical    domain.ValidationVerdict
		reasons      []string
		branchFailed bool
		timedOut     bool
		invalid      bool
	)

	for received := 0; received < 2; {
		select {
		case out := <-strategicCh:
			received++
			if out.err != nil {
				branchFailed = true
				if errors.Is(out.err, context.DeadlineExceeded) {
					timedOut = true
				}
				strategic = domain.PolicyDecision{Approved: false, Confidence: fallbackConfidence}
				reasons = append(reasons, "strategic validation failed: "+out.err.Error())
			} else {
				strategic = out.decision
				reasons = append(reasons, out.decision.Reasons...)
			}
		case out := <-technicalCh:
			received++
			if out.err != nil {
				technical = domain.ValidationVerdict{Approved: false, Confidence: 0}
				reasons = append(reasons, "technical validation failed: "+out.err.Error())
				if errors.Is(out.err, domain.ErrInvalidSignal) {
					invalid = true
				} else {
					branchFailed = true
				}
			} else {
				technical = out.verdict
				reasons = append(reasons, out.verdict.Reasons...)
			}
		case <-totalCtx.Done():
			// Total deadline exceeded; substitute conservative fallbacks for
			// whatever has not answered yet.
			o.breaker.RecordFailure()
			verdict := degradedVerdict("validation total deadline exceeded", domain.ErrValidationTimeout, start)
			verdict.Reasons = append(verdict.Reasons, reasons...)
			return verdict
		}
	}

	switch {
	case invalid:
		// Malformed input is a local error, not a validator fault; it must
		// not trip the breaker.
	case branchFailed:
		o.breaker.RecordFailure()
	default:
		o.breaker.RecordSuccess()
	}

	verdict := combine(strategic, technical)
	verdict.Reasons = reasons
	verdict.Latency = time.Since(start)
	verdict.CreatedAt = time.Now().UTC()
	switch {
	case invalid:
		verdict.Err = domain.ErrInvalidSignal
	case timedOut && !verdict.Approved:
		verdict.Err = domain.ErrValidationTimeout
	}

	if verdict.Approved || verdict.Confidence > o.cfg.CacheMinConfidence {
		o.cache.Put(sig.Fingerprint(), verdict)
	}
	return verdict
}

// combine merges the strategic and technical results: overall approval
// requires both, and combined confidence favors the strategic score when they
// agree, otherwise the scaled-down minimum.
func combine(strategic domain.PolicyDecision, technical domain.ValidationVerdict) domain.ValidationVerdict {
	approved := strategic.Approved && technical.Approved

	var confidence float64
	if approved {
		confidence = combinedStrategicWeight*strategic.Confidence + combinedTechnicalWeight*technical.Confidence
	} else {
		confidence = min(strategic.Confidence, technical.Confidence) * disagreementScale
	}

	return domain.ValidationVerdict{
		Approved:   approved,
		Confidence: confidence,
		Source:     domain.VerdictSourceFresh,
	}
}

func degradedVerdict(reason string, cause error, start time.Time) domain.ValidationVerdict {
	return domain.ValidationVerdict{
		Approved:   false,
		Confidence: fallbackConfidence,
		Source:     domain.VerdictSourceFallback,
		Latency:    time.Since(start),
		Reasons:    []string{reason},
		CreatedAt:  time.Now().UTC(),
		Err:        cause,
	}
}
