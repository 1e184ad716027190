// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the core updates. A single instance is wired
// through the components at startup.
type Metrics struct {
	SignalsTotal    *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	PipelineLatency prometheus.Histogram
	ValidationCache *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	OrderSlippage   prometheus.Histogram
	OpenPositions   prometheus.Gauge
	UnrealizedPnL   prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	BreakerOpen     *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RecoveryState   prometheus.Gauge
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "signals_total",
			Help:      "Signals processed, labeled by the stage that decided the outcome.",
		}, []string{"outcome", "stage"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "stage_latency_seconds",
			Help:      "Per-stage processing latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"stage"}),
		PipelineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "pipeline_latency_seconds",
			Help:      "End-to-end signal pipeline latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ValidationCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "validation_cache_total",
			Help:      "Validation verdict cache lookups.",
		}, []string{"result"}),
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "orders_total",
			Help:      "Execution attempts by terminal status.",
		}, []string{"status"}),
		OrderSlippage: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "order_slippage",
			Help:      "Realized slippage per filled order, in price units.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025},
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "open_positions",
			Help:      "Number of currently open positions.",
		}),
		UnrealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "unrealized_pnl",
			Help:      "Aggregate unrealized profit and loss in account currency.",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "realized_pnl",
			Help:      "Cumulative realized profit and loss in account currency.",
		}),
		BreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "circuit_breaker_open",
			Help:      "1 when the named circuit breaker is open.",
		}, []string{"name"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "errors_total",
			Help:      "Reported error events by component and severity.",
		}, []string{"component", "severity"}),
		RecoveryState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Name:      "recovery_state",
			Help:      "Global recovery state: 0 healthy, 1 degraded, 2 critical, 3 recovering, 4 emergency.",
		}),
	}
}
