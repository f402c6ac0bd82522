package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the pipeline. All of
// them are best-effort observability and sit outside the decision
// path.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	Verdicts       *prometheus.CounterVec
	Rewrites       *prometheus.CounterVec
	Resolutions    *prometheus.CounterVec
	PoolExhausted  *prometheus.CounterVec
	PoolBusy       *prometheus.GaugeVec
	ProcessingTime *prometheus.HistogramVec
}

// New registers and returns the pipeline metrics on the default
// registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the pipeline metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zerotrust_decisions_total",
			Help: "Final enforcement decisions by artifact class and action",
		}, []string{"artifact", "action"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zerotrust_sandbox_verdicts_total",
			Help: "Sandbox detonation verdicts by artifact kind",
		}, []string{"kind", "verdict"}),
		Rewrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zerotrust_rewrites_total",
			Help: "Artifacts rewritten at ingest by kind",
		}, []string{"kind"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zerotrust_resolutions_total",
			Help: "Tracked-reference resolutions by outcome",
		}, []string{"outcome"}),
		PoolExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zerotrust_pool_exhausted_total",
			Help: "Acquire attempts rejected because the pool was full",
		}, []string{"pool"}),
		PoolBusy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zerotrust_pool_busy_slots",
			Help: "Currently busy slots per pool",
		}, []string{"pool"}),
		ProcessingTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zerotrust_processing_seconds",
			Help:    "End-to-end pipeline latency per artifact class",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"artifact"}),
	}
}
