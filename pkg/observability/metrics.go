package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the engine.
type Metrics struct {
	// Ingestion metrics.
	IVFAddTotal          *prometheus.CounterVec
	PipelineDroppedTotal *prometheus.CounterVec
	PipelineQueueDepth   *prometheus.GaugeVec

	// Search metrics, broken down by stage.
	SearchLatency *prometheus.HistogramVec

	// Index health.
	InvlistImbalanceFactor prometheus.Gauge

	// Training metrics.
	TrainingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the engine's Prometheus metrics
// against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		IVFAddTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_ivf_add_total",
				Help: "Total number of descriptors appended to the IVF index, by outcome",
			},
			[]string{"outcome"},
		),
		PipelineDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_pipeline_dropped_total",
				Help: "Total number of images dropped by the ingestion pipeline, by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		PipelineQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "retrieval_pipeline_queue_depth",
				Help: "Current number of items queued ahead of each pipeline stage",
			},
			[]string{"stage"},
		),
		SearchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_search_latency_seconds",
				Help:    "Search latency in seconds, by stage",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"stage"},
		),
		InvlistImbalanceFactor: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_invlist_imbalance_factor",
				Help: "Imbalance factor of the inverted-lists posting-list distribution",
			},
		),
		TrainingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_training_duration_seconds",
				Help:    "Duration of k-modes training runs in seconds, by level",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"level"},
		),
	}
}

// RecordAdd records one Add call's outcome ("ok" or "error").
func (m *Metrics) RecordAdd(outcome string, count int) {
	m.IVFAddTotal.WithLabelValues(outcome).Add(float64(count))
}

// RecordDropped records a pipeline drop at the given stage and reason
// (the pipeline uses "hash_failed", "duplicate_hash", "detect_failed",
// "too_few_points").
func (m *Metrics) RecordDropped(stage, reason string) {
	m.PipelineDroppedTotal.WithLabelValues(stage, reason).Inc()
}

// SetQueueDepth sets the current queue depth ahead of a stage.
func (m *Metrics) SetQueueDepth(stage string, depth int) {
	m.PipelineQueueDepth.WithLabelValues(stage).Set(float64(depth))
}

// RecordSearchStage records the duration of one search stage
// ("quantize", "io", "compute").
func (m *Metrics) RecordSearchStage(stage string, d time.Duration) {
	m.SearchLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// SetImbalanceFactor records the current inverted-lists imbalance
// factor.
func (m *Metrics) SetImbalanceFactor(factor float64) {
	m.InvlistImbalanceFactor.Set(factor)
}

// RecordTraining records the duration of a k-modes training run at the
// given level ("single" or "level1"/"level2").
func (m *Metrics) RecordTraining(level string, d time.Duration) {
	m.TrainingDuration.WithLabelValues(level).Observe(d.Seconds())
}
