// Package telemetry holds the Prometheus metrics for the synthesis
// dispatch and coordination engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	CacheHits        *prometheus.CounterVec
	SynthesisQueued  *prometheus.CounterVec
	SynthesisErrors  *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	JobsRequeued     *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	EvictionsTotal   *prometheus.CounterVec
	WorkerLatency    *prometheus.HistogramVec
	QueueWaitTime    *prometheus.HistogramVec
	UsageConsumed    *prometheus.CounterVec
	ReservationTotal *prometheus.GaugeVec
	WSConnections    prometheus.Gauge
}

// NewMetrics creates and registers all collectors against the default
// registry, in the teacher's promauto convention.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_cache_hits_total",
				Help: "Synthesis requests served directly from the audio cache.",
			},
			[]string{"model_slug"},
		),
		SynthesisQueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_synthesis_queued_total",
				Help: "Synthesis jobs pushed onto a model queue.",
			},
			[]string{"model_slug"},
		),
		SynthesisErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_synthesis_errors_total",
				Help: "Terminal synthesis errors delivered to subscribers.",
			},
			[]string{"model_slug", "reason"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yapit_queue_depth",
				Help: "Observed depth of a model's work queue at enqueue time.",
			},
			[]string{"model_slug"},
		),
		JobsRequeued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_jobs_requeued_total",
				Help: "Jobs reclaimed by the visibility scanner and requeued.",
			},
			[]string{"model_slug"},
		),
		JobsDeadLettered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_jobs_dead_lettered_total",
				Help: "Jobs moved to the dead-letter list after retry exhaustion.",
			},
			[]string{"model_slug"},
		),
		EvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_evictions_total",
				Help: "Queued jobs removed by the cursor-window evictor.",
			},
			[]string{"reason"},
		),
		WorkerLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yapit_worker_processing_seconds",
				Help:    "Wall time a worker spent synthesizing a job.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model_slug"},
		),
		QueueWaitTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yapit_queue_wait_seconds",
				Help:    "Time a job spent queued before a worker pulled it.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model_slug"},
		),
		UsageConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yapit_usage_characters_consumed_total",
				Help: "Characters debited from a usage pool, by pool name.",
			},
			[]string{"pool"},
		),
		ReservationTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yapit_reservation_tokens",
				Help: "Sum of outstanding token reservations for a user.",
			},
			[]string{"user_id"},
		),
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "yapit_ws_connections",
				Help: "Currently open /v1/ws/tts WebSocket connections.",
			},
		),
	}
}
