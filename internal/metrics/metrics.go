// Package metrics exposes ingestion counters and gauges in Prometheus format.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

const namespace = "video_search"

type Metrics struct {
	registry *prometheus.Registry

	enqueued      prometheus.Counter
	inFlight      prometheus.Gauge
	outcomes      *prometheus.CounterVec
	visual        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	queueOnce sync.Once
}

// New creates a registry with the ingestion metrics and the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Video ids added to the ingestion queue.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Videos currently being processed by a worker.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Processed videos by outcome.",
		}, []string{"outcome"}),
		visual: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visual_results_total",
			Help:      "Visual stage results by kind.",
		}, []string{"result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage", "result"}),
	}
	m.registry.MustRegister(
		m.enqueued,
		m.inFlight,
		m.outcomes,
		m.visual,
		m.stageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterQueueLength exposes fn as the queue length gauge. Only the first call takes effect.
func (m *Metrics) RegisterQueueLength(fn func() int) {
	if m == nil {
		return
	}
	m.queueOnce.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Video ids waiting in the ingestion queue.",
		}, func() float64 { return float64(fn()) }))
	})
}

func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) Finished(out pipeline.Outcome) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.outcomes.WithLabelValues(string(out.Kind)).Inc()
	if out.Kind == pipeline.OutcomeCompleted {
		m.visual.WithLabelValues(string(out.Visual.Kind)).Inc()
	}
}

// ObserveStage matches pipeline.StageObserver.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
