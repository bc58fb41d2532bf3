package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	feedbackTotal    *prometheus.CounterVec
	feedbackDuration *prometheus.HistogramVec
	sweepTotal       *prometheus.CounterVec
	sweepReclaimed   *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	feedbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "worker",
			Name:      "feedback_processed_total",
			Help:      "Feedback events processed by status.",
		},
		[]string{"service", "status"},
	)
	feedbackDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcore",
			Subsystem: "worker",
			Name:      "feedback_duration_seconds",
			Help:      "Feedback processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	sweepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "worker",
			Name:      "sweep_total",
			Help:      "Eviction sweeps by status.",
		},
		[]string{"service", "status"},
	)
	sweepReclaimed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "worker",
			Name:      "sweep_reclaimed_total",
			Help:      "Entries reclaimed by sweeps, by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(feedbackTotal, feedbackDuration, sweepTotal, sweepReclaimed)

	return &WorkerMetrics{
		registry:         registry,
		feedbackTotal:    feedbackTotal,
		feedbackDuration: feedbackDuration,
		sweepTotal:       sweepTotal,
		sweepReclaimed:   sweepReclaimed,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveFeedback(service string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.feedbackTotal.WithLabelValues(service, status).Inc()
	m.feedbackDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveSweep(service string, routingReclaimed, embeddingReclaimed int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweepTotal.WithLabelValues(service, status).Inc()
	m.sweepReclaimed.WithLabelValues(service, "routing").Add(float64(routingReclaimed))
	m.sweepReclaimed.WithLabelValues(service, "embedding").Add(float64(embeddingReclaimed))
}
