package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal         *prometheus.CounterVec
	searchDuration      *prometheus.HistogramVec
	methodDegradedTotal *prometheus.CounterVec
	fusedScore          *prometheus.HistogramVec
	cacheLookupTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rcore",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total fused search requests by outcome.",
		},
		[]string{"service", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcore",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Fused search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	methodDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "search",
			Name:      "method_degraded_total",
			Help:      "Search methods dropped from fusion by reason.",
		},
		[]string{"service", "method", "reason"},
	)
	fusedScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rcore",
			Subsystem: "search",
			Name:      "fused_score",
			Help:      "Distribution of top fused scores per search.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.0075, 0.01, 0.015, 0.02, 0.03, 0.05},
		},
		[]string{"service"},
	)
	cacheLookupTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rcore",
			Subsystem: "routing_cache",
			Name:      "lookup_total",
			Help:      "Routing cache lookups by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight,
		searchTotal, searchDuration, methodDegradedTotal, fusedScore, cacheLookupTotal)

	return &HTTPServerMetrics{
		registry:        registry,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,

		searchTotal:         searchTotal,
		searchDuration:      searchDuration,
		methodDegradedTotal: methodDegradedTotal,
		fusedScore:          fusedScore,
		cacheLookupTotal:    cacheLookupTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) StartRequest() {
	m.requestInFlight.Inc()
}

func (m *HTTPServerMetrics) FinishRequest(service, method, path string, status int, duration time.Duration) {
	m.requestInFlight.Dec()
	m.requestTotal.WithLabelValues(service, method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) ObserveSearch(service string, duration time.Duration, err error, topScore float64, hadResults bool) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.searchTotal.WithLabelValues(service, status).Inc()
	m.searchDuration.WithLabelValues(service).Observe(duration.Seconds())
	if err == nil && hadResults {
		m.fusedScore.WithLabelValues(service).Observe(topScore)
	}
}

func (m *HTTPServerMetrics) ObserveMethodDegraded(service, method, reason string) {
	m.methodDegradedTotal.WithLabelValues(service, method, reason).Inc()
}

func (m *HTTPServerMetrics) ObserveCacheLookup(service, outcome string) {
	m.cacheLookupTotal.WithLabelValues(service, outcome).Inc()
}
