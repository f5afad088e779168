package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurongateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurongateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Live entries in the connection registry
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurongateway_active_connections",
			Help: "Number of registered client connections",
		},
	)

	framesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurongateway_frames_sent_total",
			Help: "Outbound frames delivered to clients by type",
		},
		[]string{"type"},
	)

	disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurongateway_disconnects_total",
			Help: "Connection teardowns by reason",
		},
		[]string{"reason"},
	)

	rateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurongateway_rate_limit_decisions_total",
			Help: "Admission decisions by outcome",
		},
		[]string{"decision"},
	)

	credentialResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurongateway_credential_resolutions_total",
			Help: "Credential resolution attempts by credential kind and result",
		},
		[]string{"kind", "result"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurongateway_handler_duration_seconds",
			Help:    "Message handler call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	status := "unknown"
	if statusCode >= 200 && statusCode < 300 {
		status = "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		status = "3xx"
	} else if statusCode >= 400 && statusCode < 500 {
		status = "4xx"
	} else if statusCode >= 500 {
		status = "5xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// SetActiveConnections sets the number of registered connections
func SetActiveConnections(count int) {
	activeConnections.Set(float64(count))
}

func RecordFrameSent(frameType string) {
	framesSent.WithLabelValues(frameType).Inc()
}

func RecordDisconnect(reason string) {
	disconnects.WithLabelValues(reason).Inc()
}

// RecordRateLimitDecision counts an admission outcome: "allowed", "burst" or "window"
func RecordRateLimitDecision(decision string) {
	rateLimitDecisions.WithLabelValues(decision).Inc()
}

func RecordCredentialResolution(kind, result string) {
	credentialResolutions.WithLabelValues(kind, result).Inc()
}

func ObserveHandler(outcome string, durationSeconds float64) {
	handlerDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
