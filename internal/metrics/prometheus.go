package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call-insights server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesBroadcast *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter

	// Audio metrics
	FragmentsReceived     prometheus.Counter
	WindowFlushes         *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Insight metrics
	EnrichmentResults  *prometheus.CounterVec
	EnrichmentDuration *prometheus.HistogramVec
	BundlesGenerated   prometheus.Counter
	InFlightInsights   prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates all metrics on a dedicated registry, which also carries
// the Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echomind_active_connections",
			Help: "Current number of registered client connections",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echomind_active_sessions",
			Help: "Current number of call sessions with at least one member",
		}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_messages_received_total",
			Help: "Total number of client messages received by type",
		}, []string{"type"}),
		MessagesBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_messages_broadcast_total",
			Help: "Total number of session broadcasts by message type",
		}, []string{"type"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "echomind_delivery_failures_total",
			Help: "Total number of failed deliveries to client connections",
		}),

		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "echomind_audio_fragments_received_total",
			Help: "Total number of audio fragments ingested",
		}),
		WindowFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_audio_window_flushes_total",
			Help: "Total number of audio window flushes by result",
		}, []string{"result"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echomind_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		EnrichmentResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_enrichments_total",
			Help: "Total number of enricher runs by kind and status",
		}, []string{"kind", "status"}),
		EnrichmentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echomind_enrichment_duration_seconds",
			Help:    "Duration of enricher runs by kind",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		BundlesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "echomind_insight_bundles_total",
			Help: "Total number of insight bundles produced",
		}),
		InFlightInsights: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echomind_insights_in_flight",
			Help: "Current number of enrichment rounds running",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echomind_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echomind_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry exposes the registry backing these metrics for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetActiveConnections sets the current number of connections
func (m *Metrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(count))
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordMessage counts one inbound client message
func (m *Metrics) RecordMessage(messageType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordBroadcast counts one message pushed to a session
func (m *Metrics) RecordBroadcast(messageType string) {
	if m == nil {
		return
	}
	m.MessagesBroadcast.WithLabelValues(messageType).Inc()
}

// RecordDeliveryFailures counts failed deliveries
func (m *Metrics) RecordDeliveryFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeliveryFailures.Add(float64(n))
}

// RecordFragment counts one ingested audio fragment
func (m *Metrics) RecordFragment() {
	if m == nil {
		return
	}
	m.FragmentsReceived.Inc()
}

// RecordFlush counts a window flush outcome and its transcription latency.
// result is one of ok, empty, failed, discarded.
func (m *Metrics) RecordFlush(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.WindowFlushes.WithLabelValues(result).Inc()
	if durationSeconds > 0 {
		m.TranscriptionDuration.Observe(durationSeconds)
	}
}

// RecordEnrichment records one enricher run
func (m *Metrics) RecordEnrichment(kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EnrichmentResults.WithLabelValues(kind, status).Inc()
	m.EnrichmentDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordBundle counts one produced insight bundle
func (m *Metrics) RecordBundle() {
	if m == nil {
		return
	}
	m.BundlesGenerated.Inc()
}

// AddInFlightInsights moves the in-flight enrichment gauge
func (m *Metrics) AddInFlightInsights(delta int) {
	if m == nil {
		return
	}
	m.InFlightInsights.Add(float64(delta))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
