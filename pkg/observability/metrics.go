// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for capwire servers and clients.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string

	// MetricsPath is the HTTP path for the scrape endpoint (default
	// /metrics).
	MetricsPath string
	// MetricsPort is the scrape server port (default 9090). The
	// scrape server only runs when Start is called.
	MetricsPort int

	// Namespace is the Prometheus namespace (default capwire).
	Namespace string

	// HistogramBuckets are latency buckets in seconds.
	HistogramBuckets []float64

	ConstLabels prometheus.Labels
}

// Metrics records wire-level and capability-level measurements. All
// methods are safe for concurrent use.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inflightRequests prometheus.Gauge

	capabilityTotal    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec

	framesTotal    *prometheus.CounterVec
	sessionState   *prometheus.GaugeVec
	pendingCalls   prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
}

// NewMetrics creates a metrics provider with its own registry, so
// tests and multiple servers in one process do not collide.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "capwire"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = 9090
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}
	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}

	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	m.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "requests_total",
		Help:        "Total requests dispatched, by method and status.",
		ConstLabels: config.ConstLabels,
	}, []string{"method", "status"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "request_duration_seconds",
		Help:        "Request handling latency, by method.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"method"})

	m.inflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Name:        "inflight_requests",
		Help:        "Requests currently being dispatched.",
		ConstLabels: config.ConstLabels,
	})

	m.capabilityTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "capability_invocations_total",
		Help:        "Capability handler invocations, by kind, name and status.",
		ConstLabels: config.ConstLabels,
	}, []string{"kind", "name", "status"})

	m.capabilityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Name:        "capability_duration_seconds",
		Help:        "Capability handler latency, by kind and name.",
		Buckets:     config.HistogramBuckets,
		ConstLabels: config.ConstLabels,
	}, []string{"kind", "name"})

	m.framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "frames_total",
		Help:        "Frames moved over the transport, by direction.",
		ConstLabels: config.ConstLabels,
	}, []string{"direction"})

	m.sessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Name:        "session_state",
		Help:        "Current session state (1 for the active state, 0 otherwise).",
		ConstLabels: config.ConstLabels,
	}, []string{"state"})

	m.pendingCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Name:        "pending_calls",
		Help:        "Client calls awaiting a response.",
		ConstLabels: config.ConstLabels,
	})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Name:        "errors_total",
		Help:        "Errors surfaced on the wire, by error code name.",
		ConstLabels: config.ConstLabels,
	}, []string{"code"})

	collectors := []prometheus.Collector{
		m.requestTotal, m.requestDuration, m.inflightRequests,
		m.capabilityTotal, m.capabilityDuration,
		m.framesTotal, m.sessionState, m.pendingCalls, m.errorsTotal,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// RecordRequest records one dispatched request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.requestTotal.WithLabelValues(method, status).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RequestStarted marks a request in flight. The returned func ends it.
func (m *Metrics) RequestStarted() func() {
	m.inflightRequests.Inc()
	return m.inflightRequests.Dec
}

// RecordCapability records one capability handler invocation.
func (m *Metrics) RecordCapability(kind, name, status string, duration time.Duration) {
	m.capabilityTotal.WithLabelValues(kind, name, status).Inc()
	m.capabilityDuration.WithLabelValues(kind, name).Observe(duration.Seconds())
}

// RecordFrame records one frame moved over the transport.
func (m *Metrics) RecordFrame(direction string) {
	m.framesTotal.WithLabelValues(direction).Inc()
}

// RecordSessionState sets the active session state gauge.
func (m *Metrics) RecordSessionState(state string) {
	m.sessionState.Reset()
	m.sessionState.WithLabelValues(state).Set(1)
}

// RecordPendingCalls sets the pending call gauge.
func (m *Metrics) RecordPendingCalls(n int) {
	m.pendingCalls.Set(float64(n))
}

// RecordError counts one wire error by code name.
func (m *Metrics) RecordError(code string) {
	m.errorsTotal.WithLabelValues(code).Inc()
}

// Registry exposes the underlying registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Start serves the scrape endpoint in the background.
func (m *Metrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The scrape server is best effort; failures do not take
			// the session down.
			_ = err
		}
	}()
	return nil
}

// Shutdown stops the scrape server if running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
