package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func gather(t *testing.T, m *Metrics) map[string]bool {
	t.Helper()
	families, err := m.registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestMetricsRecordAndGather(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{ServiceName: "analytics", ServiceVersion: "1.0"})
	require.NoError(t, err)

	m.RecordRequest("tools/call", "ok", 12*time.Millisecond)
	m.RecordCapability("tool", "fetch_sales_data", "ok", 5*time.Millisecond)
	m.RecordFrame("inbound")
	m.RecordError("CapabilityNotFound")
	m.RecordPendingCalls(3)
	m.RecordSessionState("ready")
	done := m.RequestStarted()
	done()

	names := gather(t, m)
	assert.True(t, names["capwire_requests_total"])
	assert.True(t, names["capwire_request_duration_seconds"])
	assert.True(t, names["capwire_capability_invocations_total"])
	assert.True(t, names["capwire_frames_total"])
	assert.True(t, names["capwire_errors_total"])
	assert.True(t, names["capwire_pending_calls"])
	assert.True(t, names["capwire_session_state"])
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	m1, err := NewMetrics(MetricsConfig{ServiceName: "a"})
	require.NoError(t, err)
	m2, err := NewMetrics(MetricsConfig{ServiceName: "b"})
	require.NoError(t, err)

	m1.RecordRequest("tools/list", "ok", time.Millisecond)

	families, err := m2.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "capwire_requests_total" {
			assert.Empty(t, f.GetMetric())
		}
	}
}

func TestMetricsCustomLabels(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		ConstLabels: prometheus.Labels{"region": "apac"},
	})
	require.NoError(t, err)
	m.RecordFrame("outbound")

	families, err := m.registry.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() != "capwire_frames_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "region" && label.GetValue() == "apac" {
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestTracingNoopLifecycle(t *testing.T) {
	tr, err := NewTracing(TracingConfig{
		ServiceName:  "analytics",
		ExporterType: ExporterTypeNoop,
	})
	require.NoError(t, err)

	ctx, span := tr.StartCallSpan(context.Background(), "tools/call", trace.SpanKindClient)
	tr.SetAttributes(ctx, attribute.String("capability", "fetch_sales_data"))
	tr.RecordError(ctx, assert.AnError)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracingUnknownExporter(t *testing.T) {
	_, err := NewTracing(TracingConfig{ExporterType: "zipkin"})
	require.Error(t, err)
}
