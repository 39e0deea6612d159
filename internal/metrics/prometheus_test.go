package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordFragment()
	m.RecordFlush("ok", 0.1)
	m.RecordEnrichment("sentiment", "ok", 0.2)
	m.SetActiveSessions(3)
	if m.Registry() != nil {
		t.Error("Expected nil registry for nil metrics")
	}
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordFragment()
	m.RecordFragment()
	m.RecordFlush("ok", 0.3)
	m.RecordFlush("failed", 0)
	m.RecordEnrichment("intent", "failed", 0.1)
	m.RecordDeliveryFailures(2)
	m.SetActiveConnections(5)
	m.RecordMessage("audio_chunk")
	m.RecordBroadcast("insights")

	if got := testutil.ToFloat64(m.FragmentsReceived); got != 2 {
		t.Errorf("Expected 2 fragments, got %f", got)
	}
	if got := testutil.ToFloat64(m.WindowFlushes.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed flush, got %f", got)
	}
	if got := testutil.ToFloat64(m.EnrichmentResults.WithLabelValues("intent", "failed")); got != 1 {
		t.Errorf("Expected 1 failed intent enrichment, got %f", got)
	}
	if got := testutil.ToFloat64(m.DeliveryFailures); got != 2 {
		t.Errorf("Expected 2 delivery failures, got %f", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("audio_chunk")); got != 1 {
		t.Errorf("Expected 1 received audio chunk, got %f", got)
	}
	if got := testutil.ToFloat64(m.MessagesBroadcast.WithLabelValues("insights")); got != 1 {
		t.Errorf("Expected 1 insights broadcast, got %f", got)
	}
	if got := testutil.ToFloat64(m.ActiveConnections); got != 5 {
		t.Errorf("Expected 5 connections, got %f", got)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected gathered metric families")
	}
}
