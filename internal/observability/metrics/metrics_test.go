package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)

	m.ObserveTurn("appointment", "continue", 0.2)
	m.ObserveTurn("", "clarify", 0.1)
	m.ObserveExtraction("malformed", 0.3)
	m.ObserveExtraction("malformed", 0.4)
	m.ObserveBooking("confirmed")

	if got := counterValue(t, m.turnsTotal.WithLabelValues("none", "clarify")); got != 1 {
		t.Fatalf("expected empty domain to be recorded as none, got %v", got)
	}
	if got := counterValue(t, m.extractionAttempts.WithLabelValues("malformed")); got != 2 {
		t.Fatalf("expected 2 malformed attempts, got %v", got)
	}
	if got := counterValue(t, m.bookingsTotal.WithLabelValues("confirmed")); got != 1 {
		t.Fatalf("expected 1 confirmed booking, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 5 {
		t.Fatalf("expected 5 metric families, got %d", len(families))
	}
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveTurn("medical", "adopt", 0.1)
	m.ObserveExtraction("ok", 0.1)
	m.ObserveBooking("conflict")
}
