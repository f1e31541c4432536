package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the turn pipeline.
type ConversationMetrics struct {
	turnsTotal         *prometheus.CounterVec
	extractionAttempts *prometheus.CounterVec
	extractionLatency  *prometheus.HistogramVec
	bookingsTotal      *prometheus.CounterVec
	turnLatency        prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adrd",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed turns by resulting domain and routing action",
		}, []string{"domain", "action"}),
		extractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adrd",
			Subsystem: "conversation",
			Name:      "extraction_attempts_total",
			Help:      "Extraction service calls by outcome (ok, malformed, timeout, error)",
		}, []string{"outcome"}),
		extractionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adrd",
			Subsystem: "conversation",
			Name:      "extraction_latency_seconds",
			Help:      "Latency of extraction service calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adrd",
			Subsystem: "booking",
			Name:      "finalizations_total",
			Help:      "Booking finalization attempts by outcome (confirmed, conflict, unavailable, error)",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adrd",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a processed turn",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.extractionAttempts, m.extractionLatency, m.bookingsTotal, m.turnLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(domain, action string, seconds float64) {
	if m == nil {
		return
	}
	if domain == "" {
		domain = "none"
	}
	m.turnsTotal.WithLabelValues(domain, action).Inc()
	m.turnLatency.Observe(seconds)
}

func (m *ConversationMetrics) ObserveExtraction(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.extractionAttempts.WithLabelValues(outcome).Inc()
	m.extractionLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *ConversationMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}
