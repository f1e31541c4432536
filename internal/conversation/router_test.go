package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/observability/metrics"
)

func TestDecide(t *testing.T) {
	idle := NewSession("idle", testNow)
	booking := NewSession("busy", testNow)
	booking.Queue.Open(1)

	tests := []struct {
		name    string
		session *Session
		ext     ExtractionResult
		want    RoutingDecision
	}{
		{"unparseable", idle, ExtractionResult{ParseOK: false}, RoutingDecision{Action: ActionRetry}},
		{"unknown domain", idle, ExtractionResult{Domain: "billing", Intent: "pay", ParseOK: true}, RoutingDecision{Action: ActionRetry}},
		{"appointment with medical intent", idle, ExtractionResult{Domain: DomainAppointment, Intent: IntentAskMedical, ParseOK: true}, RoutingDecision{Action: ActionRetry}},
		{"medical without intent", idle, ExtractionResult{Domain: DomainMedical, ParseOK: true}, RoutingDecision{Action: ActionRetry}},
		{"clarification with booking intent", idle, ExtractionResult{Domain: DomainClarification, Intent: IntentBookAppointment, ParseOK: true}, RoutingDecision{Action: ActionRetry}},
		{"new appointment", idle, appointmentExt(nil), RoutingDecision{Domain: DomainAppointment, Action: ActionAdopt}},
		{"appointment in progress", booking, appointmentExt(nil), RoutingDecision{Domain: DomainAppointment, Action: ActionContinue}},
		{"empty domain in progress", booking, ExtractionResult{ParseOK: true}, RoutingDecision{Domain: DomainAppointment, Action: ActionContinue}},
		{"clarification in progress", booking, ExtractionResult{Domain: DomainClarification, Intent: IntentClarify, ParseOK: true}, RoutingDecision{Domain: DomainAppointment, Action: ActionContinue}},
		{"empty domain idle", idle, ExtractionResult{ParseOK: true}, RoutingDecision{Domain: DomainClarification, Action: ActionAdopt}},
		{"medical while booking", booking, ExtractionResult{Domain: DomainMedical, Intent: IntentAskMedical, ParseOK: true}, RoutingDecision{Domain: DomainMedical, Action: ActionAdopt}},
		{"nil session", nil, appointmentExt(nil), RoutingDecision{Domain: DomainAppointment, Action: ActionAdopt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.session, tt.ext); got != tt.want {
				t.Fatalf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRouter_RetryCeiling(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(ExtractionResult{ParseOK: false})
	var slept []time.Duration
	r := NewRouter(ext, quietLogger(), WithRetryBackoff(250*time.Millisecond))
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	decision, _, err := r.Route(context.Background(), NewSession("s", testNow), "gibberish", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != ActionClarify {
		t.Fatalf("expected clarify, got %s", decision.Action)
	}
	if ext.calls != 3 {
		t.Fatalf("expected 3 extraction attempts, got %d", ext.calls)
	}
	if len(slept) != 2 || slept[0] != 250*time.Millisecond || slept[1] != 500*time.Millisecond {
		t.Fatalf("unexpected backoff sequence: %v", slept)
	}
}

func TestRouter_RecoversOnSecondAttempt(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(
		ExtractionResult{Domain: DomainAppointment, Intent: IntentAskMedical, ParseOK: true},
		appointmentExt(appointment.Fields{appointment.FieldDoctorID: "dr_001"}),
	)
	r := NewRouter(ext, quietLogger(), WithRetryBackoff(0), WithMaxAttempts(5))

	decision, got, err := r.Route(context.Background(), NewSession("s", testNow), "book dr_001", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != ActionAdopt || decision.Domain != DomainAppointment {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if got.Fields[appointment.FieldDoctorID] != "dr_001" {
		t.Fatalf("expected extraction to be returned, got %+v", got)
	}
	if ext.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", ext.calls)
	}
}

type blockingExtractor struct{ calls int }

func (b *blockingExtractor) Extract(ctx context.Context, _ string, _ []ChatMessage) (ExtractionResult, error) {
	b.calls++
	<-ctx.Done()
	return ExtractionResult{}, ctx.Err()
}

func TestRouter_TimeoutsCountAsMalformed(t *testing.T) {
	ext := &blockingExtractor{}
	reg := prometheus.NewRegistry()
	r := NewRouter(ext, quietLogger(),
		WithRetryBackoff(0),
		WithMaxAttempts(2),
		WithExtractionTimeout(10*time.Millisecond),
		WithRouterMetrics(metrics.NewConversationMetrics(reg)),
	)

	decision, _, err := r.Route(context.Background(), nil, "hello", nil)
	if err != nil {
		t.Fatalf("timeouts should not surface as errors, got %v", err)
	}
	if decision.Action != ActionClarify {
		t.Fatalf("expected clarify after timeouts, got %s", decision.Action)
	}
	if ext.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", ext.calls)
	}
}

func TestRouter_MixedFailuresClarify(t *testing.T) {
	boom := errors.New("connection reset")
	ext := &stubExtractor{errs: []error{boom, nil, boom}, results: []ExtractionResult{{ParseOK: false}}}
	r := NewRouter(ext, quietLogger(), WithRetryBackoff(0))

	decision, _, err := r.Route(context.Background(), nil, "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != ActionClarify {
		t.Fatalf("expected clarify, got %s", decision.Action)
	}
}

func TestRouter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRouter(&blockingExtractor{}, quietLogger())
	if _, _, err := r.Route(ctx, nil, "hello", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
