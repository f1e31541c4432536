package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/booking"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// Nov 12, 2024 is a Tuesday.
var testNow = time.Date(2024, time.November, 12, 10, 0, 0, 0, time.UTC)

// stubExtractor replays scripted results; once exhausted it repeats the last.
type stubExtractor struct {
	mu       sync.Mutex
	results  []ExtractionResult
	errs     []error
	calls    int
	messages []string
}

func (s *stubExtractor) Extract(_ context.Context, message string, _ []ChatMessage) (ExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.messages = append(s.messages, message)
	if i < len(s.errs) && s.errs[i] != nil {
		return ExtractionResult{}, s.errs[i]
	}
	if len(s.results) == 0 {
		return ExtractionResult{}, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func (s *stubExtractor) push(res ...ExtractionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results[:0], res...)
	s.errs = nil
	s.calls = 0
}

func appointmentExt(fields appointment.Fields) ExtractionResult {
	return ExtractionResult{
		Domain:  DomainAppointment,
		Intent:  IntentBookAppointment,
		Fields:  fields,
		Count:   1,
		ParseOK: true,
	}
}

type stubBooker struct {
	mu    sync.Mutex
	err   error
	slots []appointment.BookingSlot
}

func (b *stubBooker) Name() string { return "stub" }

func (b *stubBooker) CheckAvailability(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (b *stubBooker) CreateBooking(_ context.Context, slot appointment.BookingSlot) (*booking.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = append(b.slots, slot)
	if b.err != nil {
		return nil, b.err
	}
	return &booking.Confirmation{AppointmentID: "apt-" + slot.PatientName, Slot: slot, ConfirmedAt: testNow}, nil
}

type stubMedical struct {
	answer string
	err    error
}

func (m stubMedical) Answer(context.Context, string, []ChatMessage) (string, error) {
	return m.answer, m.err
}

type stubLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  LLMRequest
}

func (s *stubLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

func quietLogger() *logging.Logger {
	return logging.New("error")
}

func newTestEngine(t *testing.T, ext Extractor, booker booking.BookingAdapter, opts ...EngineOption) (*Engine, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	router := NewRouter(ext, quietLogger(), WithRetryBackoff(0))
	base := []EngineOption{WithClock(func() time.Time { return testNow })}
	return NewEngine(store, router, booker, quietLogger(), append(base, opts...)...), store
}
