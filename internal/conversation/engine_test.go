package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/booking"
	"github.com/wolfman30/adrd-care-assistant/internal/events"
)

func TestEngine_PartialRequestAsksForPatientName(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldDoctorID:      "dr_003",
		appointment.FieldPreferredTime: "11am",
	}))
	engine, store := newTestEngine(t, ext, &stubBooker{})

	resp, err := engine.ProcessMessage(context.Background(), MessageRequest{
		ConversationID: "conv-1",
		Message:        "need appointment dr_003 at 11am",
	})
	require.NoError(t, err)
	assert.Equal(t, AgentAppointment, resp.Agent)
	assert.Contains(t, resp.Response, "patient's full name")
	assert.Contains(t, resp.Response, "doctor dr_003")
	assert.Equal(t, appointment.FieldPatientName, resp.Context.AwaitingField)

	session, err := store.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, session.Queue.Active)
	assert.Equal(t, "11:00 AM", session.Queue.Active.PreferredTime)
	assert.Equal(t,
		[]appointment.Field{appointment.FieldPatientName, appointment.FieldPreferredDate, appointment.FieldRequestType},
		session.Queue.Active.MissingFields())
	assert.Len(t, session.History, 2)
}

func TestEngine_ThreeTurnBookingCompletes(t *testing.T) {
	ext := &stubExtractor{}
	booker := booking.NewMemoryAdapter(quietLogger())
	queue := events.NewMemoryQueue(8)
	engine, store := newTestEngine(t, ext, booker,
		WithPublisher(events.NewQueuePublisher(queue, quietLogger())))
	ctx := context.Background()

	ext.push(appointmentExt(appointment.Fields{appointment.FieldDoctorID: "dr_001"}))
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "mike", Message: "I need to book an appointment with dr_001"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Who is the appointment for?")

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPatientName: "mike brown",
		appointment.FieldRequestType: "consultation",
	}))
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "mike", Message: "It's for Mike Brown, a consultation"})
	require.NoError(t, err)
	assert.Equal(t, "What date would Mike Brown like the appointment with doctor dr_001?", resp.Response)

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPreferredDate: "tomorrow",
		appointment.FieldPreferredTime: "3pm",
	}))
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "mike", Message: "Tomorrow at 3pm"})
	require.NoError(t, err)
	assert.Equal(t, AgentAppointment, resp.Agent)
	assert.True(t, strings.HasPrefix(resp.Response,
		"Your appointment is confirmed: Mike Brown will see doctor dr_001 on Wednesday, November 13, 2024 at 3:00 PM for a consultation."),
		resp.Response)

	session, err := store.Load(ctx, "mike")
	require.NoError(t, err)
	assert.Nil(t, session.Queue.Active)
	assert.Equal(t, appointment.StateIdle, session.Queue.State())
	assert.Equal(t, DomainNone, session.ActiveDomain)
	require.Len(t, session.Finalized, 1)
	assert.Equal(t, appointment.BookingSlot{
		PatientName:   "Mike Brown",
		DoctorID:      "dr_001",
		PreferredDate: "11/13/2024",
		PreferredTime: "03:00 PM",
		RequestType:   appointment.RequestConsultation,
	}, session.Finalized[0].Slot)
	assert.Len(t, session.History, 6)

	msgs, err := queue.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	env, err := events.DecodeEnvelope(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, events.TypeBookingFinalized, env.Type)
	assert.Equal(t, "mike", env.ConversationID)
}

func TestEngine_RetryCeilingClarifiesWithoutMutation(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(ExtractionResult{ParseOK: false})
	engine, store := newTestEngine(t, ext, &stubBooker{})
	ctx := context.Background()

	existing := NewSession("conv-2", testNow)
	existing.Queue.Open(1)
	existing.Queue.Active.PatientName = "Ann Lee"
	existing.ActiveDomain = DomainAppointment
	require.NoError(t, store.Save(ctx, existing))

	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-2", Message: "asdf qwer"})
	require.NoError(t, err)
	assert.Equal(t, ClarificationMessage, resp.Response)
	assert.Equal(t, AgentOrchestrator, resp.Agent)
	assert.Equal(t, 3, ext.calls)
	assert.Equal(t, []string{"asdf qwer", "asdf qwer", "asdf qwer"}, ext.messages)

	after, err := store.Load(ctx, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, existing, after)

	// A brand new conversation is not persisted either.
	ext.push(ExtractionResult{ParseOK: false})
	_, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-new", Message: "???"})
	require.NoError(t, err)
	_, err = store.Load(ctx, "conv-new")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_MultipleBookingsAreFinalizedInOrder(t *testing.T) {
	ext := &stubExtractor{}
	booker := &stubBooker{}
	engine, store := newTestEngine(t, ext, booker)
	ctx := context.Background()

	first := appointmentExt(nil)
	first.Count = 2
	first.Bookings = []appointment.Fields{
		{
			appointment.FieldPatientName:   "Ann Lee",
			appointment.FieldDoctorID:      "dr_001",
			appointment.FieldPreferredDate: "11/13/2024",
			appointment.FieldPreferredTime: "9am",
			appointment.FieldRequestType:   "follow up",
		},
		{
			appointment.FieldPatientName: "Bob Lee",
			appointment.FieldDoctorID:    "dr_002",
		},
	}
	ext.push(first)

	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "fifo", Message: "Book two appointments..."})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Ann Lee will see doctor dr_001")
	assert.Contains(t, resp.Response, "Now let's set up the next appointment")
	assert.Contains(t, resp.Response, "What date would Bob Lee like the appointment with doctor dr_002?")
	assert.Equal(t, 0, resp.Context.Pending)

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPreferredDate: "Friday",
		appointment.FieldPreferredTime: "10:30 am",
		appointment.FieldRequestType:   "new patient",
	}))
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "fifo", Message: "Friday 10:30am, new patient"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Bob Lee will see doctor dr_002 on Friday, November 15, 2024 at 10:30 AM for a new patient visit.")

	require.Len(t, booker.slots, 2)
	assert.Equal(t, "Ann Lee", booker.slots[0].PatientName)
	assert.Equal(t, "Bob Lee", booker.slots[1].PatientName)

	session, err := store.Load(ctx, "fifo")
	require.NoError(t, err)
	assert.Equal(t, appointment.StateIdle, session.Queue.State())
	assert.Len(t, session.Finalized, 2)
}

func TestEngine_ConflictReopensTime(t *testing.T) {
	ext := &stubExtractor{}
	booker := booking.NewMemoryAdapter(quietLogger())
	_, err := booker.CreateBooking(context.Background(), appointment.BookingSlot{
		PatientName: "Someone Else", DoctorID: "dr_001", PreferredDate: "11/13/2024",
		PreferredTime: "03:00 PM", RequestType: appointment.RequestConsultation,
	})
	require.NoError(t, err)
	engine, store := newTestEngine(t, ext, booker)
	ctx := context.Background()

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPatientName:   "Mike Brown",
		appointment.FieldDoctorID:      "dr_001",
		appointment.FieldPreferredDate: "11/13/2024",
		appointment.FieldPreferredTime: "3pm",
		appointment.FieldRequestType:   "consultation",
	}))
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "conflict", Message: "..."})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "not available on Wednesday, November 13, 2024 at 3:00 PM")
	assert.Contains(t, resp.Response, "9:00 AM, 10:00 AM or 11:00 AM")
	assert.Equal(t, appointment.FieldPreferredTime, resp.Context.AwaitingField)

	session, err := store.Load(ctx, "conflict")
	require.NoError(t, err)
	require.NotNil(t, session.LastConflict)
	assert.Equal(t, "", session.Queue.Active.PreferredTime)
	assert.Equal(t, "11/13/2024", session.Queue.Active.PreferredDate)

	ext.push(appointmentExt(appointment.Fields{appointment.FieldPreferredTime: "10am"}))
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "conflict", Message: "10am then"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "at 10:00 AM for a consultation")

	session, err = store.Load(ctx, "conflict")
	require.NoError(t, err)
	assert.Nil(t, session.LastConflict)
	assert.Len(t, session.Finalized, 1)
}

func TestEngine_BookingServiceUnavailableKeepsState(t *testing.T) {
	ext := &stubExtractor{}
	booker := &stubBooker{err: fmt.Errorf("%w: connection refused", booking.ErrUnavailable)}
	engine, store := newTestEngine(t, ext, booker)
	ctx := context.Background()

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPatientName:   "Ann Lee",
		appointment.FieldDoctorID:      "dr_001",
		appointment.FieldPreferredDate: "11/14/2024",
		appointment.FieldPreferredTime: "2pm",
		appointment.FieldRequestType:   "consultation",
	}))
	_, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "down", Message: "..."})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceUnavailable))

	session, err := store.Load(ctx, "down")
	require.NoError(t, err)
	require.NotNil(t, session.Queue.Active)
	assert.True(t, session.Queue.Active.Complete())
	assert.Empty(t, session.Finalized)

	// Service recovers; any follow-up inside the booking retries finalization.
	booker.mu.Lock()
	booker.err = nil
	booker.mu.Unlock()
	ext.push(ExtractionResult{Domain: DomainClarification, Intent: IntentClarify, Reply: "ok", ParseOK: true})
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "down", Message: "try again"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Your appointment is confirmed")
	assert.Len(t, booker.slots, 2)
}

func TestEngine_RejectedBookingAsksForTheRefusedField(t *testing.T) {
	ext := &stubExtractor{}
	booker := &stubBooker{err: booking.NewRejectedError(400, "Invalid doctor")}
	engine, store := newTestEngine(t, ext, booker)
	ctx := context.Background()

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPatientName:   "Ann Lee",
		appointment.FieldDoctorID:      "dr_999",
		appointment.FieldPreferredDate: "11/14/2024",
		appointment.FieldPreferredTime: "2pm",
		appointment.FieldRequestType:   "consultation",
	}))
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "rejected", Message: "..."})
	require.NoError(t, err)
	assert.Equal(t, AgentAppointment, resp.Agent)
	assert.True(t, strings.HasPrefix(resp.Response, "I'm sorry, the appointment could not be booked: Invalid doctor."), resp.Response)
	assert.Contains(t, resp.Response, "Which doctor would Ann Lee like to see?")
	assert.Equal(t, appointment.FieldDoctorID, resp.Context.AwaitingField)

	session, err := store.Load(ctx, "rejected")
	require.NoError(t, err)
	require.NotNil(t, session.Queue.Active)
	assert.Equal(t, "", session.Queue.Active.DoctorID)
	assert.Equal(t, "11/14/2024", session.Queue.Active.PreferredDate)
	assert.Equal(t, "02:00 PM", session.Queue.Active.PreferredTime)
	assert.Empty(t, session.Finalized)
	assert.Len(t, session.History, 2)

	booker.mu.Lock()
	booker.err = nil
	booker.mu.Unlock()
	ext.push(appointmentExt(appointment.Fields{appointment.FieldDoctorID: "dr_001"}))
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "rejected", Message: "dr_001 then"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Ann Lee will see doctor dr_001")
	assert.Len(t, booker.slots, 2)
}

func TestEngine_RejectionWithoutFieldReopensDateAndTime(t *testing.T) {
	ext := &stubExtractor{}
	booker := &stubBooker{err: booking.NewRejectedError(422, "Appointments cannot be booked in the past")}
	engine, _ := newTestEngine(t, ext, booker)

	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPatientName:   "Ann Lee",
		appointment.FieldDoctorID:      "dr_001",
		appointment.FieldPreferredDate: "11/01/2024",
		appointment.FieldPreferredTime: "9am",
		appointment.FieldRequestType:   "follow-up",
	}))
	resp, err := engine.ProcessMessage(context.Background(), MessageRequest{ConversationID: "past", Message: "..."})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "could not be booked: Appointments cannot be booked in the past.")
	assert.Contains(t, resp.Response, "What date would Ann Lee like the appointment with doctor dr_001?")
	require.NotNil(t, resp.Context.ActiveBooking)
	assert.Equal(t, "", resp.Context.ActiveBooking.PreferredDate)
	assert.Equal(t, "", resp.Context.ActiveBooking.PreferredTime)

	// Any other booking failure is not reported as an outage either.
	booker.mu.Lock()
	booker.err = errors.New("booking: decode confirmation: unexpected EOF")
	booker.mu.Unlock()
	ext.push(appointmentExt(appointment.Fields{
		appointment.FieldPreferredDate: "11/20/2024",
		appointment.FieldPreferredTime: "9am",
	}))
	resp, err = engine.ProcessMessage(context.Background(), MessageRequest{ConversationID: "past", Message: "11/20 at 9am"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Response, "I'm sorry, I couldn't book the appointment with those details."), resp.Response)
	assert.NotContains(t, resp.Response, "EOF")
}

func TestEngine_RepeatedCountDoesNotAddBookings(t *testing.T) {
	ext := &stubExtractor{}
	booker := &stubBooker{}
	engine, store := newTestEngine(t, ext, booker)
	ctx := context.Background()

	first := appointmentExt(appointment.Fields{
		appointment.FieldPatientName:   "Ann Lee",
		appointment.FieldDoctorID:      "dr_001",
		appointment.FieldPreferredDate: "11/13/2024",
		appointment.FieldPreferredTime: "9am",
		appointment.FieldRequestType:   "follow up",
	})
	first.Count = 2
	ext.push(first)
	_, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "twice", Message: "Two appointments, first for Ann Lee..."})
	require.NoError(t, err)

	second := appointmentExt(appointment.Fields{appointment.FieldPatientName: "Bob Lee"})
	second.Count = 2
	ext.push(second)
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "twice", Message: "The second one is for Bob Lee"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Which doctor would Bob Lee like to see?")
	assert.NotContains(t, resp.Response, "appointments. Let's start")

	session, err := store.Load(ctx, "twice")
	require.NoError(t, err)
	assert.Equal(t, 1, session.Queue.Size())
	assert.Empty(t, session.Queue.Pending)
	assert.Len(t, session.Finalized, 1)
	assert.Equal(t, 2, session.Queue.Requested)

	// The whole batch restated: the finalized booking is skipped.
	third := appointmentExt(nil)
	third.Count = 2
	third.Bookings = []appointment.Fields{
		{appointment.FieldPatientName: "Ann Lee", appointment.FieldDoctorID: "dr_001"},
		{appointment.FieldPatientName: "Bob Lee", appointment.FieldDoctorID: "dr_002"},
	}
	ext.push(third)
	_, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "twice", Message: "Ann with dr_001 and Bob with dr_002"})
	require.NoError(t, err)

	session, err = store.Load(ctx, "twice")
	require.NoError(t, err)
	assert.Equal(t, 1, session.Queue.Size())
	assert.Equal(t, "Bob Lee", session.Queue.Active.PatientName)
	assert.Equal(t, "dr_002", session.Queue.Active.DoctorID)
	assert.Len(t, booker.slots, 1)
}

// slowExtractor answers by message after a delay so concurrent turns overlap.
type slowExtractor struct {
	delay     time.Duration
	byMessage map[string]ExtractionResult
}

func (s slowExtractor) Extract(ctx context.Context, message string, _ []ChatMessage) (ExtractionResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ExtractionResult{}, ctx.Err()
	}
	return s.byMessage[message], nil
}

func TestEngine_ConcurrentTurnsKeepBothMerges(t *testing.T) {
	ext := slowExtractor{
		delay: 20 * time.Millisecond,
		byMessage: map[string]ExtractionResult{
			"for Ann Lee": appointmentExt(appointment.Fields{appointment.FieldPatientName: "Ann Lee"}),
			"with dr_002": appointmentExt(appointment.Fields{appointment.FieldDoctorID: "dr_002"}),
		},
	}
	engine, store := newTestEngine(t, ext, &stubBooker{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, msg := range []string{"for Ann Lee", "with dr_002"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			_, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "race", Message: msg})
			errs <- err
		}(msg)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	session, err := store.Load(ctx, "race")
	require.NoError(t, err)
	require.NotNil(t, session.Queue.Active)
	assert.Equal(t, "Ann Lee", session.Queue.Active.PatientName)
	assert.Equal(t, "dr_002", session.Queue.Active.DoctorID)
	assert.Equal(t, 1, session.Queue.Size())
	assert.Len(t, session.History, 4)
}

func TestEngine_ExtractionUnreachableFailsTurn(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	ext := &stubExtractor{errs: []error{boom, boom, boom}}
	engine, store := newTestEngine(t, ext, &stubBooker{})

	_, err := engine.ProcessMessage(context.Background(), MessageRequest{ConversationID: "x", Message: "hello"})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	_, err = store.Load(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_MedicalQuestionKeepsBooking(t *testing.T) {
	ext := &stubExtractor{}
	engine, store := newTestEngine(t, ext, &stubBooker{},
		WithMedicalResponder(stubMedical{answer: "Early signs include memory loss."}))
	ctx := context.Background()

	ext.push(appointmentExt(appointment.Fields{appointment.FieldPatientName: "Ann Lee"}))
	_, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "med", Message: "book for Ann Lee"})
	require.NoError(t, err)

	ext.push(ExtractionResult{Domain: DomainMedical, Intent: IntentAskMedical, Question: "What are early signs of dementia?", ParseOK: true})
	resp, err := engine.ProcessMessage(ctx, MessageRequest{ConversationID: "med", Message: "What are early signs of dementia?"})
	require.NoError(t, err)
	assert.Equal(t, AgentMedical, resp.Agent)
	assert.Contains(t, resp.Response, "Early signs include memory loss.")
	assert.Contains(t, resp.Response, "continue booking the appointment for Ann Lee")

	session, err := store.Load(ctx, "med")
	require.NoError(t, err)
	assert.Equal(t, DomainMedical, session.ActiveDomain)
	require.NotNil(t, session.Queue.Active)
	assert.Equal(t, "Ann Lee", session.Queue.Active.PatientName)

	// An empty-domain reply while the booking is pending continues it.
	ext.push(ExtractionResult{ParseOK: true})
	resp, err = engine.ProcessMessage(ctx, MessageRequest{ConversationID: "med", Message: "ok thanks"})
	require.NoError(t, err)
	assert.Equal(t, AgentAppointment, resp.Agent)
	assert.Contains(t, resp.Response, "Which doctor would Ann Lee like to see?")
}

func TestEngine_MedicalResponderFailureDegrades(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(ExtractionResult{Domain: DomainMedical, Intent: IntentAskMedical, ParseOK: true})
	engine, _ := newTestEngine(t, ext, &stubBooker{},
		WithMedicalResponder(stubMedical{err: errors.New("throttled")}))

	resp, err := engine.ProcessMessage(context.Background(), MessageRequest{Message: "is memory loss normal?"})
	require.NoError(t, err)
	assert.Equal(t, medicalFallbackMessage, resp.Response)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestEngine_ClarificationUsesExtractionReply(t *testing.T) {
	ext := &stubExtractor{}
	ext.push(ExtractionResult{Domain: DomainClarification, Intent: IntentClarify, Reply: "Hello! How can I help today?", ParseOK: true})
	engine, _ := newTestEngine(t, ext, &stubBooker{})

	resp, err := engine.ProcessMessage(context.Background(), MessageRequest{ConversationID: "hi", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help today?", resp.Response)
	assert.Equal(t, AgentOrchestrator, resp.Agent)
}

func TestEngine_RejectsEmptyMessage(t *testing.T) {
	engine, _ := newTestEngine(t, &stubExtractor{}, &stubBooker{})
	_, err := engine.ProcessMessage(context.Background(), MessageRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
