package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/booking"
	"github.com/wolfman30/adrd-care-assistant/internal/events"
	"github.com/wolfman30/adrd-care-assistant/internal/observability/metrics"
	"github.com/wolfman30/adrd-care-assistant/internal/privacy"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// ErrEmptyMessage is returned for blank user messages.
var ErrEmptyMessage = errors.New("conversation: message is required")

// MessageRequest is one inbound user turn. History seeds the extraction
// context for conversations the store has not seen yet.
type MessageRequest struct {
	ConversationID string
	Message        string
	History        []ChatMessage
	RequestID      string
}

// Response is the outbound reply for a turn.
type Response struct {
	ConversationID string       `json:"conversation_id"`
	Response       string       `json:"response"`
	Agent          string       `json:"agent"`
	Context        *TurnContext `json:"context,omitempty"`
}

// TurnContext is debug state returned alongside the reply.
type TurnContext struct {
	Domain        Domain                   `json:"domain"`
	Action        Action                   `json:"action"`
	State         appointment.State        `json:"state"`
	Pending       int                      `json:"pending"`
	AwaitingField appointment.Field        `json:"awaiting_field,omitempty"`
	ActiveBooking *appointment.BookingSlot `json:"active_booking,omitempty"`
	Finalized     int                      `json:"finalized"`
}

type domainHandler func(ctx context.Context, t *turn)

// turn carries one message through the engine.
type turn struct {
	session    *Session
	req        MessageRequest
	history    []ChatMessage
	ext        ExtractionResult
	normalizer appointment.Normalizer
	result     turnResult
}

// Engine processes conversation turns: route, apply, finalize, compose.
type Engine struct {
	store     SessionStore
	locker    Locker
	router    *Router
	booker    booking.BookingAdapter
	medical   MedicalResponder
	publisher events.Publisher
	metrics   *metrics.ConversationMetrics
	logger    *logging.Logger
	location  *time.Location
	now       func() time.Time

	historyLimit int
	handlers     map[Domain]domainHandler
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLocker(l Locker) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithMedicalResponder(m MedicalResponder) EngineOption {
	return func(e *Engine) { e.medical = m }
}

func WithPublisher(p events.Publisher) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithEngineMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLocation sets the time zone relative dates are resolved in.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithHistoryLimit caps the turns sent to collaborators.
func WithHistoryLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

func NewEngine(store SessionStore, router *Router, booker booking.BookingAdapter, logger *logging.Logger, opts ...EngineOption) *Engine {
	if store == nil {
		panic("conversation: session store cannot be nil")
	}
	if router == nil {
		panic("conversation: router cannot be nil")
	}
	if booker == nil {
		panic("conversation: booking adapter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:        store,
		locker:       NewMemoryLocker(),
		router:       router,
		booker:       booker,
		publisher:    events.NopPublisher{},
		logger:       logger,
		location:     time.UTC,
		now:          time.Now,
		historyLimit: 20,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[Domain]domainHandler{
		DomainAppointment:   e.handleAppointment,
		DomainMedical:       e.handleMedical,
		DomainClarification: e.handleClarification,
	}
	return e
}

// ProcessMessage handles one user turn. Turns for the same conversation are
// serialized; a clarify outcome leaves the stored session untouched.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		req.ConversationID = uuid.NewString()
	}
	start := time.Now()
	id := req.ConversationID

	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to lock conversation %s: %w", id, err)
	}
	defer release()

	now := e.now().In(e.location)
	session, err := e.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		session = NewSession(id, now)
	case err != nil:
		return nil, err
	}

	history := session.ChatHistory(e.historyLimit)
	if len(history) == 0 {
		history = sanitizeHistory(req.History, e.historyLimit)
	}

	decision, ext, err := e.router.Route(ctx, session, req.Message, history)
	if err != nil {
		e.logger.Error("routing failed", "conversation_id", id, "request_id", req.RequestID, "error", err)
		return nil, err
	}

	if decision.Action == ActionClarify {
		e.metrics.ObserveTurn(string(DomainNone), string(ActionClarify), time.Since(start).Seconds())
		e.logger.Info("turn needs clarification",
			"conversation_id", id,
			"request_id", req.RequestID,
			"message_preview", privacy.Preview(req.Message, 80),
		)
		return e.response(session, decision, ClarificationMessage), nil
	}

	t := &turn{
		session:    session,
		req:        req,
		history:    history,
		ext:        ext,
		normalizer: appointment.NewNormalizer(now),
		result:     turnResult{decision: decision},
	}
	e.handlers[decision.Domain](ctx, t)

	if decision.Domain == DomainAppointment {
		if err := e.finalize(ctx, t, now); err != nil {
			session.AppendTurn(ChatRoleUser, req.Message, decision.Domain, now)
			session.UpdatedAt = now
			if saveErr := e.store.Save(ctx, session); saveErr != nil {
				e.logger.Error("failed to save session after booking failure", "conversation_id", id, "error", saveErr)
			}
			return nil, err
		}
	}

	reply := Compose(session, t.result)
	session.AppendTurn(ChatRoleUser, req.Message, decision.Domain, now)
	session.AppendTurn(ChatRoleAssistant, reply, decision.Domain, now)
	session.UpdatedAt = now
	if err := e.store.Save(ctx, session); err != nil {
		return nil, err
	}

	e.metrics.ObserveTurn(string(decision.Domain), string(decision.Action), time.Since(start).Seconds())
	e.logger.Info("turn processed",
		"conversation_id", id,
		"request_id", req.RequestID,
		"domain", string(decision.Domain),
		"action", string(decision.Action),
		"queue_state", string(session.Queue.State()),
	)
	return e.response(session, decision, reply), nil
}

// GetSession returns the stored session for id.
func (e *Engine) GetSession(ctx context.Context, id string) (*Session, error) {
	return e.store.Load(ctx, id)
}

func (e *Engine) handleAppointment(_ context.Context, t *turn) {
	s := t.session
	q := &s.Queue
	ext := t.ext
	requested := ext.Count
	if len(ext.Bookings) > requested {
		requested = len(ext.Bookings)
	}

	firstNew := 0
	if q.Active == nil {
		if requested < 1 {
			requested = 1
		}
		q.Open(requested)
		t.result.opened = requested
	} else if added := q.Expand(requested); added > 0 {
		firstNew = q.Size() - added
		t.result.opened = added
	}

	e.mergeInto(t, q.Active, ext.Fields)
	for i, fields := range ext.Bookings {
		var idx int
		switch {
		case len(ext.Bookings) == q.Size():
			idx = i
		case len(ext.Bookings) == q.Requested:
			// The whole batch was restated; skip the bookings already made.
			idx = i - q.Done()
		default:
			idx = firstNew + i
		}
		if idx < 0 {
			continue
		}
		e.mergeInto(t, q.Slot(idx), fields)
	}

	s.ActiveDomain = DomainAppointment
}

func (e *Engine) mergeInto(t *turn, slot *appointment.BookingSlot, fields appointment.Fields) {
	if slot == nil || len(fields) == 0 {
		return
	}
	res := appointment.Merge(*slot, fields, t.normalizer)
	if len(res.Unresolved) > 0 {
		e.logger.Debug("unresolved booking fields",
			"conversation_id", t.session.ID,
			"fields", res.Unresolved,
			"errors", errors.Join(res.Errors...),
		)
	}
	if res.Slot.PreferredTime != slot.PreferredTime && slot == t.session.Queue.Active {
		t.session.LastConflict = nil
	}
	*slot = res.Slot
}

func (e *Engine) handleMedical(ctx context.Context, t *turn) {
	t.session.ActiveDomain = DomainMedical
	if e.medical == nil {
		t.result.answer = medicalFallbackMessage
		return
	}
	question := t.ext.Question
	if question == "" {
		question = t.req.Message
	}
	answer, err := e.medical.Answer(ctx, question, t.history)
	if err != nil {
		e.logger.Warn("medical responder failed", "conversation_id", t.session.ID, "error", err)
		answer = medicalFallbackMessage
	}
	t.result.answer = answer
}

func (e *Engine) handleClarification(_ context.Context, t *turn) {
	t.session.ActiveDomain = DomainClarification
	t.result.answer = t.ext.Reply
}

// finalize books the active slot once complete. Only an unreachable booking
// service is returned as an error; conflicts and rejections reopen fields of
// the active slot so the next question asks for them again.
func (e *Engine) finalize(ctx context.Context, t *turn, now time.Time) error {
	s := t.session
	active := s.Queue.Active
	if active == nil || !active.Complete() {
		return nil
	}

	conf, err := e.booker.CreateBooking(ctx, *active)
	var conflict *booking.ConflictError
	switch {
	case err == nil:
		e.metrics.ObserveBooking("confirmed")
		s.Finalized = append(s.Finalized, *conf)
		s.LastConflict = nil
		t.result.confirmed = conf
		if !s.Queue.Advance() {
			s.ActiveDomain = DomainNone
		}
		e.publish(ctx, t, events.BookingFinalizedV1{
			ConversationID: s.ID,
			AppointmentID:  conf.AppointmentID,
			Adapter:        e.booker.Name(),
			PatientName:    conf.Slot.PatientName,
			DoctorID:       conf.Slot.DoctorID,
			PreferredDate:  conf.Slot.PreferredDate,
			PreferredTime:  conf.Slot.PreferredTime,
			RequestType:    string(conf.Slot.RequestType),
			ConfirmedAt:    conf.ConfirmedAt,
			Remaining:      s.Queue.Size(),
		})
		e.logger.Info("booking finalized",
			"conversation_id", s.ID,
			"appointment_id", conf.AppointmentID,
			"summary", booking.FormatSummary(conf.Slot),
		)
		return nil

	case errors.As(err, &conflict):
		e.metrics.ObserveBooking("conflict")
		s.Queue.Reopen()
		s.LastConflict = &Conflict{
			DoctorID:     conflict.DoctorID,
			Date:         conflict.Date,
			Time:         conflict.Time,
			Alternatives: conflict.Alternatives,
		}
		t.result.conflict = s.LastConflict
		e.publish(ctx, t, events.BookingConflictV1{
			ConversationID: s.ID,
			DoctorID:       conflict.DoctorID,
			PreferredDate:  conflict.Date,
			PreferredTime:  conflict.Time,
			Alternatives:   len(conflict.Alternatives),
			OccurredAt:     now,
		})
		return nil

	case errors.Is(err, booking.ErrUnavailable):
		e.metrics.ObserveBooking("unavailable")
		e.logger.Error("booking failed",
			"conversation_id", s.ID,
			"summary", booking.FormatSummary(*active),
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)

	default:
		var rejected *booking.RejectedError
		outcome := "rejected"
		if !errors.As(err, &rejected) {
			outcome = "error"
			rejected = &booking.RejectedError{}
		}
		e.metrics.ObserveBooking(outcome)
		if rejected.Field != "" {
			s.Queue.Reopen(rejected.Field)
		} else {
			s.Queue.Reopen(appointment.FieldPreferredDate, appointment.FieldPreferredTime)
		}
		s.LastConflict = nil
		t.result.rejected = rejected
		e.logger.Warn("booking rejected",
			"conversation_id", s.ID,
			"summary", booking.FormatSummary(*active),
			"reopened", rejected.Field,
			"error", err,
		)
		return nil
	}
}

func (e *Engine) publish(ctx context.Context, t *turn, evt events.Event) {
	if _, err := e.publisher.Publish(ctx, events.Meta{ConversationID: t.session.ID, RequestID: t.req.RequestID}, evt); err != nil {
		e.logger.Warn("failed to publish event",
			"conversation_id", t.session.ID,
			"event_type", evt.EventType(),
			"error", err,
		)
	}
}

func (e *Engine) response(session *Session, decision RoutingDecision, reply string) *Response {
	agent := AgentOrchestrator
	if decision.Action != ActionClarify {
		agent = decision.Domain.Agent()
	}
	tc := &TurnContext{
		Domain:        session.ActiveDomain,
		Action:        decision.Action,
		State:         session.Queue.State(),
		Pending:       len(session.Queue.Pending),
		ActiveBooking: session.Queue.Active,
		Finalized:     len(session.Finalized),
	}
	if session.Queue.Active != nil {
		if f, ok := session.Queue.Active.NextMissing(); ok {
			tc.AwaitingField = f
		}
	}
	return &Response{
		ConversationID: session.ID,
		Response:       reply,
		Agent:          agent,
		Context:        tc,
	}
}

func sanitizeHistory(in []ChatMessage, limit int) []ChatMessage {
	out := make([]ChatMessage, 0, len(in))
	for _, m := range in {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case ChatRoleUser, ChatRoleAssistant:
			out = append(out, ChatMessage{Role: m.Role, Content: content})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
