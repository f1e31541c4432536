package conversation

import (
	"errors"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
	"github.com/wolfman30/adrd-care-assistant/internal/booking"
)

// Domain is the task area a turn is handled by.
type Domain string

const (
	DomainNone          Domain = ""
	DomainAppointment   Domain = "appointment"
	DomainMedical       Domain = "medical"
	DomainClarification Domain = "clarification"
)

// Agent labels reported to clients.
const (
	AgentAppointment  = "Appointment Coordinator"
	AgentMedical      = "Medical Advisor"
	AgentOrchestrator = "orchestrator"
)

// Agent returns the client-facing label for the domain.
func (d Domain) Agent() string {
	switch d {
	case DomainAppointment:
		return AgentAppointment
	case DomainMedical:
		return AgentMedical
	default:
		return AgentOrchestrator
	}
}

// ParseDomain maps an extraction "agent" literal onto a Domain. The second
// return is false for literals outside the closed set.
func ParseDomain(raw string) (Domain, bool) {
	switch raw {
	case "":
		return DomainNone, true
	case "appointment":
		return DomainAppointment, true
	case "medical":
		return DomainMedical, true
	case "clarification", "orchestrator":
		return DomainClarification, true
	default:
		return DomainNone, false
	}
}

var (
	// ErrSessionNotFound is returned by stores for unknown conversation ids.
	ErrSessionNotFound = errors.New("conversation: session not found")
	// ErrServiceUnavailable means a collaborator could not be reached within
	// the retry budget.
	ErrServiceUnavailable = errors.New("conversation: service temporarily unavailable")
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Domain  Domain    `json:"domain,omitempty"`
	At      time.Time `json:"at"`
}

// Conflict records the alternatives offered after the requested time was
// taken. It is cleared once a new time is merged.
type Conflict struct {
	DoctorID     string                `json:"doctor_id"`
	Date         string                `json:"date"`
	Time         string                `json:"time"`
	Alternatives []booking.Alternative `json:"alternatives,omitempty"`
}

// Session is the persisted state of one conversation.
type Session struct {
	ID           string                 `json:"id"`
	ActiveDomain Domain                 `json:"active_domain,omitempty"`
	Queue        appointment.Queue      `json:"queue"`
	History      []Turn                 `json:"history,omitempty"`
	Finalized    []booking.Confirmation `json:"finalized,omitempty"`
	LastConflict *Conflict              `json:"last_conflict,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewSession returns an empty session.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// BookingInProgress reports whether an appointment is being collected.
func (s *Session) BookingInProgress() bool {
	return s.Queue.Active != nil
}

// ActiveBooking returns the booking currently being filled, or nil.
func (s *Session) ActiveBooking() *appointment.BookingSlot {
	return s.Queue.Active
}

// AppendTurn adds a message to the history.
func (s *Session) AppendTurn(role, content string, domain Domain, at time.Time) {
	s.History = append(s.History, Turn{Role: role, Content: content, Domain: domain, At: at})
}

// ChatHistory renders the turn history for an LLM request, keeping at most the
// last limit turns (limit <= 0 keeps all).
func (s *Session) ChatHistory(limit int) []ChatMessage {
	turns := s.History
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ChatMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

// Clone returns a deep copy so a turn can be abandoned without side effects.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Queue = s.Queue.Clone()
	c.History = append([]Turn(nil), s.History...)
	c.Finalized = append([]booking.Confirmation(nil), s.Finalized...)
	if s.LastConflict != nil {
		lc := *s.LastConflict
		lc.Alternatives = append([]booking.Alternative(nil), s.LastConflict.Alternatives...)
		c.LastConflict = &lc
	}
	return &c
}
