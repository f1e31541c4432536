package events

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is a booking outcome. EventType names it as "<name>.v<version>".
type Event interface {
	EventType() string
}

// Meta identifies where an event came from. ID and OccurredAt are filled in
// by Seal when left empty.
type Meta struct {
	ID             string
	ConversationID string
	RequestID      string
	OccurredAt     time.Time
}

// Envelope is the queue message body for one booking event.
type Envelope struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Version        int             `json:"version"`
	ConversationID string          `json:"conversation_id"`
	RequestID      string          `json:"request_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

var (
	ErrNoConversation = errors.New("events: conversation id is required")
	errNilEvent       = errors.New("events: event is required")

	clock = time.Now
)

// Seal validates evt and wraps it with meta.
func Seal(meta Meta, evt Event) (Envelope, error) {
	conversationID := strings.TrimSpace(meta.ConversationID)
	if conversationID == "" {
		return Envelope{}, ErrNoConversation
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	typ := strings.TrimSpace(evt.EventType())
	version, err := typeVersion(typ)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", typ, err)
	}

	env := Envelope{
		ID:             meta.ID,
		Type:           typ,
		Version:        version,
		ConversationID: conversationID,
		RequestID:      strings.TrimSpace(meta.RequestID),
		OccurredAt:     meta.OccurredAt.UTC(),
		Payload:        payload,
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if meta.OccurredAt.IsZero() {
		env.OccurredAt = clock().UTC()
	}
	return env, nil
}

// typeVersion reads N from a "<name>.vN" event type.
func typeVersion(typ string) (int, error) {
	i := strings.LastIndex(typ, ".v")
	if i <= 0 {
		return 0, fmt.Errorf("events: event type %q has no version suffix", typ)
	}
	n, err := strconv.Atoi(typ[i+2:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("events: event type %q has an invalid version", typ)
	}
	return n, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("events: %s %s has no payload", e.Type, e.ID)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", e.Type, err)
	}
	return nil
}
