package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

var tracer = otel.Tracer("adrd-care-assistant.events")

// Publisher hands booking events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, meta Meta, evt Event) (Envelope, error)
}

// QueuePublisher writes envelopes as JSON onto a QueueClient.
type QueuePublisher struct {
	queue  QueueClient
	logger *logging.Logger
}

var _ Publisher = (*QueuePublisher)(nil)

func NewQueuePublisher(queue QueueClient, logger *logging.Logger) *QueuePublisher {
	if queue == nil {
		panic("events: queue client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueuePublisher{queue: queue, logger: logger}
}

func (p *QueuePublisher) Publish(ctx context.Context, meta Meta, evt Event) (Envelope, error) {
	ctx, span := tracer.Start(ctx, "events.publish")
	defer span.End()

	env, err := Seal(meta, evt)
	if err != nil {
		span.RecordError(err)
		return Envelope{}, err
	}
	span.SetAttributes(
		attribute.String("events.type", env.Type),
		attribute.String("conversation.id", env.ConversationID),
	)

	body, err := json.Marshal(env)
	if err != nil {
		span.RecordError(err)
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		span.RecordError(err)
		return Envelope{}, err
	}

	p.logger.Debug("event published",
		"event_id", env.ID,
		"event_type", env.Type,
		"conversation_id", env.ConversationID,
	)
	return env, nil
}

// NopPublisher seals and drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, meta Meta, evt Event) (Envelope, error) {
	return Seal(meta, evt)
}

// DecodeEnvelope parses a queue message body produced by QueuePublisher.
func DecodeEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	return env, nil
}
