package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/adrd-care-assistant/internal/booking"
	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/internal/conversation"
	"github.com/wolfman30/adrd-care-assistant/internal/events"
	"github.com/wolfman30/adrd-care-assistant/internal/observability/metrics"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// BuildBookingAdapter returns the doctor appointment API client, or the
// in-memory scheduler when no base URL is configured.
func BuildBookingAdapter(cfg *appconfig.Config, logger *logging.Logger) booking.BookingAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.BookingAPIBaseURL) == "" {
		logger.Warn("no booking API configured; using in-memory scheduler")
		return booking.NewMemoryAdapter(logger)
	}
	logger.Info("using booking API", "base_url", cfg.BookingAPIBaseURL)
	return booking.NewClient(logger,
		booking.WithBaseURL(cfg.BookingAPIBaseURL),
		booking.WithTimeout(cfg.BookingTimeout),
		booking.WithLookaheadDays(cfg.BookingLookaheadDays),
	)
}

// EventPipeline is where booking events go. MemoryQueue is set only when the
// events stay in process and need an inline consumer.
type EventPipeline struct {
	Publisher   events.Publisher
	Queue       events.QueueClient
	MemoryQueue *events.MemoryQueue
}

// BuildEventPipeline publishes to SQS when BOOKING_EVENTS_QUEUE_URL is set and
// to an in-memory queue otherwise.
func BuildEventPipeline(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) EventPipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && strings.TrimSpace(cfg.BookingEventsQueueURL) != "" {
		queue := events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.BookingEventsQueueURL)
		logger.Info("publishing booking events to SQS", "queue_url", cfg.BookingEventsQueueURL)
		return EventPipeline{Publisher: events.NewQueuePublisher(queue, logger), Queue: queue}
	}
	queue := events.NewMemoryQueue(256)
	return EventPipeline{Publisher: events.NewQueuePublisher(queue, logger), Queue: queue, MemoryQueue: queue}
}

// EngineDeps are the collaborators BuildEngine needs.
type EngineDeps struct {
	LLM         conversation.LLMClient
	Persistence Persistence
	Booker      booking.BookingAdapter
	Publisher   events.Publisher
	Metrics     *metrics.ConversationMetrics
}

// BuildEngine assembles the extractor, router, medical responder and engine.
func BuildEngine(ctx context.Context, cfg *appconfig.Config, deps EngineDeps, logger *logging.Logger) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("bootstrap: llm client is required")
	}
	if deps.Persistence.Store == nil || deps.Booker == nil {
		return nil, fmt.Errorf("bootstrap: session store and booking adapter are required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	loc := cfg.Location()
	extractor := conversation.NewLLMExtractor(deps.LLM,
		conversation.WithExtractorClock(func() time.Time { return time.Now().In(loc) }),
	)
	router := conversation.NewRouter(extractor, logger,
		conversation.WithMaxAttempts(cfg.ExtractionMaxAttempts),
		conversation.WithRetryBackoff(cfg.ExtractionRetryBackoff),
		conversation.WithExtractionTimeout(cfg.ExtractionTimeout),
		conversation.WithRouterMetrics(deps.Metrics),
	)

	engine := conversation.NewEngine(deps.Persistence.Store, router, deps.Booker, logger,
		conversation.WithLocker(deps.Persistence.Locker),
		conversation.WithMedicalResponder(conversation.NewLLMMedicalResponder(deps.LLM, "")),
		conversation.WithPublisher(deps.Publisher),
		conversation.WithEngineMetrics(deps.Metrics),
		conversation.WithLocation(loc),
	)
	logger.Info("conversation engine ready",
		"session_store", deps.Persistence.Kind,
		"booking_adapter", deps.Booker.Name(),
		"timezone", loc.String(),
	)
	return engine, nil
}
