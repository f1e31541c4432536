package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/observability/metrics"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// Action is what the engine does with a routed turn.
type Action string

const (
	// ActionRetry asks for another extraction attempt.
	ActionRetry Action = "retry"
	// ActionClarify ends the turn with the fixed clarification message.
	ActionClarify Action = "clarify"
	// ActionContinue keeps the booking in progress.
	ActionContinue Action = "continue"
	// ActionAdopt switches to the extraction's domain.
	ActionAdopt Action = "adopt"
)

// RoutingDecision is the router's verdict for one turn.
type RoutingDecision struct {
	Domain Domain
	Action Action
}

// Decide maps an extraction onto a routing decision for the session. It has
// no side effects.
func Decide(session *Session, ext ExtractionResult) RoutingDecision {
	if !ext.ParseOK || !knownDomain(ext.Domain) || !intentMatches(ext.Domain, ext.Intent) {
		return RoutingDecision{Action: ActionRetry}
	}

	inProgress := session != nil && session.BookingInProgress()
	switch ext.Domain {
	case DomainAppointment:
		if inProgress {
			return RoutingDecision{Domain: DomainAppointment, Action: ActionContinue}
		}
		return RoutingDecision{Domain: DomainAppointment, Action: ActionAdopt}
	case DomainNone, DomainClarification:
		if inProgress {
			return RoutingDecision{Domain: DomainAppointment, Action: ActionContinue}
		}
		return RoutingDecision{Domain: DomainClarification, Action: ActionAdopt}
	default:
		return RoutingDecision{Domain: ext.Domain, Action: ActionAdopt}
	}
}

func knownDomain(d Domain) bool {
	switch d {
	case DomainNone, DomainAppointment, DomainMedical, DomainClarification:
		return true
	}
	return false
}

func intentMatches(d Domain, intent string) bool {
	switch d {
	case DomainAppointment:
		return intent == IntentBookAppointment
	case DomainMedical:
		return intent == IntentAskMedical
	default:
		return intent == "" || intent == IntentClarify
	}
}

// Router drives the extraction service with bounded retries.
type Router struct {
	extractor   Extractor
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	metrics     *metrics.ConversationMetrics
	logger      *logging.Logger
	sleep       func(context.Context, time.Duration) error
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxAttempts sets the retry ceiling (total extraction calls per turn).
func WithMaxAttempts(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay; attempt n waits n*backoff.
func WithRetryBackoff(d time.Duration) RouterOption {
	return func(r *Router) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithExtractionTimeout bounds each extraction call.
func WithExtractionTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRouterMetrics(m *metrics.ConversationMetrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(extractor Extractor, logger *logging.Logger, opts ...RouterOption) *Router {
	if extractor == nil {
		panic("conversation: extractor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Router{
		extractor:   extractor,
		maxAttempts: 3,
		backoff:     250 * time.Millisecond,
		timeout:     10 * time.Second,
		logger:      logger,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route extracts and decides, retrying malformed or inconsistent output. When
// the ceiling is reached it returns ActionClarify; when every attempt failed
// to reach the service it returns ErrServiceUnavailable.
func (r *Router) Route(ctx context.Context, session *Session, message string, history []ChatMessage) (RoutingDecision, ExtractionResult, error) {
	transportFailures := 0
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, time.Duration(attempt-1)*r.backoff); err != nil {
				return RoutingDecision{}, ExtractionResult{}, err
			}
		}

		ext, err := r.extract(ctx, message, history)
		if err != nil {
			if ctx.Err() != nil {
				return RoutingDecision{}, ExtractionResult{}, ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				transportFailures++
			}
			r.logger.Warn("extraction attempt failed",
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		decision := Decide(session, ext)
		if decision.Action != ActionRetry {
			return decision, ext, nil
		}
		r.logger.Warn("extraction output rejected",
			"attempt", attempt,
			"parse_ok", ext.ParseOK,
			"domain", string(ext.Domain),
			"intent", ext.Intent,
		)
	}

	if transportFailures == r.maxAttempts {
		return RoutingDecision{}, ExtractionResult{}, ErrServiceUnavailable
	}
	return RoutingDecision{Action: ActionClarify}, ExtractionResult{}, nil
}

func (r *Router) extract(ctx context.Context, message string, history []ChatMessage) (ExtractionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	ext, err := r.extractor.Extract(callCtx, message, history)
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	outcome := "ok"
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case !ext.ParseOK:
		outcome = "malformed"
	}
	r.metrics.ObserveExtraction(outcome, time.Since(start).Seconds())
	return ext, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
