package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/adrd-care-assistant/internal/appointment"
)

const (
	IntentBookAppointment = "book_appointment"
	IntentAskMedical      = "ask_medical_question"
	IntentClarify         = "clarify"
)

// ExtractionResult is the structured reading of one user message.
// ParseOK is false when the service answered with something that could not
// be decoded; Domain may hold a literal outside the known set.
type ExtractionResult struct {
	Domain   Domain
	Intent   string
	Fields   appointment.Fields
	Count    int
	Bookings []appointment.Fields
	Reply    string
	Question string
	ParseOK  bool
}

// Extractor turns a message plus history into an ExtractionResult. A non-nil
// error means the service itself failed (transport, timeout); malformed output
// is reported through ParseOK.
type Extractor interface {
	Extract(ctx context.Context, message string, history []ChatMessage) (ExtractionResult, error)
}

const extractionSystemPrompt = `You are the ADRD care system orchestrator. Analyze the latest user message in the context of the conversation and determine the user's intent. Reply with a single JSON object and nothing else.

If the user wants to book (or is continuing to book) an appointment:
{
  "agent": "appointment",
  "intent": "book_appointment",
  "count": 1,
  "details": {
    "patient_name": "...",
    "doctor_id": "...",
    "preferred_date": "MM/DD/YYYY",
    "preferred_time": "HH:MM AM/PM",
    "request_type": "consultation|follow_up|new_patient"
  },
  "bookings": [],
  "missing_fields": ["..."]
}

If the user asks for several appointments at once, set "count" to the number requested and, when they describe each one, list the per-appointment details in "bookings" in the order given.

For medical questions:
{"agent": "medical", "intent": "ask_medical_question", "question": "..."}

For greetings, small talk or unclear intent:
{"agent": "orchestrator", "intent": "clarify", "response": "Your conversational response"}

Rules:
- Only include details the user actually stated in this message. Never invent names, ids, dates or times and never use placeholders such as "unknown" or "N/A"; leave the field out instead.
- Dates should be MM/DD/YYYY when you can resolve them; otherwise copy the user's wording (e.g. "next Tuesday").
- Times should be HH:MM AM/PM when you can resolve them; otherwise copy the user's wording.
- Doctor IDs should be preserved as given (e.g. dr_001).`

// LLMExtractor implements Extractor on top of an LLMClient.
type LLMExtractor struct {
	client       LLMClient
	model        string
	historyLimit int
	now          func() time.Time
}

var _ Extractor = (*LLMExtractor)(nil)

// ExtractorOption configures an LLMExtractor.
type ExtractorOption func(*LLMExtractor)

func WithExtractorModel(model string) ExtractorOption {
	return func(e *LLMExtractor) { e.model = strings.TrimSpace(model) }
}

// WithExtractorHistoryLimit caps how many prior turns are sent.
func WithExtractorHistoryLimit(n int) ExtractorOption {
	return func(e *LLMExtractor) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *LLMExtractor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewLLMExtractor(client LLMClient, opts ...ExtractorOption) *LLMExtractor {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	e := &LLMExtractor{client: client, historyLimit: 12, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LLMExtractor) Extract(ctx context.Context, message string, history []ChatMessage) (ExtractionResult, error) {
	ctx, span := otel.Tracer("adrd-care-assistant.conversation.extraction").Start(ctx, "conversation.extract")
	defer span.End()

	messages := withLatest(history, e.historyLimit, message)

	today := e.now()
	resp, err := e.client.Complete(ctx, LLMRequest{
		Model: e.model,
		System: []string{
			extractionSystemPrompt,
			fmt.Sprintf("Today is %s, %s.", today.Weekday(), today.Format(appointment.DateLayout)),
		},
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		span.RecordError(err)
		return ExtractionResult{}, err
	}

	result := ParseExtraction(resp.Text)
	span.SetAttributes(
		attribute.Bool("extraction.parse_ok", result.ParseOK),
		attribute.String("extraction.domain", string(result.Domain)),
	)
	return result, nil
}

type extractionPayload struct {
	Agent    string           `json:"agent"`
	Intent   string           `json:"intent"`
	Details  map[string]any   `json:"details"`
	Bookings []map[string]any `json:"bookings"`
	Count    any              `json:"count"`
	Question string           `json:"question"`
	Response string           `json:"response"`
}

// ParseExtraction decodes the extraction service's JSON reply. Code fences
// and prose around the object are tolerated; anything else yields
// ParseOK=false.
func ParseExtraction(raw string) ExtractionResult {
	text := extractJSONObject(stripCodeFence(raw))
	if text == "" {
		return ExtractionResult{}
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return ExtractionResult{}
	}

	agent := strings.ToLower(strings.TrimSpace(payload.Agent))
	domain, ok := ParseDomain(agent)
	if !ok {
		domain = Domain(agent)
	}
	intent := strings.ToLower(strings.TrimSpace(payload.Intent))
	if domain == DomainClarification && intent == "" && strings.TrimSpace(payload.Response) != "" {
		intent = IntentClarify
	}

	result := ExtractionResult{
		Domain:   domain,
		Intent:   intent,
		Fields:   toFields(payload.Details),
		Count:    toCount(payload.Count),
		Reply:    strings.TrimSpace(payload.Response),
		Question: strings.TrimSpace(payload.Question),
		ParseOK:  true,
	}
	for _, b := range payload.Bookings {
		result.Bookings = append(result.Bookings, toFields(b))
	}
	return result
}

func toFields(raw map[string]any) appointment.Fields {
	if len(raw) == 0 {
		return nil
	}
	fields := make(appointment.Fields, len(raw))
	for k, v := range raw {
		f := appointment.Field(strings.ToLower(strings.TrimSpace(k)))
		if !appointment.IsKnownField(f) {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				fields[f] = s
			}
		case float64:
			fields[f] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return fields
}

func toCount(v any) int {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i > 0 {
			return i
		}
	}
	return 0
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func extractJSONObject(text string) string {
	if strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}
