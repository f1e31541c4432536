package conversation

import "context"

// Roles accepted in chat history. System turns are never stored on a session;
// providers fold them into their system prompt.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one history entry as the caregiver and the assistant
// exchanged it.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is reported by the provider for a single completion.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is what the extractor and the medical responder send. Zero
// sampling values leave the provider default in place, except Temperature,
// which extraction pins to 0.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient completes one prompt. Bedrock is the primary provider and Gemini
// the fallback.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// withLatest returns the last limit history entries followed by text as a
// user turn. The caller's slice is never modified.
func withLatest(history []ChatMessage, limit int, text string) []ChatMessage {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	return append(out, ChatMessage{Role: ChatRoleUser, Content: text})
}
