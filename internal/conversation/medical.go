package conversation

import (
	"context"
	"errors"
	"strings"
)

// MedicalResponder answers general questions about ADRD.
type MedicalResponder interface {
	Answer(ctx context.Context, question string, history []ChatMessage) (string, error)
}

const medicalSystemPrompt = `You are a medical advisor specializing in ADRD (Alzheimer's disease and related dementias). Your role is to:
1. Answer medical questions related to ADRD
2. Provide general health information and advice
3. Explain medical terms and procedures
4. Discuss symptoms and treatment options

Guidelines:
- Provide accurate, evidence-based information in clear, understandable language.
- Be empathetic and supportive; many users are caregivers.
- Direct urgent medical concerns to healthcare providers or emergency services.
- Never ask for or repeat identifying details beyond what the user shared.

You are not replacing a doctor. For specific medical advice, always recommend consulting with a healthcare provider. Keep answers under 200 words.`

// medicalFallbackMessage is sent when the responder fails.
const medicalFallbackMessage = "I'm sorry, I can't answer medical questions right now. Please try again in a moment, or contact your healthcare provider if you need help soon."

// LLMMedicalResponder answers through an LLMClient.
type LLMMedicalResponder struct {
	client LLMClient
	model  string
}

var _ MedicalResponder = (*LLMMedicalResponder)(nil)

func NewLLMMedicalResponder(client LLMClient, model string) *LLMMedicalResponder {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	return &LLMMedicalResponder{client: client, model: strings.TrimSpace(model)}
}

func (r *LLMMedicalResponder) Answer(ctx context.Context, question string, history []ChatMessage) (string, error) {
	resp, err := r.client.Complete(ctx, LLMRequest{
		Model:       r.model,
		System:      []string{medicalSystemPrompt},
		Messages:    withLatest(history, 0, question),
		MaxTokens:   600,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("conversation: medical responder returned empty text")
	}
	return resp.Text, nil
}
