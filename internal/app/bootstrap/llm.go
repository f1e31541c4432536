package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/internal/conversation"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// BuildLLMClient wires the configured provider as primary and the other one,
// when configured, as fallback. The returned closer releases the Gemini
// client and is never nil.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var bedrock conversation.LLMClient
	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" {
		bedrock = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), model)
	}

	var gemini *conversation.GeminiLLMClient
	closer := noop
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			gemini = client
			closer = client.Close
		}
	}

	type provider struct {
		name   string
		client conversation.LLMClient
	}
	var chain []provider
	if cfg.LLMProvider == "gemini" && gemini != nil {
		chain = append(chain, provider{"gemini", gemini})
	}
	if bedrock != nil {
		chain = append(chain, provider{"bedrock", bedrock})
	}
	if gemini != nil && cfg.LLMProvider != "gemini" {
		chain = append(chain, provider{"gemini", gemini})
	}
	if len(chain) == 0 {
		return nil, closer, errors.New("bootstrap: no LLM provider configured; set BEDROCK_MODEL_ID or GEMINI_API_KEY")
	}

	primary, fallback := chain[0], provider{name: "none"}
	if len(chain) > 1 {
		fallback = chain[1]
	}
	logger.Info("llm client configured", "primary", primary.name, "fallback", fallback.name)
	return conversation.NewFallbackLLMClient(primary.client, fallback.client, logger), closer, nil
}
