package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"divrecon/internal/config"
)

// NewClient builds the client for the configured provider. It returns nil
// with no error when no provider credential is configured; callers treat a
// nil client as the rule-based path.
func NewClient(ctx context.Context, cfg Config) (StructuredClient, error) {
	if !cfg.LLMEnabled() {
		log.Info().Str("provider", cfg.LLMProvider).Msg("llm disabled, using rule-based annotations")
		return nil, nil
	}

	var client StructuredClient
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		client = newAnthropicClient(cfg)
	case config.ProviderOpenAI:
		client = newOpenAIClient(cfg)
	case config.ProviderGoogle:
		gc, err := newGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client = gc
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}

	log.Info().
		Str("provider", cfg.LLMProvider).
		Str("model", ModelFor(cfg)).
		Float64("temperature", cfg.LLMTemperature).
		Float64("requests_per_second", cfg.LLMRequestsPerSecond).
		Msg("llm client configured")
	return RateLimited(client, cfg.LLMRequestsPerSecond), nil
}
