package llm

import (
	"divrecon/internal/config"
	"divrecon/internal/httpx"
)

type Config = config.Config

var externalHTTPClient = httpx.ExternalHTTPClient()

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGoogleModel    = "gemini-2.5-flash"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultMaxTokens      = 4096
)

// ModelFor returns the configured model or the provider default.
func ModelFor(cfg Config) string {
	if cfg.LLMModel != "" {
		return cfg.LLMModel
	}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return defaultAnthropicModel
	case config.ProviderGoogle:
		return defaultGoogleModel
	default:
		return defaultOpenAIModel
	}
}
