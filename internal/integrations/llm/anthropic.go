package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

type anthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
}

func newAnthropicClient(cfg Config, opts ...option.RequestOption) *anthropicClient {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithHTTPClient(externalHTTPClient),
		option.WithMaxRetries(0),
	}
	return &anthropicClient{
		client:      anthropic.NewClient(append(base, opts...)...),
		model:       ModelFor(cfg),
		temperature: cfg.LLMTemperature,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Reply, error) {
	user, err := req.userMessage()
	if err != nil {
		return nil, err
	}
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(req.temperature(c.temperature)),
		System: []anthropic.TextBlockParam{
			{Text: req.systemPrompt()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	log.Debug().
		Str("provider", "anthropic").
		Str("model", c.model).
		Int64("tokens_in", message.Usage.InputTokens).
		Int64("tokens_out", message.Usage.OutputTokens).
		Msg("llm response received")
	return AnthropicReply{Message: message}, nil
}
