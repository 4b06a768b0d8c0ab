package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

type geminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
}

func newGeminiClient(ctx context.Context, cfg Config) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.GoogleAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: externalHTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &geminiClient{client: client, model: ModelFor(cfg), temperature: cfg.LLMTemperature}, nil
}

func (c *geminiClient) Complete(ctx context.Context, req Request) (Reply, error) {
	user, err := req.userMessage()
	if err != nil {
		return nil, err
	}
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.systemPrompt(), genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.temperature(c.temperature))),
	}
	if req.Schema != nil {
		genCfg.ResponseMIMEType = "application/json"
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	event := log.Debug().Str("provider", "google").Str("model", c.model)
	if resp.UsageMetadata != nil {
		event = event.Int32("tokens_in", resp.UsageMetadata.PromptTokenCount).Int32("tokens_out", resp.UsageMetadata.CandidatesTokenCount)
	}
	event.Msg("llm response received")
	return GenAIReply{Response: resp}, nil
}
