package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"divrecon/internal/config"
)

var testSchema = &Schema{
	Name: "test_schema",
	Document: map[string]any{
		"type":     "object",
		"required": []string{"summary"},
	},
}

func TestDecodeReplyShapes(t *testing.T) {
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(`{"content":[{"type":"text","text":"{\"foo\": 1}"}]}`), &msg))

	replies := map[string]Reply{
		"text":      TextReply(`{"foo": 1}`),
		"fenced":    TextReply("```json\n{\"foo\": 1}\n```"),
		"object":    ObjectReply{"foo": 1},
		"anthropic": AnthropicReply{Message: &msg},
		"openai":    OpenAIReply{Choices: []OpenAIChoice{choice(`{"foo": 1}`)}},
		"genai": GenAIReply{Response: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: `{"foo": 1}`}}}}},
		}},
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			raw, err := DecodeReply(reply)
			require.NoError(t, err)
			assert.JSONEq(t, `{"foo": 1}`, string(raw))
		})
	}
}

func TestDecodeReplySkipsNonJSONBlocks(t *testing.T) {
	reply := OpenAIReply{Choices: []OpenAIChoice{choice("not-json"), choice(`["a"]`), choice(`{"foo": "bar"}`)}}
	raw, err := DecodeReply(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo": "bar"}`, string(raw))
}

func TestDecodeReplyFailsClosed(t *testing.T) {
	for name, reply := range map[string]Reply{
		"nil":          nil,
		"nil object":   ObjectReply(nil),
		"empty text":   TextReply(""),
		"prose":        TextReply("I cannot help with that"),
		"nil message":  AnthropicReply{},
		"nil response": GenAIReply{},
		"no choices":   OpenAIReply{},
	} {
		_, err := DecodeReply(reply)
		assert.True(t, errors.Is(err, ErrNoPayload), name)
	}
}

func TestReplyText(t *testing.T) {
	text, err := ReplyText(OpenAIReply{Choices: []OpenAIChoice{choice("  "), choice(" # Brief \n")}})
	require.NoError(t, err)
	assert.Equal(t, "# Brief", text)

	_, err = ReplyText(TextReply(" "))
	assert.ErrorIs(t, err, ErrNoPayload)
}

func choice(content string) OpenAIChoice {
	var c OpenAIChoice
	c.Message.Content = content
	return c
}

func TestOpenAIClientSendsSchemaAndParsesReply(t *testing.T) {
	var captured openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"summary\":\"ok\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	client := newOpenAIClient(Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL + "/", LLMTemperature: 0.1})
	reply, err := client.Complete(context.Background(), Request{
		Schema:  testSchema,
		System:  "system prompt",
		Payload: map[string]string{"reason_code": "AMOUNT_DIFFERENCE"},
	})
	require.NoError(t, err)

	raw, err := DecodeReply(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(raw))

	assert.Equal(t, defaultOpenAIModel, captured.Model)
	assert.InDelta(t, 0.1, captured.Temperature, 1e-9)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "AMOUNT_DIFFERENCE")
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_schema", captured.ResponseFormat.Type)
	assert.Equal(t, "test_schema", captured.ResponseFormat.JSONSchema.Name)
}

func TestOpenAIClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	client := newOpenAIClient(Config{OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL})
	_, err := client.Complete(context.Background(), Request{Payload: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestAnthropicClientReturnsTextBlocks(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"{\"severity\":\"low\",\"summary\":\"fine\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":7}
		}`))
	}))
	defer srv.Close()

	client := newAnthropicClient(Config{AnthropicAPIKey: "key", LLMModel: "claude-test"}, option.WithBaseURL(srv.URL))
	reply, err := client.Complete(context.Background(), Request{
		Schema:      testSchema,
		System:      "be brief",
		Payload:     map[string]string{"k": "v"},
		Temperature: Float(0.2),
	})
	require.NoError(t, err)

	raw, err := DecodeReply(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"severity":"low","summary":"fine"}`, string(raw))

	assert.Equal(t, "claude-test", captured["model"])
	assert.InDelta(t, 0.2, captured["temperature"], 1e-9)
}

type countingClient struct{ calls int }

func (c *countingClient) Complete(context.Context, Request) (Reply, error) {
	c.calls++
	return TextReply("{}"), nil
}

func TestRateLimitedPassesThrough(t *testing.T) {
	inner := &countingClient{}
	assert.Same(t, inner, RateLimited(inner, 0))

	limited := RateLimited(inner, 1000)
	for i := 0; i < 3; i++ {
		_, err := limited.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestRateLimitedHonoursCancelledContext(t *testing.T) {
	inner := &countingClient{}
	limited := RateLimited(inner, 0.001)
	_, err := limited.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.Complete(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestNewClientDisabledWithoutCredential(t *testing.T) {
	client, err := NewClient(context.Background(), Config{LLMProvider: config.ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = NewClient(context.Background(), Config{LLMProvider: config.ProviderOpenAI})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewClientSelectsProvider(t *testing.T) {
	client, err := NewClient(context.Background(), Config{LLMProvider: config.ProviderOpenAI, OpenAIAPIKey: "sk"})
	require.NoError(t, err)
	assert.IsType(t, &openAIClient{}, client)

	client, err = NewClient(context.Background(), Config{LLMProvider: config.ProviderAnthropic, AnthropicAPIKey: "k", LLMRequestsPerSecond: 2})
	require.NoError(t, err)
	assert.IsType(t, &rateLimitedClient{}, client)
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, defaultAnthropicModel, ModelFor(Config{LLMProvider: config.ProviderAnthropic}))
	assert.Equal(t, defaultGoogleModel, ModelFor(Config{LLMProvider: config.ProviderGoogle}))
	assert.Equal(t, "custom", ModelFor(Config{LLMProvider: config.ProviderOpenAI, LLMModel: "custom"}))
}
