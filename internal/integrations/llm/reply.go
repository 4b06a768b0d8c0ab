package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

// ErrNoPayload means the reply carried nothing usable.
var ErrNoPayload = errors.New("llm reply carries no usable payload")

// Reply is one of the known provider reply shapes.
type Reply interface {
	isReply()
}

// TextReply is a bare completion string.
type TextReply string

// ObjectReply is an already decoded JSON object.
type ObjectReply map[string]any

type AnthropicReply struct {
	Message *anthropic.Message
}

type OpenAIReply struct {
	Choices []OpenAIChoice
}

type OpenAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type GenAIReply struct {
	Response *genai.GenerateContentResponse
}

func (TextReply) isReply()      {}
func (ObjectReply) isReply()    {}
func (AnthropicReply) isReply() {}
func (OpenAIReply) isReply()    {}
func (GenAIReply) isReply()     {}

// replyTexts lists text candidates in provider order. Unknown shapes yield
// nothing.
func replyTexts(reply Reply) []string {
	var out []string
	switch r := reply.(type) {
	case TextReply:
		out = append(out, string(r))
	case AnthropicReply:
		if r.Message == nil {
			return nil
		}
		for _, block := range r.Message.Content {
			if block.Type == "text" {
				out = append(out, block.Text)
			}
		}
	case OpenAIReply:
		for _, choice := range r.Choices {
			out = append(out, choice.Message.Content)
		}
	case GenAIReply:
		if r.Response == nil {
			return nil
		}
		for _, cand := range r.Response.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part != nil && part.Text != "" {
					out = append(out, part.Text)
				}
			}
		}
	}
	return out
}

// DecodeReply returns the first JSON object found in the reply. Anything
// else, including a nil or unknown reply, yields ErrNoPayload.
func DecodeReply(reply Reply) (json.RawMessage, error) {
	if obj, ok := reply.(ObjectReply); ok {
		if obj == nil {
			return nil, ErrNoPayload
		}
		data, err := json.Marshal(map[string]any(obj))
		if err != nil {
			return nil, ErrNoPayload
		}
		return data, nil
	}
	for _, text := range replyTexts(reply) {
		candidate := stripCodeFence(text)
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoPayload
}

// ReplyText returns the first non-empty text in the reply.
func ReplyText(reply Reply) (string, error) {
	for _, text := range replyTexts(reply) {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", ErrNoPayload
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
