// Package llm sends structured requests to a language model provider and
// normalises the provider reply into a JSON payload.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StructuredClient submits one request and returns the provider reply.
// Implementations do not retry.
type StructuredClient interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// Schema names the JSON document the reply must conform to.
type Schema struct {
	Name     string
	Document map[string]any
}

// Request is one round-trip. A nil Schema asks for free text.
type Request struct {
	Schema      *Schema
	System      string
	Payload     any
	Temperature *float64
}

func (r Request) userMessage() (string, error) {
	data, err := json.MarshalIndent(r.Payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return string(data), nil
}

// systemPrompt appends the schema contract for providers without native
// schema enforcement.
func (r Request) systemPrompt() string {
	if r.Schema == nil {
		return r.System
	}
	doc, err := json.Marshal(r.Schema.Document)
	if err != nil {
		return r.System
	}
	var sb strings.Builder
	sb.WriteString(r.System)
	sb.WriteString("\n\nRespond with a single JSON object only, no prose or code fences. ")
	sb.WriteString("It must conform to the JSON schema \"")
	sb.WriteString(r.Schema.Name)
	sb.WriteString("\":\n")
	sb.Write(doc)
	return sb.String()
}

func (r Request) temperature(fallback float64) float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return fallback
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 {
	return &v
}
