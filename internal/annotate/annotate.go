// Package annotate explains breaks, through a language model when one is
// configured and through a fixed rule table otherwise.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"divrecon/internal/domain"
	"divrecon/internal/integrations/llm"
)

// EscalationSuffix is appended to the explanation of any escalated break.
const EscalationSuffix = " Human sign-off is required before auto-resolution."

const defaultTimeout = 30 * time.Second

const systemPrompt = "You are a senior dividend-operations analyst. Classify the reconciliation break, " +
	"summarise the likely root cause in one or two sentences and propose concrete next operational steps. " +
	"Set needs_escalation when the break cannot be safely auto-resolved."

// Schema is the reply contract for one annotation.
var Schema = llm.Schema{
	Name: "reconciliation_break_annotation",
	Document: map[string]any{
		"type":     "object",
		"required": []string{"severity", "summary"},
		"properties": map[string]any{
			"severity":         map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"summary":          map[string]any{"type": "string"},
			"actions":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"confidence":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"needs_escalation": map[string]any{"type": "boolean"},
		},
		"additionalProperties": false,
	},
}

var (
	errInvalidSeverity = errors.New("severity must be low, medium or high")
	errEmptySummary    = errors.New("summary is empty")
)

type request struct {
	ReasonCode      domain.BreakReason     `json:"reason_code"`
	NBIMRecord      *domain.RecordSnapshot `json:"nbim_record"`
	CustodianRecord *domain.RecordSnapshot `json:"custodian_record"`
}

// reply keeps every field raw so type mismatches can be coerced instead of
// failing the whole decode.
type reply struct {
	Severity        json.RawMessage `json:"severity"`
	Summary         json.RawMessage `json:"summary"`
	Actions         json.RawMessage `json:"actions"`
	Confidence      json.RawMessage `json:"confidence"`
	NeedsEscalation json.RawMessage `json:"needs_escalation"`
}

// Annotator produces annotations. A nil client selects the rule table for
// every call.
type Annotator struct {
	client  llm.StructuredClient
	timeout time.Duration
}

type Option func(*Annotator)

// WithTimeout bounds each model round-trip.
func WithTimeout(d time.Duration) Option {
	return func(a *Annotator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func New(client llm.StructuredClient, opts ...Option) *Annotator {
	a := &Annotator{client: client, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether annotations go through the model.
func (a *Annotator) Enabled() bool {
	return a != nil && a.client != nil
}

// Annotate never fails: any problem with the model call yields the rule
// annotation for the reason.
func (a *Annotator) Annotate(ctx context.Context, reason domain.BreakReason, nbim, custodian *domain.CanonicalRecord) domain.Annotation {
	if !a.Enabled() {
		return Fallback(reason, nbim, custodian)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Complete(callCtx, llm.Request{
		Schema: &Schema,
		System: systemPrompt,
		Payload: request{
			ReasonCode:      reason,
			NBIMRecord:      domain.Snapshot(nbim),
			CustodianRecord: domain.Snapshot(custodian),
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("reason", string(reason)).Msg("annotate llm call failed, using rule fallback")
		return Fallback(reason, nbim, custodian)
	}
	raw, err := llm.DecodeReply(resp)
	if err != nil {
		log.Warn().Err(err).Str("reason", string(reason)).Msg("annotate llm reply unusable, using rule fallback")
		return Fallback(reason, nbim, custodian)
	}
	annotation, err := Parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("reason", string(reason)).Msg("annotate llm reply rejected, using rule fallback")
		return Fallback(reason, nbim, custodian)
	}
	return annotation
}

// Parse validates a model reply. Severity and summary are required; the
// other fields are coerced.
func Parse(raw json.RawMessage) (domain.Annotation, error) {
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Annotation{}, err
	}

	var severityText string
	if err := json.Unmarshal(r.Severity, &severityText); err != nil {
		return domain.Annotation{}, errInvalidSeverity
	}
	severity, ok := domain.ParseSeverity(severityText)
	if !ok {
		return domain.Annotation{}, errInvalidSeverity
	}

	var summary string
	if err := json.Unmarshal(r.Summary, &summary); err != nil || strings.TrimSpace(summary) == "" {
		return domain.Annotation{}, errEmptySummary
	}

	escalate := false
	if len(r.NeedsEscalation) > 0 && string(r.NeedsEscalation) != "null" {
		if err := json.Unmarshal(r.NeedsEscalation, &escalate); err != nil {
			log.Debug().RawJSON("needs_escalation", r.NeedsEscalation).Msg("annotate ignored non-boolean needs_escalation")
			escalate = false
		}
	}

	return domain.Annotation{
		Explanation:     compose(strings.TrimSpace(summary), escalate),
		Severity:        severity,
		Actions:         coerceActions(r.Actions),
		Confidence:      coerceConfidence(r.Confidence),
		NeedsEscalation: escalate,
		Source:          domain.AnnotationSourceLLM,
		Raw:             raw,
	}, nil
}

func coerceActions(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	actions := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			actions = append(actions, s)
		}
	}
	return actions
}

// coerceConfidence accepts only a JSON number in [0, 1].
func coerceConfidence(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var c float64
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	if c < 0 || c > 1 {
		return nil
	}
	return &c
}

func compose(summary string, escalate bool) string {
	if escalate {
		return summary + EscalationSuffix
	}
	return summary
}

// Fallback returns the rule-table annotation for reason.
func Fallback(reason domain.BreakReason, nbim, custodian *domain.CanonicalRecord) domain.Annotation {
	r := ruleFor(reason)
	if nbim == nil && custodian == nil {
		r.explain = generic
	}
	summary := r.explain(nbim, custodian)
	confidence := r.confidence
	actions := append([]string(nil), r.actions...)

	raw, _ := json.Marshal(struct {
		Severity        domain.Severity `json:"severity"`
		Summary         string          `json:"summary"`
		Actions         []string        `json:"actions"`
		Confidence      float64         `json:"confidence"`
		NeedsEscalation bool            `json:"needs_escalation"`
	}{r.severity, summary, actions, confidence, r.escalate})

	return domain.Annotation{
		Explanation:     compose(summary, r.escalate),
		Severity:        r.severity,
		Actions:         actions,
		Confidence:      &confidence,
		NeedsEscalation: r.escalate,
		Source:          domain.AnnotationSourceRule,
		Raw:             raw,
	}
}
