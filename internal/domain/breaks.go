package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type BreakReason string

const (
	ReasonMissingInCustodian BreakReason = "MISSING_IN_CUSTODIAN"
	ReasonMissingInNBIM      BreakReason = "MISSING_IN_NBIM"
	ReasonCurrencyMismatch   BreakReason = "CURRENCY_MISMATCH"
	ReasonAmountDifference   BreakReason = "AMOUNT_DIFFERENCE"
	ReasonStatusMismatch     BreakReason = "STATUS_MISMATCH"
)

// Reasons lists every reason in classification precedence order.
var Reasons = []BreakReason{
	ReasonMissingInCustodian,
	ReasonMissingInNBIM,
	ReasonCurrencyMismatch,
	ReasonAmountDifference,
	ReasonStatusMismatch,
}

func (r BreakReason) Known() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity accepts only the three severities an annotation may carry.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	}
	return "", false
}

const (
	AnnotationSourceLLM  = "llm"
	AnnotationSourceRule = "rule"
)

// Annotation is the explanation bundle attached to a break. Both the model
// path and the rule path produce exactly this shape.
type Annotation struct {
	Explanation     string
	Severity        Severity
	Actions         []string
	Confidence      *float64
	NeedsEscalation bool
	Source          string
	Raw             json.RawMessage
}

type BreakDetail struct {
	Key        MatchKey
	NBIM       *CanonicalRecord
	Custodian  *CanonicalRecord
	Reason     BreakReason
	Annotation Annotation
}

// Row is the flat view used by the CSV and markdown renderers.
func (b BreakDetail) Row() map[string]string {
	row := map[string]string{
		"isin":             b.Key.ISIN,
		"account":          b.Key.Account,
		"pay_date":         b.Key.PayDate.Format(DateLayout),
		"nbim_amount":      "",
		"custodian_amount": "",
		"reason_code":      string(b.Reason),
		"severity":         string(b.Annotation.Severity),
		"explanation":      b.Annotation.Explanation,
		"actions":          strings.Join(b.Annotation.Actions, "; "),
		"confidence":       FormatConfidence(b.Annotation.Confidence),
		"needs_escalation": "No",
		"llm_source":       b.Annotation.Source,
	}
	if b.NBIM != nil {
		row["nbim_amount"] = b.NBIM.Amount.StringFixed(2)
	}
	if b.Custodian != nil {
		row["custodian_amount"] = b.Custodian.Amount.StringFixed(2)
	}
	if b.Annotation.NeedsEscalation {
		row["needs_escalation"] = "Yes"
	}
	return row
}

// RowColumns is the column order of Row.
var RowColumns = []string{
	"isin",
	"account",
	"pay_date",
	"nbim_amount",
	"custodian_amount",
	"reason_code",
	"severity",
	"explanation",
	"actions",
	"confidence",
	"needs_escalation",
	"llm_source",
}

// FormatConfidence renders 0.5 as "50%" and an absent value as "".
func FormatConfidence(c *float64) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%d%%", int(math.Round(*c*100)))
}

type breakJSON struct {
	ISIN            string          `json:"isin"`
	Account         string          `json:"account"`
	PayDate         string          `json:"pay_date"`
	NBIM            *RecordSnapshot `json:"nbim"`
	Custodian       *RecordSnapshot `json:"custodian"`
	ReasonCode      BreakReason     `json:"reason_code"`
	Severity        Severity        `json:"severity"`
	Explanation     string          `json:"explanation"`
	Actions         []string        `json:"actions"`
	Confidence      *float64        `json:"confidence"`
	NeedsEscalation bool            `json:"needs_escalation"`
	LLMSource       string          `json:"llm_source"`
	LLMPayload      json.RawMessage `json:"llm_payload"`
}

func (b BreakDetail) MarshalJSON() ([]byte, error) {
	actions := b.Annotation.Actions
	if actions == nil {
		actions = []string{}
	}
	payload := b.Annotation.Raw
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(breakJSON{
		ISIN:            b.Key.ISIN,
		Account:         b.Key.Account,
		PayDate:         b.Key.PayDate.Format(DateLayout),
		NBIM:            Snapshot(b.NBIM),
		Custodian:       Snapshot(b.Custodian),
		ReasonCode:      b.Reason,
		Severity:        b.Annotation.Severity,
		Explanation:     b.Annotation.Explanation,
		Actions:         actions,
		Confidence:      b.Annotation.Confidence,
		NeedsEscalation: b.Annotation.NeedsEscalation,
		LLMSource:       b.Annotation.Source,
		LLMPayload:      payload,
	})
}

type AgentTask struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Priority  string         `json:"priority"`
	Objective string         `json:"objective"`
	Detail    map[string]any `json:"detail"`
}

func TaskID(n int) string {
	return fmt.Sprintf("TASK-%03d", n)
}
