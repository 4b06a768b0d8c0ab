// Package agents turns annotated breaks into tasks for specialist agents.
package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"divrecon/internal/domain"
	"divrecon/internal/integrations/llm"
)

const PriorityCritical = "CRITICAL"

const defaultTimeout = 60 * time.Second

const systemPrompt = "You are the control tower of a dividend reconciliation team. For every break, " +
	"assign one specialist agent, a priority (LOW, MEDIUM, HIGH or CRITICAL) and a concrete objective. " +
	"Copy the break key into the task detail."

// Schema is the reply contract for a plan.
var Schema = llm.Schema{
	Name: "reconciliation_agent_plan",
	Document: map[string]any{
		"type":     "object",
		"required": []string{"tasks"},
		"properties": map[string]any{
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"agent", "priority", "objective", "detail"},
					"properties": map[string]any{
						"agent":     map[string]any{"type": "string"},
						"priority":  map[string]any{"type": "string"},
						"objective": map[string]any{"type": "string"},
						"detail":    map[string]any{"type": "object"},
					},
				},
			},
		},
	},
}

type breakKey struct {
	ISIN    string `json:"isin"`
	Account string `json:"account"`
	PayDate string `json:"pay_date"`
}

type planBreak struct {
	Key             breakKey               `json:"key"`
	NBIM            *domain.RecordSnapshot `json:"nbim"`
	Custodian       *domain.RecordSnapshot `json:"custodian"`
	ReasonCode      domain.BreakReason     `json:"reason_code"`
	Severity        domain.Severity        `json:"severity"`
	NeedsEscalation bool                   `json:"needs_escalation"`
	Explanation     string                 `json:"explanation"`
	Actions         []string               `json:"actions"`
}

type planRequest struct {
	Breaks []planBreak `json:"breaks"`
}

type planReply struct {
	Tasks []json.RawMessage `json:"tasks"`
}

type taskReply struct {
	Agent     json.RawMessage `json:"agent"`
	Priority  json.RawMessage `json:"priority"`
	Objective json.RawMessage `json:"objective"`
	Detail    json.RawMessage `json:"detail"`
}

// Planner builds agent plans. A nil client selects the rule table.
type Planner struct {
	client  llm.StructuredClient
	timeout time.Duration
}

type Option func(*Planner)

func WithTimeout(d time.Duration) Option {
	return func(p *Planner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPlanner(client llm.StructuredClient, opts ...Option) *Planner {
	p := &Planner{client: client, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns one task per break. With a model client, tasks that fail
// validation are dropped; a non-empty break list that yields no valid task
// is a *PlanError.
func (p *Planner) Plan(ctx context.Context, breaks []domain.BreakDetail) ([]domain.AgentTask, error) {
	if len(breaks) == 0 {
		return []domain.AgentTask{}, nil
	}
	if p == nil || p.client == nil {
		return RulePlan(breaks), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Complete(callCtx, llm.Request{
		Schema:  &Schema,
		System:  systemPrompt,
		Payload: newPlanRequest(breaks),
	})
	if err != nil {
		log.Warn().Err(err).Int("breaks", len(breaks)).Msg("agents llm plan failed, using rule plan")
		return RulePlan(breaks), nil
	}
	raw, err := llm.DecodeReply(resp)
	if err != nil {
		log.Warn().Err(err).Msg("agents llm plan unusable, using rule plan")
		return RulePlan(breaks), nil
	}
	var reply planReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		log.Warn().Err(err).Msg("agents llm plan unparseable, using rule plan")
		return RulePlan(breaks), nil
	}

	escalated := escalatedKeys(breaks)
	positional := len(reply.Tasks) == len(breaks)
	tasks := make([]domain.AgentTask, 0, len(reply.Tasks))
	for i, rawTask := range reply.Tasks {
		task, ok := validateTask(rawTask)
		if !ok {
			log.Debug().RawJSON("task", rawTask).Msg("agents dropped invalid task")
			continue
		}
		var forBreak *domain.BreakDetail
		if positional {
			forBreak = &breaks[i]
		}
		if needsCritical(task.Detail, escalated, forBreak) {
			task.Priority = PriorityCritical
		}
		task.ID = domain.TaskID(len(tasks) + 1)
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, &PlanError{Breaks: len(breaks), Returned: len(reply.Tasks)}
	}
	log.Info().
		Int("breaks", len(breaks)).
		Int("returned", len(reply.Tasks)).
		Int("tasks", len(tasks)).
		Msg("agents llm plan accepted")
	return tasks, nil
}

// RulePlan maps each break to its specialist role.
func RulePlan(breaks []domain.BreakDetail) []domain.AgentTask {
	tasks := make([]domain.AgentTask, 0, len(breaks))
	for i, b := range breaks {
		agent, objective := roleFor(b)
		tasks = append(tasks, domain.AgentTask{
			ID:        domain.TaskID(i + 1),
			Agent:     agent,
			Priority:  Priority(b.Annotation),
			Objective: objective,
			Detail:    ruleDetail(b),
		})
	}
	return tasks
}

// Priority is the upper-cased severity, or CRITICAL for escalated breaks.
func Priority(a domain.Annotation) string {
	if a.NeedsEscalation {
		return PriorityCritical
	}
	return cases.Upper(language.Und).String(string(a.Severity))
}

func ruleDetail(b domain.BreakDetail) map[string]any {
	actions := b.Annotation.Actions
	if actions == nil {
		actions = []string{}
	}
	var confidence any
	if b.Annotation.Confidence != nil {
		confidence = *b.Annotation.Confidence
	}
	return map[string]any{
		"isin":             b.Key.ISIN,
		"account":          b.Key.Account,
		"pay_date":         b.Key.PayDate.Format(domain.DateLayout),
		"reason_code":      string(b.Reason),
		"severity":         string(b.Annotation.Severity),
		"needs_escalation": b.Annotation.NeedsEscalation,
		"actions":          actions,
		"confidence":       confidence,
		"llm_source":       b.Annotation.Source,
	}
}

func newPlanRequest(breaks []domain.BreakDetail) planRequest {
	req := planRequest{Breaks: make([]planBreak, 0, len(breaks))}
	for _, b := range breaks {
		actions := b.Annotation.Actions
		if actions == nil {
			actions = []string{}
		}
		req.Breaks = append(req.Breaks, planBreak{
			Key:             keyOf(b.Key),
			NBIM:            domain.Snapshot(b.NBIM),
			Custodian:       domain.Snapshot(b.Custodian),
			ReasonCode:      b.Reason,
			Severity:        b.Annotation.Severity,
			NeedsEscalation: b.Annotation.NeedsEscalation,
			Explanation:     b.Annotation.Explanation,
			Actions:         actions,
		})
	}
	return req
}

func keyOf(k domain.MatchKey) breakKey {
	return breakKey{ISIN: k.ISIN, Account: k.Account, PayDate: k.PayDate.Format(domain.DateLayout)}
}

func escalatedKeys(breaks []domain.BreakDetail) map[breakKey]bool {
	out := make(map[breakKey]bool)
	for _, b := range breaks {
		if b.Annotation.NeedsEscalation {
			out[keyOf(b.Key)] = true
		}
	}
	return out
}

func validateTask(raw json.RawMessage) (domain.AgentTask, bool) {
	var t taskReply
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.AgentTask{}, false
	}
	agent, ok1 := nonEmptyString(t.Agent)
	priority, ok2 := nonEmptyString(t.Priority)
	objective, ok3 := nonEmptyString(t.Objective)
	if !ok1 || !ok2 || !ok3 {
		return domain.AgentTask{}, false
	}
	var detail map[string]any
	if err := json.Unmarshal(t.Detail, &detail); err != nil || detail == nil {
		return domain.AgentTask{}, false
	}
	return domain.AgentTask{
		Agent:     agent,
		Priority:  cases.Upper(language.Und).String(priority),
		Objective: objective,
		Detail:    detail,
	}, true
}

func nonEmptyString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// needsCritical reports whether a model task must be raised to CRITICAL. A
// task naming a break key follows that break; a task without one follows the
// break at its position, given only when the model returned one task per
// break. An explicit needs_escalation flag in the detail always wins.
func needsCritical(detail map[string]any, escalated map[breakKey]bool, positional *domain.BreakDetail) bool {
	if flag, _ := detail["needs_escalation"].(bool); flag {
		return true
	}
	if key, found := detailKey(detail); found {
		return escalated[key]
	}
	return positional != nil && positional.Annotation.NeedsEscalation
}

// detailKey finds the break a task refers to, either under detail.key or at
// the top level of the detail.
func detailKey(detail map[string]any) (breakKey, bool) {
	source := detail
	if nested, ok := detail["key"].(map[string]any); ok {
		source = nested
	}
	isin, _ := source["isin"].(string)
	account, _ := source["account"].(string)
	payDate, _ := source["pay_date"].(string)
	if isin == "" || account == "" || payDate == "" {
		return breakKey{}, false
	}
	return breakKey{ISIN: isin, Account: account, PayDate: payDate}, true
}
