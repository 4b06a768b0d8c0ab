package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divrecon/internal/domain"
	"divrecon/internal/integrations/llm"
)

type stubClient struct {
	reply    llm.Reply
	err      error
	requests []llm.Request
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (llm.Reply, error) {
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func detail(isin string, reason domain.BreakReason, severity domain.Severity, escalate bool) domain.BreakDetail {
	payDate := time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)
	rec := &domain.CanonicalRecord{
		Source: domain.SourceNBIM, ISIN: isin, Account: "ACC", PayDate: payDate,
		Amount: decimal.RequireFromString("100"), Currency: "USD",
	}
	confidence := 0.5
	return domain.BreakDetail{
		Key:    rec.Key(),
		NBIM:   rec,
		Reason: reason,
		Annotation: domain.Annotation{
			Explanation:     "explanation",
			Severity:        severity,
			Actions:         []string{"Do the thing"},
			Confidence:      &confidence,
			NeedsEscalation: escalate,
			Source:          domain.AnnotationSourceRule,
		},
	}
}

func TestRulePlanRoutesAndOrders(t *testing.T) {
	breaks := []domain.BreakDetail{
		detail("US1", domain.ReasonCurrencyMismatch, domain.SeverityMedium, false),
		detail("US2", domain.ReasonMissingInCustodian, domain.SeverityHigh, false),
		detail("US3", "NEW_REASON", domain.SeverityLow, false),
	}
	tasks, err := NewPlanner(nil).Plan(context.Background(), breaks)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "TASK-001", tasks[0].ID)
	assert.Equal(t, "static_data_agent", tasks[0].Agent)
	assert.Equal(t, "MEDIUM", tasks[0].Priority)
	assert.Contains(t, tasks[0].Objective, "security master and FX configuration")
	assert.Contains(t, tasks[0].Objective, "US1")

	assert.Equal(t, "TASK-002", tasks[1].ID)
	assert.Equal(t, "HIGH", tasks[1].Priority)

	assert.Equal(t, TriageAgent, tasks[2].Agent)
	assert.Equal(t, "LOW", tasks[2].Priority)
	assert.Equal(t, "TASK-003", tasks[2].ID)

	d := tasks[1].Detail
	assert.Equal(t, "US2", d["isin"])
	assert.Equal(t, "ACC", d["account"])
	assert.Equal(t, "2024-03-29", d["pay_date"])
	assert.Equal(t, "MISSING_IN_CUSTODIAN", d["reason_code"])
	assert.Equal(t, "high", d["severity"])
	assert.Equal(t, false, d["needs_escalation"])
	assert.Equal(t, []string{"Do the thing"}, d["actions"])
	assert.Equal(t, 0.5, d["confidence"])
	assert.Equal(t, domain.AnnotationSourceRule, d["llm_source"])
}

func TestEscalationForcesCritical(t *testing.T) {
	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh} {
		tasks := RulePlan([]domain.BreakDetail{detail("US1", domain.ReasonStatusMismatch, sev, true)})
		require.Len(t, tasks, 1)
		assert.Equal(t, PriorityCritical, tasks[0].Priority, sev)
	}
}

func TestPlanEmptyInput(t *testing.T) {
	stub := &stubClient{}
	tasks, err := NewPlanner(stub).Plan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotNil(t, tasks)
	assert.Empty(t, stub.requests)
}

func TestLLMPlanDropsInvalidTasks(t *testing.T) {
	breaks := []domain.BreakDetail{
		detail("US1", domain.ReasonAmountDifference, domain.SeverityLow, true),
		detail("US2", domain.ReasonStatusMismatch, domain.SeverityLow, false),
	}
	stub := &stubClient{reply: llm.TextReply(`{"tasks": [
		{"agent": "", "priority": "high", "objective": "x", "detail": {}},
		{"agent": "rates", "priority": "low", "objective": "Fix rates", "detail": {"key": {"isin": "US1", "account": "ACC", "pay_date": "2024-03-29"}}},
		{"agent": "ops", "priority": "low", "objective": "Chase", "detail": "not a map"},
		{"agent": "ops", "priority": 3, "objective": "Chase", "detail": {}},
		{"agent": "settlement", "priority": "medium", "objective": "Chase status", "detail": {"isin": "US2", "account": "ACC", "pay_date": "2024-03-29"}}
	]}`)}

	tasks, err := NewPlanner(stub).Plan(context.Background(), breaks)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "TASK-001", tasks[0].ID)
	assert.Equal(t, "rates", tasks[0].Agent)
	assert.Equal(t, PriorityCritical, tasks[0].Priority)

	assert.Equal(t, "TASK-002", tasks[1].ID)
	assert.Equal(t, "MEDIUM", tasks[1].Priority)

	require.Len(t, stub.requests, 1)
	assert.Equal(t, "reconciliation_agent_plan", stub.requests[0].Schema.Name)
	payload, err := json.Marshal(stub.requests[0].Payload)
	require.NoError(t, err)
	var decoded struct {
		Breaks []map[string]any `json:"breaks"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded.Breaks, 2)
	assert.Equal(t, map[string]any{"isin": "US1", "account": "ACC", "pay_date": "2024-03-29"}, decoded.Breaks[0]["key"])
	assert.Equal(t, true, decoded.Breaks[0]["needs_escalation"])
	assert.Nil(t, decoded.Breaks[0]["custodian"])
}

func TestLLMPlanEscalatesTasksWithoutKey(t *testing.T) {
	breaks := []domain.BreakDetail{detail("US1", domain.ReasonAmountDifference, domain.SeverityLow, true)}
	stub := &stubClient{reply: llm.TextReply(`{"tasks": [
		{"agent": "rates", "priority": "low", "objective": "Fix", "detail": {"reason_code": "AMOUNT_DIFFERENCE"}}
	]}`)}
	tasks, err := NewPlanner(stub).Plan(context.Background(), breaks)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, PriorityCritical, tasks[0].Priority)

	// Task count differs from break count, so position says nothing.
	breaks = append(breaks, detail("US2", domain.ReasonStatusMismatch, domain.SeverityLow, false))
	stub = &stubClient{reply: llm.TextReply(`{"tasks": [
		{"agent": "rates", "priority": "low", "objective": "Fix", "detail": {"reason_code": "AMOUNT_DIFFERENCE"}},
		{"agent": "ops", "priority": "low", "objective": "Chase", "detail": {"needs_escalation": true}},
		{"agent": "ops", "priority": "low", "objective": "Review", "detail": {}}
	]}`)}
	tasks, err = NewPlanner(stub).Plan(context.Background(), breaks)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "LOW", tasks[0].Priority)
	assert.Equal(t, PriorityCritical, tasks[1].Priority)
	assert.Equal(t, "LOW", tasks[2].Priority)
}

func TestLLMPlanAllInvalidFails(t *testing.T) {
	breaks := []domain.BreakDetail{detail("US1", domain.ReasonAmountDifference, domain.SeverityLow, false)}
	for name, reply := range map[string]llm.Reply{
		"invalid task": llm.TextReply(`{"tasks": [{"agent": "a", "priority": "", "objective": "o", "detail": {}}]}`),
		"no tasks":     llm.TextReply(`{"tasks": []}`),
	} {
		_, err := NewPlanner(&stubClient{reply: reply}).Plan(context.Background(), breaks)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrEmptyPlan), name)
		var planErr *PlanError
		require.True(t, errors.As(err, &planErr), name)
		assert.Equal(t, 1, planErr.Breaks)
	}
}

func TestLLMPlanTransportFailureUsesRules(t *testing.T) {
	breaks := []domain.BreakDetail{detail("US1", domain.ReasonCurrencyMismatch, domain.SeverityMedium, false)}
	tasks, err := NewPlanner(&stubClient{err: errors.New("timeout")}).Plan(context.Background(), breaks)
	require.NoError(t, err)
	assert.Equal(t, RulePlan(breaks), tasks)

	tasks, err = NewPlanner(&stubClient{reply: llm.TextReply("no json here")}).Plan(context.Background(), breaks)
	require.NoError(t, err)
	assert.Equal(t, RulePlan(breaks), tasks)
}
