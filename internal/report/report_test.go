package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"divrecon/internal/domain"
)

var runDate = time.Date(2024, 4, 2, 8, 30, 0, 0, time.UTC)

func sampleBreaks() []domain.BreakDetail {
	payDate := time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)
	nbim := &domain.CanonicalRecord{Source: domain.SourceNBIM, TradeID: "T1", ISIN: "US1", Account: "ACC", PayDate: payDate, Amount: decimal.RequireFromString("100"), Currency: "USD"}
	cust := &domain.CanonicalRecord{Source: domain.SourceCustodian, TradeID: "T1", ISIN: "US1", Account: "ACC", PayDate: payDate, Amount: decimal.RequireFromString("101.5"), Currency: "USD"}
	conf := 0.5
	return []domain.BreakDetail{
		{
			Key: nbim.Key(), NBIM: nbim, Custodian: cust, Reason: domain.ReasonAmountDifference,
			Annotation: domain.Annotation{
				Explanation: "Rates | tax differ.", Severity: domain.SeverityMedium,
				Actions: []string{"Check rates", "Check tax"}, Confidence: &conf,
				Source: domain.AnnotationSourceLLM, Raw: json.RawMessage(`{"summary":"Rates | tax differ."}`),
			},
		},
		{
			Key: domain.MatchKey{ISIN: "US2", Account: "ACC", PayDate: payDate}, NBIM: nbim, Reason: domain.ReasonMissingInCustodian,
			Annotation: domain.Annotation{
				Explanation: "Missing.", Severity: domain.SeverityHigh, NeedsEscalation: true,
				Source: domain.AnnotationSourceRule,
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", BreaksCSVFile)
	if err := WriteCSV(path, sampleBreaks()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(domain.RowColumns, ",") {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	first := rows[1]
	if first[3] != "100.00" || first[4] != "101.50" {
		t.Fatalf("amounts not rendered with two decimals: %v", first)
	}
	if first[8] != "Check rates; Check tax" || first[9] != "50%" || first[10] != "No" || first[11] != "llm" {
		t.Fatalf("unexpected row: %v", first)
	}
	second := rows[2]
	if second[4] != "" || second[10] != "Yes" || second[9] != "" {
		t.Fatalf("unexpected missing-side row: %v", second)
	}
}

func TestWriteJSONNestedView(t *testing.T) {
	path := filepath.Join(t.TempDir(), BreaksJSONFile)
	if err := WriteJSON(path, sampleBreaks()); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 breaks, got %d", len(got))
	}
	if got[0]["llm_payload"].(map[string]any)["summary"] != "Rates | tax differ." {
		t.Fatalf("raw payload not passed through: %v", got[0]["llm_payload"])
	}
	if got[1]["custodian"] != nil || got[1]["llm_payload"] != nil {
		t.Fatalf("absent side and payload must be null: %v", got[1])
	}
	if actions, ok := got[1]["actions"].([]any); !ok || len(actions) != 0 {
		t.Fatalf("actions must be an empty array, got %v", got[1]["actions"])
	}
	nbim := got[0]["nbim"].(map[string]any)
	if nbim["amount"] != float64(100) || nbim["pay_date"] != "2024-03-29" {
		t.Fatalf("unexpected record snapshot: %v", nbim)
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), BreaksJSONFile)
	if err := WriteJSON(path, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty array, got %q", data)
	}
}

func TestWritePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), PlanFile)
	tasks := []domain.AgentTask{{ID: domain.TaskID(1), Agent: "booking_agent", Priority: "HIGH", Objective: "Book it", Detail: map[string]any{"isin": "US1"}}}
	if err := WritePlan(path, tasks); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	var got []domain.AgentTask
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid plan json: %v", err)
	}
	if len(got) != 1 || got[0].ID != "TASK-001" || got[0].Detail["isin"] != "US1" {
		t.Fatalf("unexpected plan: %+v", got)
	}
}

func TestMarkdownSummary(t *testing.T) {
	md := Markdown(sampleBreaks(), Totals{NBIM: 3, Custodian: 2}, runDate)

	for _, want := range []string{
		"# Dividend Reconciliation Report",
		"Generated: 2024-04-02T08:30:00Z",
		"- NBIM records processed: **3**",
		"- Custodian records processed: **2**",
		"- Breaks detected: **2**",
		"- Auto-resolution candidates: **1**",
		"- Requires human escalation: **1**",
		"- AMOUNT_DIFFERENCE: 1\n- MISSING_IN_CUSTODIAN: 1",
		"- High: 1\n- Medium: 1",
		`| US1 | ACC | 2024-03-29 | AMOUNT_DIFFERENCE | Medium | Rates \| tax differ. | Check rates; Check tax | No | 50% |`,
		"| US2 | ACC | 2024-03-29 | MISSING_IN_CUSTODIAN | High | Missing. |  | Yes |  |",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestMarkdownNoBreaks(t *testing.T) {
	md := Markdown(nil, Totals{NBIM: 1, Custodian: 1}, runDate)
	if !strings.Contains(md, "No breaks detected. All deterministic checks passed.") {
		t.Fatalf("unexpected markdown:\n%s", md)
	}
	if strings.Contains(md, "Auto-resolution") {
		t.Fatalf("escalation counts should be omitted without breaks:\n%s", md)
	}
}

func TestEmailDraft(t *testing.T) {
	path := filepath.Join(t.TempDir(), EmailFile)
	md := Markdown(sampleBreaks(), Totals{NBIM: 3, Custodian: 2}, runDate)
	if err := WriteEmailDraft(path, md, runDate); err != nil {
		t.Fatalf("WriteEmailDraft failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	eml := string(data)
	for _, want := range []string{
		"Subject: Dividend reconciliation 2024-04-02",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"- NBIM records processed: 3\r\n",
		"<strong>3</strong>",
		"<td style=\"border: 1px solid #ccc; padding: 4px;\">Rates | tax differ.</td>",
		"<th style=\"border: 1px solid #ccc; padding: 4px;\">ISIN</th>",
		"--divrecon-alt--\r\n",
	} {
		if !strings.Contains(eml, want) {
			t.Fatalf("eml missing %q", want)
		}
	}
	if strings.Contains(eml, "| --- |") {
		t.Fatal("table separator row should not be rendered")
	}
}

func TestSplitTableRow(t *testing.T) {
	got := splitTableRow(`| a | b \| c | d |`)
	if len(got) != 3 || got[1] != "b | c" {
		t.Fatalf("unexpected cells: %q", got)
	}
}
