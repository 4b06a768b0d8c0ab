package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"divrecon/internal/domain"
)

// Totals are the per-source record counts of a run.
type Totals struct {
	NBIM      int
	Custodian int
}

// Markdown renders the human-readable run summary.
func Markdown(breaks []domain.BreakDetail, totals Totals, generated time.Time) string {
	title := cases.Title(language.English)

	lines := []string{"# Dividend Reconciliation Report", ""}
	lines = append(lines, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)), "")
	lines = append(lines, "## Overview", "")
	lines = append(lines, fmt.Sprintf("- NBIM records processed: **%d**", totals.NBIM))
	lines = append(lines, fmt.Sprintf("- Custodian records processed: **%d**", totals.Custodian))
	lines = append(lines, fmt.Sprintf("- Breaks detected: **%d**", len(breaks)))
	if len(breaks) > 0 {
		escalations := 0
		for _, b := range breaks {
			if b.Annotation.NeedsEscalation {
				escalations++
			}
		}
		lines = append(lines, fmt.Sprintf("- Auto-resolution candidates: **%d**", len(breaks)-escalations))
		lines = append(lines, fmt.Sprintf("- Requires human escalation: **%d**", escalations))
	}
	lines = append(lines, "")

	if len(breaks) == 0 {
		lines = append(lines, "No breaks detected. All deterministic checks passed.")
		return strings.Join(lines, "\n")
	}

	reasons := make(map[string]int)
	severities := make(map[string]int)
	for _, b := range breaks {
		reasons[string(b.Reason)]++
		severities[string(b.Annotation.Severity)]++
	}

	lines = append(lines, "## Breaks by reason code", "")
	for _, reason := range sortedKeys(reasons) {
		lines = append(lines, fmt.Sprintf("- %s: %d", reason, reasons[reason]))
	}
	lines = append(lines, "", "## Severity distribution", "")
	for _, sev := range sortedKeys(severities) {
		lines = append(lines, fmt.Sprintf("- %s: %d", title.String(sev), severities[sev]))
	}

	lines = append(lines, "", "## Detailed explanations", "")
	lines = append(lines, "| ISIN | Account | Pay date | Reason | Severity | Explanation | Actions | Escalation | Confidence |")
	lines = append(lines, "| --- | --- | --- | --- | --- | --- | --- | --- | --- |")
	for _, b := range breaks {
		row := b.Row()
		lines = append(lines, "| "+strings.Join([]string{
			escapeCell(row["isin"]),
			escapeCell(row["account"]),
			row["pay_date"],
			row["reason_code"],
			title.String(row["severity"]),
			escapeCell(row["explanation"]),
			escapeCell(row["actions"]),
			row["needs_escalation"],
			row["confidence"],
		}, " | ")+" |")
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
