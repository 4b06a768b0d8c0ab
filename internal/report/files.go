// Package report renders run artifacts: CSV, JSON, markdown, agent plan and
// an email draft.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"divrecon/internal/domain"
)

// Artifact file names inside the output directory.
const (
	BreaksCSVFile  = "recon_breaks.csv"
	BreaksJSONFile = "recon_breaks.json"
	MarkdownFile   = "recon_report.md"
	PlanFile       = "agent_plan.json"
	BriefFile      = "llm_brief.md"
	EmailFile      = "recon_report.eml"
)

// WriteFile creates parent directories and writes content.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(path, string(data)+"\n")
}

// WriteJSON writes the nested view of every break.
func WriteJSON(path string, breaks []domain.BreakDetail) error {
	if breaks == nil {
		breaks = []domain.BreakDetail{}
	}
	return writeJSON(path, breaks)
}

// WritePlan writes the agent tasks as a JSON array.
func WritePlan(path string, tasks []domain.AgentTask) error {
	if tasks == nil {
		tasks = []domain.AgentTask{}
	}
	return writeJSON(path, tasks)
}
