// Package pipeline runs one reconciliation end to end: load, match,
// classify, annotate, plan, render and deliver.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"divrecon/internal/agents"
	"divrecon/internal/annotate"
	"divrecon/internal/brief"
	"divrecon/internal/checks"
	"divrecon/internal/config"
	"divrecon/internal/domain"
	"divrecon/internal/ingest"
	"divrecon/internal/integrations/llm"
	slackbot "divrecon/internal/integrations/slack"
	"divrecon/internal/matching"
	"divrecon/internal/report"
	"divrecon/internal/storage/sqlite"
)

// Publisher announces a finished run.
type Publisher interface {
	Publish(ctx context.Context, summary slackbot.RunSummary, reportPath string) error
}

// Deps are the collaborators a run needs. Nil clients select the rule paths;
// a nil Publisher skips delivery.
type Deps struct {
	Annotator llm.StructuredClient
	Planner   llm.StructuredClient
	Publisher Publisher
	Now       func() time.Time
}

// Result is everything one run produced.
type Result struct {
	RunID      string
	StartedAt  time.Time
	Totals     report.Totals
	Duplicates map[string]int
	Breaks     []domain.BreakDetail
	Tasks      []domain.AgentTask
	Brief      string
	Artifacts  []string
}

// Escalations counts breaks that need human sign-off.
func (r Result) Escalations() int {
	n := 0
	for _, b := range r.Breaks {
		if b.Annotation.NeedsEscalation {
			n++
		}
	}
	return n
}

// ByReason counts breaks per reason code.
func (r Result) ByReason() map[string]int {
	counts := make(map[string]int)
	for _, b := range r.Breaks {
		counts[string(b.Reason)]++
	}
	return counts
}

// NewDeps builds the production collaborators from configuration. The LLM
// client is shared by annotation and the brief; the planner only gets it in
// llm planner mode.
func NewDeps(ctx context.Context, cfg config.Config) (Deps, error) {
	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return Deps{}, fmt.Errorf("building llm client: %w", err)
	}
	deps := Deps{Annotator: client}
	if cfg.PlannerMode == config.PlannerLLM {
		deps.Planner = client
	}
	if cfg.SlackConfigured() {
		deps.Publisher = slackbot.New(cfg.SlackBotToken, cfg.ReportChannelID)
	}
	log.Info().
		Bool("llm", client != nil).
		Str("planner", cfg.PlannerMode).
		Bool("slack", deps.Publisher != nil).
		Msg("pipeline dependencies ready")
	return deps, nil
}

// Run executes one reconciliation. Input errors and plan errors are fatal;
// annotation and brief problems are absorbed by their fallbacks. Delivery
// failures are logged and do not fail the run.
func Run(ctx context.Context, cfg config.Config, deps Deps) (Result, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	result := Result{RunID: sqlite.NewRunID(), StartedAt: now()}

	nbim, custodian, err := ingest.LoadSources(cfg.NBIMFile, cfg.CustodianFile)
	if err != nil {
		return result, err
	}
	result.Totals = report.Totals{NBIM: len(nbim), Custodian: len(custodian)}

	matched := matching.Match(nbim, custodian)
	result.Duplicates = matched.Duplicates

	annotator := annotate.New(deps.Annotator, annotate.WithTimeout(cfg.LLMTimeout()))
	breaks, err := checks.Evaluate(ctx, matched.Pairs, cfg.ToleranceValue, annotator)
	if err != nil {
		return result, err
	}
	result.Breaks = breaks
	log.Info().
		Str("run_id", result.RunID).
		Int("pairs", len(matched.Pairs)).
		Int("breaks", len(breaks)).
		Int("escalations", result.Escalations()).
		Msg("pipeline classified breaks")

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return result, fmt.Errorf("creating output dir: %w", err)
	}
	out := func(name string) string {
		path := filepath.Join(cfg.OutDir, name)
		result.Artifacts = append(result.Artifacts, path)
		return path
	}

	if err := report.WriteCSV(out(report.BreaksCSVFile), breaks); err != nil {
		return result, fmt.Errorf("writing breaks csv: %w", err)
	}
	if err := report.WriteJSON(out(report.BreaksJSONFile), breaks); err != nil {
		return result, fmt.Errorf("writing breaks json: %w", err)
	}
	markdown := report.Markdown(breaks, result.Totals, result.StartedAt)
	markdownPath := out(report.MarkdownFile)
	if err := report.WriteFile(markdownPath, markdown); err != nil {
		return result, fmt.Errorf("writing markdown report: %w", err)
	}

	planner := agents.NewPlanner(deps.Planner, agents.WithTimeout(cfg.LLMTimeout()))
	tasks, err := planner.Plan(ctx, breaks)
	if err != nil {
		return result, err
	}
	result.Tasks = tasks
	if err := report.WritePlan(out(report.PlanFile), tasks); err != nil {
		return result, fmt.Errorf("writing agent plan: %w", err)
	}

	result.Brief = brief.New(deps.Annotator, cfg.LLMTimeout()).Write(ctx, breaks)
	if err := report.WriteFile(out(report.BriefFile), result.Brief); err != nil {
		return result, fmt.Errorf("writing brief: %w", err)
	}

	if cfg.WriteEmailDraft {
		if err := report.WriteEmailDraft(out(report.EmailFile), markdown, result.StartedAt); err != nil {
			return result, fmt.Errorf("writing email draft: %w", err)
		}
	}

	if cfg.ArchiveDBPath != "" {
		if err := archive(cfg, result, now()); err != nil {
			log.Error().Err(err).Str("db", cfg.ArchiveDBPath).Msg("pipeline archive failed")
		}
	}

	if deps.Publisher != nil {
		if err := deps.Publisher.Publish(ctx, summaryOf(result), markdownPath); err != nil {
			log.Error().Err(err).Msg("pipeline slack delivery failed")
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("out_dir", cfg.OutDir).
		Int("tasks", len(tasks)).
		Msg("pipeline run complete")
	return result, nil
}

func archive(cfg config.Config, result Result, finished time.Time) error {
	db, err := sqlite.InitDB(cfg.ArchiveDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return storeRun(db, cfg, result, finished)
}

func storeRun(db *sql.DB, cfg config.Config, result Result, finished time.Time) error {
	run := sqlite.Run{
		ID:             result.RunID,
		StartedAt:      result.StartedAt,
		FinishedAt:     finished,
		NBIMFile:       cfg.NBIMFile,
		CustodianFile:  cfg.CustodianFile,
		Tolerance:      cfg.ToleranceValue.String(),
		NBIMTotal:      result.Totals.NBIM,
		CustodianTotal: result.Totals.Custodian,
		BreakCount:     len(result.Breaks),
		Escalations:    result.Escalations(),
		LLMProvider:    cfg.LLMProvider,
		PlannerMode:    cfg.PlannerMode,
	}
	if err := sqlite.InsertRun(db, run, result.Breaks, result.Tasks); err != nil {
		return err
	}
	log.Info().Str("run_id", run.ID).Str("db", cfg.ArchiveDBPath).Msg("pipeline run archived")
	return nil
}

func summaryOf(r Result) slackbot.RunSummary {
	return slackbot.RunSummary{
		RunID:          r.RunID,
		RunDate:        r.StartedAt,
		NBIMTotal:      r.Totals.NBIM,
		CustodianTotal: r.Totals.Custodian,
		Breaks:         len(r.Breaks),
		Escalations:    r.Escalations(),
		ByReason:       r.ByReason(),
	}
}
