package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"divrecon/internal/config"
	"divrecon/internal/pipeline"
	"divrecon/internal/schedule"
	"divrecon/internal/storage/sqlite"
)

type runFlags struct {
	nbimFile      string
	custodianFile string
	outDir        string
	tolerance     string
	planner       string
	noLLM         bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.nbimFile, "nbim-file", "", "internal ledger file (overrides nbim_file)")
	cmd.Flags().StringVar(&f.custodianFile, "custodian-file", "", "custodian feed file (overrides custodian_file)")
	cmd.Flags().StringVar(&f.outDir, "out-dir", "", "directory for run artifacts (overrides out_dir)")
	cmd.Flags().StringVar(&f.tolerance, "tolerance", "", "amount tolerance, a non-negative decimal (overrides tolerance)")
	cmd.Flags().StringVar(&f.planner, "planner", "", "task planner: rules or llm (overrides planner_mode)")
	cmd.Flags().BoolVar(&f.noLLM, "no-llm", false, "disable the language model and use rule annotations")
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.nbimFile != "" {
		cfg.NBIMFile = f.nbimFile
	}
	if f.custodianFile != "" {
		cfg.CustodianFile = f.custodianFile
	}
	if f.outDir != "" {
		cfg.OutDir = f.outDir
	}
	if f.tolerance != "" {
		cfg.Tolerance = f.tolerance
	}
	if f.planner != "" {
		cfg.PlannerMode = strings.ToLower(strings.TrimSpace(f.planner))
	}
	if f.noLLM {
		cfg.LLMProvider = config.ProviderNone
	}
}

func newRunCommand(globals *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile the two ledgers once and write the run artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(globals, flags.apply)
			if err != nil {
				return err
			}
			result, err := reconcile(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func reconcile(ctx context.Context, cfg config.Config) (pipeline.Result, error) {
	deps, err := pipeline.NewDeps(ctx, cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Run(ctx, cfg, deps)
}

func printResult(w io.Writer, r pipeline.Result) {
	fmt.Fprintf(w, "Run %s: %d NBIM / %d custodian records, %d breaks (%d need escalation), %d tasks\n",
		r.RunID, r.Totals.NBIM, r.Totals.Custodian, len(r.Breaks), r.Escalations(), len(r.Tasks))
	for _, path := range r.Artifacts {
		fmt.Fprintf(w, "  wrote %s\n", path)
	}
}

func newScheduleCommand(globals *globalFlags) *cobra.Command {
	flags := &runFlags{}
	var expr string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run reconciliation on a cron schedule until interrupted",
		Long: `schedule runs reconciliation on a standard 5-field cron expression
(minute hour day-of-month month day-of-week) in the configured timezone.
Examples: "0 7 * * *" (daily 7am), "30 6 * * 1-5" (weekdays 6:30am).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(globals, func(cfg *config.Config) {
				flags.apply(cfg)
				if expr != "" {
					cfg.Schedule = expr
				}
			})
			if err != nil {
				return err
			}
			runner, err := schedule.New(cfg.Schedule, cfg.Location, func(ctx context.Context) error {
				result, err := reconcile(ctx, cfg)
				if err != nil {
					return err
				}
				log.Info().Str("run_id", result.RunID).Int("breaks", len(result.Breaks)).Msg("scheduled reconciliation finished")
				return nil
			})
			if errors.Is(err, schedule.ErrNoSchedule) {
				return fmt.Errorf("no schedule configured: set schedule, RECON_SCHEDULE or --cron")
			}
			if err != nil {
				return err
			}
			return runner.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&expr, "cron", "", "cron expression (overrides schedule)")
	return cmd
}

func newHistoryCommand(globals *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently archived runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(globals, nil)
			if err != nil {
				return err
			}
			if cfg.ArchiveDBPath == "" {
				return fmt.Errorf("run archive disabled: set archive_db_path or ARCHIVE_DB_PATH")
			}
			if _, err := os.Stat(cfg.ArchiveDBPath); err != nil {
				return fmt.Errorf("opening run archive: %w", err)
			}
			db, err := sqlite.InitDB(cfg.ArchiveDBPath)
			if err != nil {
				return fmt.Errorf("opening run archive: %w", err)
			}
			defer db.Close()

			runs, err := sqlite.GetRecentRuns(db, limit)
			if err != nil {
				return err
			}
			counts := make(map[string]map[string]int, len(runs))
			for _, run := range runs {
				byReason, err := sqlite.CountBreaksByReason(db, run.ID)
				if err != nil {
					return err
				}
				counts[run.ID] = byReason
			}
			return renderHistory(cmd.OutOrStdout(), runs, counts)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

func renderHistory(w io.Writer, runs []sqlite.Run, counts map[string]map[string]int) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No archived runs.")
		return err
	}
	table := tablewriter.NewTable(w)
	table.Header("Run", "Started", "NBIM", "Custodian", "Breaks", "Escalations", "Planner", "By reason")
	for _, run := range runs {
		if err := table.Append(
			run.ID,
			run.StartedAt.UTC().Format("2006-01-02 15:04"),
			strconv.Itoa(run.NBIMTotal),
			strconv.Itoa(run.CustodianTotal),
			strconv.Itoa(run.BreakCount),
			strconv.Itoa(run.Escalations),
			run.PlannerMode,
			formatReasons(counts[run.ID]),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatReasons(byReason map[string]int) string {
	if len(byReason) == 0 {
		return "-"
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", r, byReason[r]))
	}
	return strings.Join(parts, " ")
}
