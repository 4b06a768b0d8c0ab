// Package app wires configuration, logging and the reconciliation pipeline
// behind the divrecon command line.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"divrecon/internal/config"
	"divrecon/internal/httpx"
	"divrecon/internal/logging"
)

// Version is set at build time with -ldflags "-X divrecon/internal/app.Version=...".
var Version = "dev"

// Main runs the CLI and exits non-zero on failure.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "divrecon: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	globals := &globalFlags{}
	root := &cobra.Command{
		Use:     "divrecon",
		Short:   "Dividend break reconciliation",
		Version: Version,
		Long: `divrecon reconciles the internal dividend ledger against the custodian
feed, classifies every break, annotates it (with a language model when a
provider credential is configured, from a rule table otherwise) and plans
follow-up tasks for the specialist agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&globals.logFormat, "log-format", "", "log format: auto, console, json (overrides LOG_FORMAT)")
	root.SetVersionTemplate("divrecon {{.Version}}\n")

	root.AddCommand(
		newRunCommand(globals),
		newScheduleCommand(globals),
		newHistoryCommand(globals),
		newVersionCommand(),
	)
	return root
}

// loadConfig reads configuration, lets override adjust it, re-validates and
// installs logging and the shared HTTP client timeout.
func loadConfig(globals *globalFlags, override func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if globals.logLevel != "" {
		cfg.LogLevel = globals.logLevel
	}
	if globals.logFormat != "" {
		cfg.LogFormat = globals.logFormat
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, fmt.Errorf("invalid flags: %w", err)
		}
	}

	logging.Configure(cfg.LogLevel, cfg.LogFormat)
	applied := httpx.ConfigureExternalHTTPClient(cfg.LLMTimeout())
	log.Debug().
		Str("nbim_file", cfg.NBIMFile).
		Str("custodian_file", cfg.CustodianFile).
		Str("out_dir", cfg.OutDir).
		Str("tolerance", cfg.ToleranceValue.String()).
		Str("llm_provider", cfg.LLMProvider).
		Str("planner", cfg.PlannerMode).
		Str("timezone", cfg.Timezone).
		Dur("http_timeout", applied).
		Msg("config loaded")
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "divrecon %s\n", Version)
		},
	}
}
