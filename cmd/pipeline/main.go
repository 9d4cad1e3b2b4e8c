package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/acme/product-pipeline/internal/application"
)

const (
	appName = "pipeline"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Product idea pipeline: triage, promote, and stress-test sourcing leads",
		Version: version,
		Long: `The pipeline service takes raw product leads through triage scoring,
duplicate detection, cooldown checks, and daily-quota admission, then runs
promoted candidates through the capital simulation with sensitivity analysis.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline HTTP server",
		Long:  "Starts the JSON API with /api/leads/triage, /api/stages/k/run, /api/candidates, /health and /metrics",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")

	admitCmd := &cobra.Command{
		Use:   "admit",
		Short: "Run one admission batch from a JSON file",
		Long:  "Reads a JSON array of lead submissions, triages them, and prints the per-lead outcomes",
		RunE:  runAdmit,
	}
	registerAdmitFlags(admitCmd.Flags())

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the capital simulation for a candidate",
		Long:  "Runs Stage K for a candidate, building the scenario from its latest cost and margin facts unless an input file is given",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("candidate", "", "Candidate id (required)")
	simulateCmd.Flags().String("input", "", "Path to JSON cashflow schedule (optional)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the backing services",
		RunE:  runHealth,
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(admitCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig resolves the --config flag; an empty path means defaults.
func loadConfig(cmd *cobra.Command) (*application.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return application.DefaultConfig(), nil
	}
	cfg, err := application.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
