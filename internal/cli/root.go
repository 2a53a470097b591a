// Package cli implements the accuracy-report command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luna-labs/accuracy.report/internal/config"
	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/ingest"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/parse"
	"github.com/luna-labs/accuracy.report/internal/rollup"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/version"
)

const serviceName = "accuracy-report"

var rootCmd = &cobra.Command{
	Use:   "accuracy-report",
	Short: "Wearable accuracy validation against benchmark devices",
	Long: `accuracy-report ingests heart-rate and SpO2 exports from the Luna band and
from benchmark devices (Polar strap, Masimo oximeter), aligns them per second,
and computes agreement statistics per session and across users, firmware
versions, activities and days.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Flags
var (
	configPath string
	dbPath     string
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version.String())
	},
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file (default "+config.DefaultConfigPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides db_path from config)")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = &dbPath
	}
	logger, err = monitoring.NewLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), serviceName)
	if err != nil {
		return err
	}
	monitoring.UseZap(logger)
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logger != nil {
		// stdout sync fails on some terminals; nothing useful to do about it.
		_ = logger.Sync()
	}
	return nil
}

func openDB() (*db.DB, error) {
	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}

func clockConfig() parse.ClockConfig {
	return parse.ClockConfig{
		Location:        cfg.GetLunaLocation(),
		ReferenceOffset: cfg.GetReferenceOffset(),
	}
}

func newPipeline(store *db.DB) *ingest.Pipeline {
	clock := timeutil.RealClock{}
	return ingest.NewPipeline(store, parse.NewRegistry(clockConfig(), clock), rollup.NewService(store, clock), ingest.Options{
		Concurrency: cfg.GetIngestConcurrency(),
		Tolerance:   cfg.GetTolerance(),
		Clock:       clock,
	})
}
