package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/ingest"
	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/rollup"
	"github.com/luna-labs/accuracy.report/internal/timeutil"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [session-id]",
	Short: "Analyze a session, or every session still missing an analysis",
	Long: `Analyze a session from its stored readings and refresh the rollups it
contributes to. With --pending, analyze sessions that have readings but no
stored analysis, up to analysis_batch_size per run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Rebuild every summary from the stored analyses",
	Args:  cobra.NoArgs,
	RunE:  runRollup,
}

// Flags
var analyzePending bool

func init() {
	rootCmd.AddCommand(analyzeCmd, rollupCmd)
	analyzeCmd.Flags().BoolVar(&analyzePending, "pending", false, "Analyze all sessions without an analysis")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzePending == (len(args) == 1) {
		return errors.New("pass either a session ID or --pending")
	}

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := newPipeline(store)
	ctx := context.Background()

	if analyzePending {
		n, err := pipeline.AnalyzePending(ctx, cfg.GetAnalysisBatchSize())
		fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d sessions\n", n)
		return err
	}

	a, err := pipeline.Analyze(ctx, args[0])
	if a != nil {
		if printErr := printAnalysis(cmd.OutOrStdout(), a); printErr != nil {
			return printErr
		}
	}
	if errors.Is(err, ingest.ErrRollup) {
		// The analysis itself is stored; only the summaries lag behind.
		monitoring.Logf("warning: %v", err)
		return nil
	}
	return err
}

func runRollup(cmd *cobra.Command, args []string) error {
	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := rollup.NewService(store, timeutil.RealClock{}).RecomputeAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recomputed summaries for %d key sets\n", n)
	return nil
}
