package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/ingest"
	"github.com/luna-labs/accuracy.report/internal/parse"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <session-id>",
	Short: "Parse device exports into a session and analyze it",
	Long: `Parse device exports into a session, replace the stored readings of each
device found, and analyze the session.

Each --file takes FORMAT:PATH where FORMAT is one of luna-hr, luna-spo2,
polar or masimo. Files of the same device are merged.

Example:
  accuracy-report ingest 3f2c... --file luna-hr:band.csv --file polar:strap.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// Flags
var (
	ingestFiles  []string
	ingestBandID string
	ingestJSON   bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringArrayVarP(&ingestFiles, "file", "f", nil, "Export to ingest as FORMAT:PATH (repeatable)")
	ingestCmd.Flags().StringVar(&ingestBandID, "band-id", "", "Device ID recorded for Luna readings")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Print the ingest report as JSON")
	_ = ingestCmd.MarkFlagRequired("file")
}

// parseUpload splits a FORMAT:PATH argument.
func parseUpload(arg string) (ingest.Upload, error) {
	name, path, ok := strings.Cut(arg, ":")
	if !ok || path == "" {
		return ingest.Upload{}, fmt.Errorf("invalid --file %q: expected FORMAT:PATH", arg)
	}
	format, err := parse.ParseFormat(name)
	if err != nil {
		return ingest.Upload{}, err
	}
	return ingest.Upload{Path: path, Format: format}, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	uploads := make([]ingest.Upload, 0, len(ingestFiles))
	for _, arg := range ingestFiles {
		u, err := parseUpload(arg)
		if err != nil {
			return err
		}
		if u.Format == parse.FormatLunaHR || u.Format == parse.FormatLunaSpO2 {
			u.DeviceID = ingestBandID
		}
		uploads = append(uploads, u)
	}

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := newPipeline(store).IngestSession(context.Background(), args[0], uploads)
	if report != nil {
		if ingestJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		} else if printErr := printIngestReport(cmd.OutOrStdout(), report); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed(), len(report.Files))
	}
	if report.AnalysisError != "" {
		return errors.New(report.AnalysisError)
	}
	return nil
}

func printIngestReport(out io.Writer, report *ingest.SessionReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFORMAT\tDEVICE\tROWS\tACCEPTED\tSKIPPED\tINVALID\tOUT OF WINDOW\tERROR")
	for _, f := range report.Files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			f.Path, f.Format, f.DeviceType, f.Stats.Total, f.Stats.Accepted,
			f.Stats.Skipped, f.Stats.Invalid, f.Stats.OutOfWindow, f.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if report.Analysis != nil {
		fmt.Fprintln(out)
		return printAnalysis(out, report.Analysis)
	}
	return nil
}

func printAnalysis(out io.Writer, a *analysis.SessionAnalysis) error {
	fmt.Fprintf(out, "Session %s (%s, valid: %v)\n", a.SessionID, a.Metric, a.Valid)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "D1\tD2\tPAIRS\tMAE\tRMSE\tMAPE\tBIAS\tLOA")
	for _, c := range a.Comparisons {
		if !c.HasData() {
			fmt.Fprintf(w, "%s\t%s\t0\t-\t-\t-\t-\t-\n", c.D1, c.D2)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%s\t%+.2f\t[%.2f, %.2f]\n",
			c.D1, c.D2, c.MatchedTimestamps, c.MAE, c.RMSE, optional(c.MAPE),
			c.MeanBias, c.LowerLoA, c.UpperLoA)
	}
	return w.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}
