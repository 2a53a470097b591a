package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/report"
	"github.com/luna-labs/accuracy.report/internal/rollup"
	"github.com/luna-labs/accuracy.report/internal/security"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var chartCmd = &cobra.Command{
	Use:   "chart <session-id>",
	Short: "Render a Bland-Altman chart of the band against a benchmark",
	Long: `Render the Bland-Altman chart of the band against one benchmark device.
The output format follows the file extension: .png or .html. Without
--out the chart is written as blandaltman-<session>-<device>.png in the
current directory.

Example:
  accuracy-report chart 3f2c... --device polar --out polar.png`,
	Args: cobra.ExactArgs(1),
	RunE: runChart,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all summaries to an Excel workbook",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

// Flags
var (
	chartDevice string
	chartOut    string
	exportOut   string
)

func init() {
	rootCmd.AddCommand(chartCmd, exportCmd)
	chartCmd.Flags().StringVar(&chartDevice, "device", string(vitals.DevicePolar), "Benchmark device (polar or masimo)")
	chartCmd.Flags().StringVarP(&chartOut, "out", "o", "", "Output file (.png or .html)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "accuracy-summaries.xlsx", "Output workbook")
}

func runChart(cmd *cobra.Command, args []string) error {
	out := chartOut
	if out == "" {
		out = security.ArtifactName("png", "blandaltman", args[0], chartDevice)
	}
	ext := strings.ToLower(filepath.Ext(out))
	if ext != ".png" && ext != ".html" {
		return fmt.Errorf("unsupported chart format %q: use .png or .html", ext)
	}

	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := store.GetSessionAnalysis(context.Background(), args[0])
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("session %s has no analysis; run analyze first", args[0])
	}
	if err != nil {
		return err
	}
	chart, err := report.NewBlandAltmanChart(a, vitals.DeviceType(chartDevice))
	if err != nil {
		return err
	}

	if err := writeFile(out, func(f *os.File) error {
		if ext == ".png" {
			return chart.WritePNG(f)
		}
		return chart.WriteHTML(f)
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openDB()
	if err != nil {
		return err
	}
	defer store.Close()

	var all []db.Summary
	for _, kind := range rollup.Kinds {
		sums, err := store.ListSummaries(context.Background(), string(kind), "")
		if err != nil {
			return err
		}
		all = append(all, sums...)
	}
	if err := writeFile(exportOut, func(f *os.File) error {
		return report.WriteWorkbook(f, all)
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d summaries to %s\n", len(all), exportOut)
	return nil
}

// writeFile creates path and removes it again when fn fails.
func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
