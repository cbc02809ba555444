package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/etl"
)

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Run data lake pipelines",
}

var etlFinancialsCmd = &cobra.Command{
	Use:   "financials",
	Short: "Retrieve CVM filings and rebuild the quarterly financials",
	Long: "Lands new ITR/DFP archives in bronze, reconciles the configured company's statements into silver, " +
		"and writes the quarterly metrics tables and workbook to gold.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		years, _ := cmd.Flags().GetIntSlice("years")

		env, err := initETL(ctx, dryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx, etl.RunOptions{Years: years})
		if err != nil {
			return eris.Wrap(err, "etl financials")
		}
		formatRunResult(os.Stdout, res)
		return nil
	},
}

func init() {
	etlFinancialsCmd.Flags().IntSlice("years", nil, "years to process (default: current year and etl.years_to_fetch-1 before it)")
	etlFinancialsCmd.Flags().Bool("dry-run", false, "use an in-memory bucket; skip the run log and cache")

	etlCmd.AddCommand(etlFinancialsCmd)
	rootCmd.AddCommand(etlCmd)
}

// formatRunResult writes a run summary to w.
func formatRunResult(out io.Writer, res *etl.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Trace ID:\t%s\n", res.TraceID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Raw files:\t%d\n", len(res.RawKeys))
	_, _ = fmt.Fprintf(w, "Cleaned tables:\t%d\n", len(res.CleanedKeys))
	_, _ = fmt.Fprintf(w, "Enriched tables:\t%d\n", len(res.EnrichedKeys))
	if res.Metrics != nil {
		for i, agg := range catalog.AggregationTypes() {
			_, _ = fmt.Fprintf(w, "Quarters (%s):\t%d\n", agg, len(res.Metrics.Records[agg]))
			if i < len(res.Metrics.ServingKeys) {
				_, _ = fmt.Fprintf(w, "  Serving:\t%s\n", res.Metrics.ServingKeys[i])
			}
		}
		_, _ = fmt.Fprintf(w, "Export:\t%s\n", res.Metrics.ExportKey)
	}
	_ = w.Flush()
}
