package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sarchlab/mmusim/datarecording"
	"github.com/sarchlab/mmusim/mem/trace"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report DB",
	Short: "Summarize a trace database written with --trace-db.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		last, _ := cmd.Flags().GetInt("last")

		return printReport(cmd.Context(), reader, cmd.OutOrStdout(), last)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Int("last", 0, "Also print the last N translations.")
}

func printReport(
	ctx context.Context,
	reader datarecording.DataReader,
	out io.Writer,
	last int,
) error {
	counts := []struct {
		label  string
		table  string
		params datarecording.QueryParams
	}{
		{"translations", trace.TranslationTable, datarecording.QueryParams{}},
		{"tlb hits", trace.TranslationTable, datarecording.QueryParams{
			Where: "TLBHit = ?", Args: []any{true}}},
		{"page faults", trace.TranslationTable, datarecording.QueryParams{
			Where: "PageFault = ?", Args: []any{true}}},
		{"evictions", trace.TranslationTable, datarecording.QueryParams{
			Where: "Evicted = ?", Args: []any{true}}},
		{"rebuilds", trace.RebuildTable, datarecording.QueryParams{}},
		{"remaps", trace.RemapTable, datarecording.QueryParams{}},
	}

	for _, c := range counts {
		n, err := reader.Count(ctx, c.table, c.params)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%-12s %d\n", c.label, n)
	}

	if last <= 0 {
		return nil
	}

	rows, err := reader.Query(ctx, trace.TranslationTable,
		datarecording.QueryParams{OrderBy: "Seq DESC", Limit: last})
	if err != nil {
		return err
	}

	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		fmt.Fprintf(out, "#%v vaddr=%v vpn=%v pfn=%v hit=%v fault=%v\n",
			row["Seq"], row["VAddr"], row["VPN"], row["PFN"],
			row["TLBHit"], row["PageFault"])
	}

	return nil
}
