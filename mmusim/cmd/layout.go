package cmd

import (
	"fmt"
	"io"

	"github.com/sarchlab/mmusim/mem/vm/mmu"
	"github.com/spf13/cobra"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the resident pages and the content of their frames.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, err := opts.newEngine()
		if err != nil {
			return err
		}

		printLayout(engine, cmd.OutOrStdout())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(layoutCmd)
}

func printLayout(e *mmu.Engine, out io.Writer) {
	cfg := e.Config()
	entries := e.PageTableEntries()

	fmt.Fprintf(out, "%s policy=%s\n", cfg, e.Policy())
	fmt.Fprintf(out, "%d of %d pages resident\n", len(entries), cfg.PageCount)

	for _, entry := range entries {
		data, _ := e.ReadFrame(entry.PFN)
		fmt.Fprintf(out, "vpn 0x%x -> pfn 0x%x: %s\n",
			entry.VPN, entry.PFN, data)
	}
}
