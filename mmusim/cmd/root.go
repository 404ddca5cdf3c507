// Package cmd provides the command-line interface of mmusim.
package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var opts = defaultOptions()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mmusim",
	Short: "mmusim simulates the translation of virtual addresses.",
	Long: `mmusim simulates the translation of virtual addresses through a ` +
		`TLB and a page table. Every flag can also be set with an ` +
		`MMUSIM_* environment variable or in an env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd.Flags(), opts.envFile)
	},
}

func init() {
	opts.bindFlags(rootCmd.PersistentFlags())
}

// Execute adds all child commands to the root command and sets flags
// appropriately. The process exits through atexit so that the trace
// database is flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Printf("Error: %v", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
