package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sarchlab/mmusim/mem/vm"
	"github.com/sarchlab/mmusim/mem/vm/mmu"
	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate [ADDR...]",
	Short: "Translate virtual addresses.",
	Long: "`translate` translates the addresses given as arguments, or one " +
		"address per line of the standard input, and prints the statistics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := opts.newEngine()
		if err != nil {
			return err
		}

		addrs := args
		if len(addrs) == 0 {
			addrs, err = readAddresses(os.Stdin)
			if err != nil {
				return err
			}
		}

		failed := translateAll(engine, addrs, cmd.OutOrStdout())
		printStatistics(engine.Statistics(), cmd.OutOrStdout())

		if failed > 0 {
			return fmt.Errorf("%d addresses could not be translated", failed)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)
}

// readAddresses returns the non-empty lines of the input. Text after a # is
// a comment.
func readAddresses(in io.Reader) ([]string, error) {
	var addrs []string

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		line = strings.TrimSpace(line)
		if line != "" {
			addrs = append(addrs, line)
		}
	}

	return addrs, scanner.Err()
}

// translateAll prints one line per address and returns the number of
// addresses that could not be translated.
func translateAll(e *mmu.Engine, addrs []string, out io.Writer) int {
	failed := 0

	for _, s := range addrs {
		addr, err := vm.ParseAddress(s)
		if err != nil {
			fmt.Fprintf(out, "%s -> error: %v\n", s, err)
			failed++

			continue
		}

		res, err := e.Translate(addr)
		if err != nil {
			fmt.Fprintf(out, "0x%x -> error: %v\n", addr, err)
			failed++

			continue
		}

		fmt.Fprintln(out, res)
	}

	return failed
}

func printStatistics(s mmu.StatisticsSnapshot, out io.Writer) {
	fmt.Fprintf(out,
		"hits=%d misses=%d faults=%d total=%d hit-rate=%.2f%%\n",
		s.Hits, s.Misses, s.Faults, s.Total, s.HitRate*100)
}
