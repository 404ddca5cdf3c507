package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/browser"
	"github.com/sarchlab/mmusim/monitoring"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP.",
	Long: "`serve` starts the monitoring server and runs until it is " +
		"interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, err := opts.newEngine()
		if err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		open, _ := cmd.Flags().GetBool("open")

		monitor := monitoring.NewMonitor().WithPortNumber(port)
		monitor.RegisterEngine(engine)
		url := monitor.StartServer()

		if open {
			err = browser.OpenURL(url + "/api/engine")
			if err != nil {
				log.Printf("opening browser: %v", err)
			}
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port of the server. 0 picks a free one.")
	serveCmd.Flags().Bool("open", false, "Open the server in a browser.")
}
