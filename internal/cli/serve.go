package cli

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/botforge-backend/internal/app"
)

var noWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API (and run the worker pool unless --no-worker)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd, app.Options{HTTP: true, Worker: !noWorker})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job worker pool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd, app.Options{Worker: true})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not process jobs in this process")
}
