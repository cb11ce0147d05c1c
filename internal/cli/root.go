// Package cli implements the botforge commands: serve, worker and purge.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/botforge-backend/internal/app"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "botforge",
	Short:         "Knowledge-source ingestion for chatbot agents",
	Long:          "Runs the ingestion API, the job worker pool, or one-off maintenance against the shared job store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.AddCommand(serveCmd, workerCmd, purgeCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runApp builds the app for opts and runs it until a signal arrives.
func runApp(cmd *cobra.Command, opts app.Options) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := app.New(ctx, opts)
	if err != nil {
		return exitErr("startup", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		a.Log.Error("botforge exited with error", "error", err)
		return err
	}
	a.Log.Info("botforge stopped")
	return nil
}

func exitErr(msg string, err error) error {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	return err
}
