package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/yungbote/botforge-backend/internal/app"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs past retention and fail stale exhausted claims",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := app.New(ctx, app.Options{})
		if err != nil {
			return exitErr("startup", err)
		}
		defer a.Close()

		deleted, failed, err := a.Purge(ctx)
		if err != nil {
			return exitErr("purge", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]int64{"deleted": deleted, "staleFailed": failed})
	},
}
