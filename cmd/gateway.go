package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/gateway"
	"github.com/edgelab/appaudit/internal/profiles"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the persistent REST control plane",
	Long: `Starts the appaudit gateway: a localhost JSON API over the result store
and task repository, with a cron-scheduled stale-cache sweep. Runs until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := profiles.Init(cfg.Profiles.Dir); err != nil {
			slog.Warn("profile directory setup failed; bundled profiles remain available", "error", err)
		}

		return gateway.New(cfg, db).Start(ctx)
	},
}
