package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/config"
	"github.com/edgelab/appaudit/internal/database"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "appaudit",
	Short: "Result storage and task orchestration for AI-app analysis runs",
	Long: `appaudit stores and serves the results of containerized analysis runs
against AI-generated applications: security scans, performance probes,
code-quality checks and requirement verification.

Get started:
  appaudit gateway    Start the REST control plane with the cache sweeper
  appaudit store      Persist an analysis payload for a task
  appaudit load       Read a task's structured result
  appaudit rebuild    Reconstruct the database view from the on-disk file
  appaudit tasks      Create and inspect analysis tasks`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.appaudit/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		gatewayCmd,
		storeCmd,
		loadCmd,
		rebuildCmd,
		cacheCmd,
		tasksCmd,
		configCmd,
	)
}

func initLogging() {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}

// openDB loads the configuration, opens the configured backend, and applies
// pending migrations. Callers own closing the returned DB.
func openDB(ctx context.Context) (*config.Config, database.DB, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("applying migrations: %w", err)
	}
	return cfg, db, nil
}
