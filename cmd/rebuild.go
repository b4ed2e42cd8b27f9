package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/resultstore"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <task-id>",
	Short: "Reconstruct the database view from the on-disk primary file",
	Long: `Re-reads the task's results.json from the filesystem mirror,
re-normalizes its findings, and replaces the database rows. Safe to run
repeatedly — the result converges.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		cfg, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		store := resultstore.New(db, nil, cfg.Results.Dir)
		res, err := store.RebuildFromJSON(cmd.Context(), taskID)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("no primary result file for task %s", taskID)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}
