package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/resultstore"
)

var (
	loadRefresh bool
	loadSection string
)

var loadCmd = &cobra.Command{
	Use:   "load <task-id>",
	Short: "Read a task's structured result",
	Long: `Loads the structured result for a task (database first, falling back to
the filesystem mirror) and prints it as JSON. --section narrows the output
to one view: summary, security, performance, quality, requirements, tools.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		cfg, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		store := resultstore.New(db, nil, cfg.Results.Dir)
		ctx := cmd.Context()

		if loadSection != "" {
			var data map[string]any
			switch loadSection {
			case "summary":
				data, err = store.Summary(ctx, taskID)
			case "security":
				data, err = store.Security(ctx, taskID)
			case "performance":
				data, err = store.Performance(ctx, taskID)
			case "quality":
				data, err = store.Quality(ctx, taskID)
			case "requirements":
				data, err = store.Requirements(ctx, taskID)
			case "tools":
				data, err = store.Tools(ctx, taskID)
			default:
				return fmt.Errorf("unknown section %q", loadSection)
			}
			if err != nil {
				return err
			}
			if data == nil {
				return fmt.Errorf("no %s section for task %s", loadSection, taskID)
			}
			return printJSON(cmd.OutOrStdout(), data)
		}

		res, err := store.LoadResults(ctx, taskID, loadRefresh)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("no results for task %s", taskID)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	loadCmd.Flags().BoolVar(&loadRefresh, "refresh", false, "bypass the cache")
	loadCmd.Flags().StringVar(&loadSection, "section", "", "print one section only")
}
