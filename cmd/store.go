package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/resultstore"
)

var (
	storeFile  string
	storeModel string
	storeApp   int
)

var storeCmd = &cobra.Command{
	Use:   "store <task-id>",
	Short: "Persist an analysis payload for a task",
	Long: `Reads a raw analysis payload (JSON object) from --file or stdin and
stores it for the task: findings are normalized into the database, oversized
SARIF documents are externalized, and the filesystem mirror is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		var raw []byte
		var err error
		if storeFile == "" || storeFile == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(storeFile)
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}

		cfg, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		store := resultstore.New(db, nil, cfg.Results.Dir)
		res, err := store.StoreResults(cmd.Context(), taskID, payload, storeModel, storeApp)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	storeCmd.Flags().StringVarP(&storeFile, "file", "f", "", "payload JSON file (default: stdin)")
	storeCmd.Flags().StringVar(&storeModel, "model", "", "model slug the app belongs to")
	storeCmd.Flags().IntVar(&storeApp, "app", 0, "application number")
	_ = storeCmd.MarkFlagRequired("model")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
