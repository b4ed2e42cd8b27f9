package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/config"
)

// The cache lives inside the running gateway process, so these commands
// talk to its API instead of touching local state.

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the gateway's result cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <task-id>",
	Short: "Drop a task's cached result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return gatewayRequest(cmd, http.MethodDelete, "/api/cache/"+args[0])
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep stale entries from the gateway cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return gatewayRequest(cmd, http.MethodPost, "/api/cache/cleanup")
	},
}

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd, cacheCleanupCmd)
}

func gatewayRequest(cmd *cobra.Command, method, path string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	port := cfg.Gateway.Port
	if port == 0 {
		port = 6090
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)

	req, err := http.NewRequestWithContext(cmd.Context(), method, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the gateway running? %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, string(body))
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}
