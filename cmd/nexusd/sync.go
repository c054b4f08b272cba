package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nexusai/nexusd/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control cloud sync",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync loop state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sync/status")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			resp.Body.Close()
			printWarning("cloud sync is not configured")
			return nil
		}

		var st syncer.Status
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		if st.Active {
			printStatus("Sync loop", "active")
		} else {
			printStatus("Sync loop", "inactive")
		}
		if st.Syncing {
			printStatus("Pass", "running")
		}
		printStatus("Pending", "%d", st.Pending)
		printStatus("Pushed", "%d", st.TotalPushed)
		printStatus("Failed", "%d", st.TotalFailed)
		if st.LastPassAt != nil {
			printStatus("Last pass", "%s", st.LastPassAt.Local().Format("2006-01-02 15:04:05"))
		}
		if st.LastError != "" {
			printStatus("Last error", "%s", st.LastError)
		}
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run a sync pass immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync/now", nil)
		if err != nil {
			return err
		}
		switch resp.StatusCode {
		case http.StatusConflict:
			resp.Body.Close()
			printWarning("a sync pass is already running")
			return nil
		case http.StatusServiceUnavailable:
			resp.Body.Close()
			printWarning("cloud sync is not configured")
			return nil
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Pushed %d records", result["pushed"])
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncNowCmd)
}
