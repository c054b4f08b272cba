package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexusai/nexusd/internal/storage"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Browse and manage stored generations",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored generation records",
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFilter, _ := cmd.Flags().GetString("type")
		favorite, _ := cmd.Flags().GetBool("favorite")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if typeFilter != "" {
			q.Set("type", typeFilter)
		}
		if favorite {
			q.Set("favorite", "true")
		}
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/records?"+q.Encode())
		if err != nil {
			return err
		}

		var records []storage.GenerationRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No records found.")
			return nil
		}

		for _, rec := range records {
			marker := " "
			if rec.Favorite {
				marker = colorize(colorYellow, "★")
			}
			fmt.Printf("%s %s  %-12s  %s  %s\n",
				marker,
				colorize(colorCyan, shortID(rec.ID)),
				rec.Type,
				rec.CreatedAt.Local().Format("2006-01-02 15:04"),
				clip(rec.Prompt, 60),
			)
		}
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/records/"+args[0])
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var recordsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store a new generation record",
	Long: `Store a new generation record in the local vault.

Examples:
  nexusd records save --type code --prompt "write a fib function" --result "func fib..." --model gpt-4o
  nexusd records save --type image --prompt "a cat in a hat" --result-file ./cat.png --tags pets,art`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeStr, _ := cmd.Flags().GetString("type")
		prompt, _ := cmd.Flags().GetString("prompt")
		result, _ := cmd.Flags().GetString("result")
		resultFile, _ := cmd.Flags().GetString("result-file")
		model, _ := cmd.Flags().GetString("model")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if typeStr == "" || prompt == "" {
			return fmt.Errorf("--type and --prompt are required")
		}
		if (result == "") == (resultFile == "") {
			return fmt.Errorf("exactly one of --result and --result-file is required")
		}

		req := map[string]any{
			"type":   typeStr,
			"prompt": prompt,
		}
		if result != "" {
			req["result"] = result
		} else {
			data, err := os.ReadFile(resultFile)
			if err != nil {
				return fmt.Errorf("reading result file: %w", err)
			}
			req["resultBlob"] = data
		}
		if model != "" {
			req["model"] = model
		}
		if tags := splitTags(tagsStr); tags != nil {
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/records", req)
		if err != nil {
			return err
		}

		var saved storage.GenerationRecord
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}

		printSuccess("Saved record %s", saved.ID)
		return nil
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/records/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var recordsFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle a record's favorite flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/records/"+args[0]+"/favorite", nil)
		if err != nil {
			return err
		}

		var result struct {
			ID       string `json:"id"`
			Favorite bool   `json:"favorite"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Favorite {
			printSuccess("Marked %s as favorite", result.ID)
		} else {
			printSuccess("Removed favorite from %s", result.ID)
		}
		return nil
	},
}

var recordsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than a number of days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		confirm, _ := cmd.Flags().GetBool("confirm")

		if !confirm {
			printWarning("This will delete records older than %d days. Use --confirm to proceed.", days)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/records/prune", map[string]int{"days": days})
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %d records older than %d days", result["removed"], days)
		return nil
	},
}

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the local vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats storage.StorageStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Records", "%d", stats.Total)
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			printStatus("  "+t, "%d", stats.ByType[storage.RecordType(t)])
		}
		printStatus("Synced", "%d", stats.Synced)
		printStatus("Unsynced", "%d", stats.Unsynced)
		if stats.Failed > 0 {
			printStatus("Sync failures", "%d", stats.Failed)
		}
		printStatus("Storage used", "%s", formatBytes(stats.TotalBytes))
		if stats.OldestCreatedAt != nil {
			printStatus("Oldest record", "%s", stats.OldestCreatedAt.Local().Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("type", "", "filter by record type (image, video, audio, code, conversation)")
	recordsListCmd.Flags().Bool("favorite", false, "only list favorited records")
	recordsListCmd.Flags().Int("limit", 20, "maximum number of records to list")

	recordsSaveCmd.Flags().String("type", "", "record type (image, video, audio, code, conversation)")
	recordsSaveCmd.Flags().String("prompt", "", "the prompt that produced the generation")
	recordsSaveCmd.Flags().String("result", "", "the generated result as text")
	recordsSaveCmd.Flags().String("result-file", "", "file holding the generated result (stored as a blob)")
	recordsSaveCmd.Flags().String("model", "", "model that produced the result")
	recordsSaveCmd.Flags().String("tags", "", "comma-separated tags")

	recordsPruneCmd.Flags().Int("days", 30, "delete records older than this many days")
	recordsPruneCmd.Flags().Bool("confirm", false, "confirm the prune")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsSaveCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
	recordsCmd.AddCommand(recordsFavoriteCmd)
	recordsCmd.AddCommand(recordsPruneCmd)
	recordsCmd.AddCommand(recordsStatsCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	tags := strings.Split(s, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	return tags
}
