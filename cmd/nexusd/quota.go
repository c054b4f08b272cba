package main

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nexusai/nexusd/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show subscription plan and feature quotas",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/quota")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			resp.Body.Close()
			printWarning("cloud credentials are not configured")
			return nil
		}

		var summary quota.Summary
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printStatus("Plan", "%s", summary.Plan)
		status := summary.Status
		if summary.ExpiringSoon && summary.DaysRemaining != nil {
			status = fmt.Sprintf("%s (expires in %d days)", status, *summary.DaysRemaining)
		}
		printStatus("Status", "%s", status)

		features := make([]string, 0, len(summary.Features))
		for name := range summary.Features {
			features = append(features, name)
		}
		sort.Strings(features)
		for _, name := range features {
			q := summary.Features[name]
			label := fmt.Sprintf("%d / %s", q.Used, q.Limit)
			if q.Approaching {
				label += " " + colorize(colorYellow, "⚠")
			}
			printStatus("  "+name, "%s", label)
		}
		return nil
	},
}

var quotaCheckCmd = &cobra.Command{
	Use:   "check <feature>",
	Short: "Check whether a feature is currently available",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feature := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/quota/features/"+feature)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			resp.Body.Close()
			printWarning("cloud credentials are not configured")
			return nil
		}

		var access quota.FeatureAccess
		if err := decodeJSON(resp, &access); err != nil {
			// Access is denied whenever the answer cannot be fetched.
			printError("%s: denied (%v)", feature, err)
			return nil
		}

		switch {
		case access.Allowed:
			printSuccess("%s: allowed (%s remaining)", feature, access.Remaining)
		case access.Reached:
			printError("%s: usage limit reached", feature)
		default:
			printError("%s: not included in your plan", feature)
		}
		return nil
	},
}

func init() {
	quotaCmd.AddCommand(quotaCheckCmd)
}
