package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"wavelink/internal/ipc"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show synchronization statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *ipc.StatsResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var callErr error
				resp, callErr = client.Stats(limit)
				return callErr
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Current Session", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if resp.Current.SessionID == "" {
				fmt.Fprintln(stdout, renderStatusLine("Session", statusInfo, "No active session", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Session", sessionStatusKind(resp.Current.Status), resp.Current.SessionID, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Commands", statusInfo, strconv.FormatInt(resp.Current.Dispatch.CommandsSent, 10), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Corrections", statusInfo, strconv.FormatInt(resp.Current.Sync.DriftCorrections, 10), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Accuracy", statusInfo, fmt.Sprintf("%.3fs", resp.Current.Sync.LastAccuracy), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Timeouts", statusInfo, strconv.FormatInt(resp.Current.Dispatch.Timeouts, 10), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Disconnects", statusInfo, strconv.FormatInt(resp.Current.Disconnects, 10), colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("All Sessions", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Sessions", statusInfo, strconv.FormatInt(resp.Totals.Sessions, 10), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Commands", statusInfo, strconv.FormatInt(resp.Totals.CommandsSent, 10), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Corrections", statusInfo, strconv.FormatInt(resp.Totals.DriftCorrections, 10), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Avg accuracy", statusInfo, fmt.Sprintf("%.3fs", resp.Totals.AverageAccuracy), colorize))

			if len(resp.Recent) == 0 {
				return nil
			}
			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Recent Sessions", colorize) {
				fmt.Fprintln(stdout, line)
			}

			rows := make([][]string, 0, len(resp.Recent))
			for _, summary := range resp.Recent {
				rows = append(rows, []string{
					shortID(summary.ID),
					summary.EndedAt.Format("2006-01-02 15:04"),
					summary.EndedAt.Sub(summary.StartedAt).Round(time.Second).String(),
					strconv.FormatInt(summary.CommandsSent, 10),
					strconv.FormatInt(summary.DriftCorrections, 10),
					fmt.Sprintf("%.3fs", summary.LastAccuracy),
					strconv.FormatInt(summary.Disconnects, 10),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Session", "Ended", "Duration", "Commands", "Corrections", "Accuracy", "Drops"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	cmd.Flags().IntVar(&limit, "history", 10, "Number of recent sessions to list")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
