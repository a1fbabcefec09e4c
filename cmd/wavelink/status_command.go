package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"wavelink/internal/ipc"
	"wavelink/internal/playback"
	"wavelink/internal/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *ipc.StatusResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				var callErr error
				resp, callErr = client.Status()
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

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if resp.Running {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", resp.PID), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "Not running", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("API", statusInfo, resp.APIBind, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Stats DB", statusInfo, resp.StatsDBPath, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Session", colorize) {
				fmt.Fprintln(stdout, line)
			}
			printSessionReport(stdout, resp.Session, colorize)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func printSessionReport(stdout io.Writer, report session.Report, colorize bool) {
	if report.SessionID == "" {
		fmt.Fprintln(stdout, renderStatusLine("Session", statusInfo, "No active session", colorize))
		return
	}

	fmt.Fprintln(stdout, renderStatusLine("Session", sessionStatusKind(report.Status), string(report.Status), colorize))
	fmt.Fprintln(stdout, renderStatusLine("ID", statusInfo, report.SessionID, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Leader", statusInfo, leaderLabel(report.Leader), colorize))
	if !report.StartedAt.IsZero() {
		fmt.Fprintln(stdout, renderStatusLine("Uptime", statusInfo, time.Since(report.StartedAt).Round(time.Second).String(), colorize))
	}
	fmt.Fprintln(stdout)

	rows := [][]string{
		playbackRow("UI", report.Local),
		playbackRow("Engine", report.Remote),
	}
	fmt.Fprintln(stdout, renderTable(
		[]string{"Side", "Position", "Playing", "Speed", "Volume"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight},
	))
}

func playbackRow(side string, state playback.State) []string {
	return []string{
		side,
		formatPosition(state.Position),
		yesNo(state.Playing),
		fmt.Sprintf("%.2fx", state.Speed),
		strconv.Itoa(state.Volume),
	}
}

func formatPosition(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
	}
	return fmt.Sprintf("%d:%05.2f", m, s)
}

func sessionStatusKind(status session.Status) statusKind {
	switch status {
	case session.StatusConnected:
		return statusOK
	case session.StatusDegraded:
		return statusWarn
	case session.StatusDisconnected:
		return statusError
	default:
		return statusInfo
	}
}

func leaderLabel(leader string) string {
	switch leader {
	case "local":
		return "UI"
	case "remote":
		return "Engine"
	default:
		return "Idle"
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
