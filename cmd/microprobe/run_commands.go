package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"microprobe/internal/daemonctl"
	"microprobe/internal/ipc"
	"microprobe/internal/preflight"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
)

func newRunCommands(ctx *commandContext) []*cobra.Command {
	control := func(use, short, done string, call func(*ipc.Client) (*ipc.RunResponse, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := call(client)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s (run state: %s)\n", done, resp.Run.State)
					return nil
				})
			},
		}
	}
	return []*cobra.Command{
		control("run", "Collect every queued scan in order", "Run started", (*ipc.Client).Run),
		control("pause", "Pause at the next row boundary", "Pause requested", (*ipc.Client).Pause),
		control("resume", "Restart the paused scan and continue the queue", "Run resumed", (*ipc.Client).Resume),
		control("stop", "Abort the active scan; the stage returns and the shutter closes", "Run stopped", (*ipc.Client).Stop),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, run and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			if status.Running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
				if status.APIAddress != "" {
					fmt.Fprintln(out, renderStatusLine("HTTP API", statusInfo, "http://"+status.APIAddress, colorize))
				}
			} else {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Queue DB", statusInfo, status.QueueDBPath, colorize))
			fmt.Fprintln(out)

			fmt.Fprintln(out, renderSectionHeader("Checks", colorize))
			for _, check := range preflight.RunAll(cmd.Context(), ctx.configValue()) {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(out)

			if status.Running {
				fmt.Fprintln(out, renderSectionHeader("Run", colorize))
				kind, message := runStatusLine(status.Run)
				fmt.Fprintln(out, renderStatusLine("State", kind, message, colorize))
				if status.ActiveRunUID != "" {
					fmt.Fprintln(out, renderStatusLine("Run UID", statusInfo, status.ActiveRunUID, colorize))
				}
				if status.Run.LastError != "" {
					fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Run.LastError, colorize))
				}
				fmt.Fprintln(out)
			}

			if status.Running {
				fmt.Fprintln(out, renderSectionHeader("Stage", colorize))
				for _, line := range renderStageLines(status.Stage, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out)
			}

			fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
			rows := queueStatusRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func runStatusLine(run runctl.Snapshot) (statusKind, string) {
	switch run.State {
	case runctl.StateRunning:
		return statusOK, "running " + run.Current
	case runctl.StatePaused:
		return statusWarn, "paused at " + run.Current + "; resume restarts it"
	default:
		if run.LastError != "" {
			return statusError, "idle after a failed scan"
		}
		return statusInfo, "idle"
	}
}

// queueStatusRows orders counts by lifecycle, then any unknown statuses by name.
func queueStatusRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	seen := make(map[string]bool, len(stats))
	for _, status := range queue.AllStatuses() {
		key := string(status)
		seen[key] = true
		if count := stats[key]; count > 0 {
			rows = append(rows, []string{titleCase(key), fmt.Sprint(count)})
		}
	}
	var extra []string
	for key, count := range stats {
		if !seen[key] && count > 0 {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		rows = append(rows, []string{titleCase(key), fmt.Sprint(stats[key])})
	}
	return rows
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
