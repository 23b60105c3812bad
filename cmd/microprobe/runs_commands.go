package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"microprobe/internal/ipc"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent acquisition runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Runs(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Runs))
				for _, run := range resp.Runs {
					exit := "open"
					if run.Stop != nil {
						exit = run.Stop.ExitStatus
					}
					rows = append(rows, []string{
						strconv.FormatInt(run.Start.ScanID, 10),
						run.Start.Label,
						run.Start.PlanName,
						run.Start.Time.Local().Format(time.DateTime),
						exit,
						strconv.Itoa(run.Records),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Scan ID", "Label", "Plan", "Started", "Exit", "Records"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show; 0 shows all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newMetadataCommand(ctx *commandContext) *cobra.Command {
	mdCmd := &cobra.Command{
		Use:   "md",
		Short: "Show and edit beamline metadata merged into every run",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print beamline metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Metadata()
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(resp.Values))
				for key := range resp.Values {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, resp.Values[key])
				}
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key>=<value>...",
		Short: "Set metadata keys; an empty value deletes the key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs := make([][2]string, 0, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || strings.TrimSpace(key) == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				pairs = append(pairs, [2]string{strings.TrimSpace(key), value})
			}
			return ctx.withClient(func(client *ipc.Client) error {
				for _, pair := range pairs {
					if _, err := client.SetMetadata(pair[0], pair[1]); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d keys\n", len(pairs))
				return nil
			})
		},
	}

	mdCmd.AddCommand(showCmd, setCmd)
	return mdCmd
}
