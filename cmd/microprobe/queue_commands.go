package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"microprobe/internal/ipc"
	"microprobe/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the scan queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueImportCommand(ctx))
	queueCmd.AddCommand(newQueueEditCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueMoveCommand(ctx, "up"))
	queueCmd.AddCommand(newQueueMoveCommand(ctx, "down"))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Append an area scan to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue([]queue.ScanRequest{req})
				if err != nil {
					return err
				}
				for _, item := range resp.Items {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %s at position %d\n", item.Label, item.Position+1)
				}
				return nil
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newQueueEditCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	var rename string
	cmd := &cobra.Command{
		Use:   "edit <label>",
		Short: "Change a queued scan; flags not given keep their current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := queue.NormalizeLabel(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				list, err := client.List(nil)
				if err != nil {
					return err
				}
				var current *ipc.QueueItem
				for i := range list.Items {
					if list.Items[i].Label == label {
						current = &list.Items[i]
						break
					}
				}
				if current == nil {
					return fmt.Errorf("%w: %s", queue.ErrNotFound, label)
				}
				req := flags.overlay(cmd, current.Request)
				req.Label = strings.TrimSpace(rename)
				resp, err := client.Update(label, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s at position %d\n", resp.Item.Label, resp.Item.Position+1)
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&rename, "rename", "", "New label")
	return cmd
}

func newQueueImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Queue every row of a CSV batch file; nothing is queued if any row is invalid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve batch path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Import(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d scans from %s\n", len(resp.Items), filepath.Base(path))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued scans in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				headers, rows, aligns := queueTable(resp.Items, planner(ctx))
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (queued, collecting, complete)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <label>...",
		Short: "Remove scans from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				for _, label := range args {
					if _, err := client.Remove(label); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", label)
				}
				return nil
			})
		},
	}
}

func newQueueMoveCommand(ctx *commandContext, direction string) *cobra.Command {
	return &cobra.Command{
		Use:   direction + " <label>",
		Short: "Move a scan one place " + direction,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				move := client.MoveUp
				if direction == "down" {
					move = client.MoveDown
				}
				resp, err := move(args[0])
				if err != nil {
					return err
				}
				if !resp.Moved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already at the %s\n", args[0], map[string]string{"up": "front", "down": "back"}[direction])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s %s\n", args[0], direction)
				return nil
			})
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [label]...",
		Short: "Return scans to queued so the next run collects them again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("name the scans to reset or pass --all")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset(args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d scans\n", resp.Updated)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reset every scan in the queue")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every scan from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Clear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d scans\n", resp.Removed)
				return nil
			})
		},
	}
}
