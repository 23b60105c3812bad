package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"microprobe/internal/ipc"
)

func newShutterCommand(ctx *commandContext) *cobra.Command {
	shutterCmd := &cobra.Command{
		Use:   "shutter",
		Short: "Open, close or read the beam shutter",
	}
	for _, use := range []string{"open", "close"} {
		shutterCmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: titleCase(use) + " the shutter; refused while a scan is collecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.Shutter(use)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Shutter %s\n", resp.State)
					return nil
				})
			},
		})
	}
	shutterCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the shutter readback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stage()
				if err != nil {
					return err
				}
				if resp.Stage.Error != "" {
					return fmt.Errorf("read shutter: %s", resp.Stage.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Shutter %s\n", resp.Stage.Shutter)
				return nil
			})
		},
	})
	return shutterCmd
}

func newStageCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Show or move the sample stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stage()
				if err != nil {
					return err
				}
				return printStage(cmd, resp.Stage, asJSON)
			})
		},
	}
	stageCmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	stageCmd.AddCommand(newStageMoveCommand(ctx))
	stageCmd.AddCommand(newStageNudgeCommand(ctx))
	return stageCmd
}

func newStageMoveCommand(ctx *commandContext) *cobra.Command {
	var x, y float64
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move to absolute positions; x moves first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req ipc.MoveRequest
			if cmd.Flags().Changed("x") {
				req.X = &x
			}
			if cmd.Flags().Changed("y") {
				req.Y = &y
			}
			if req.X == nil && req.Y == nil {
				return fmt.Errorf("pass --x, --y or both")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Move(req)
				if err != nil {
					return err
				}
				return printStage(cmd, resp.Stage, false)
			})
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "Fast axis target (mm)")
	cmd.Flags().Float64Var(&y, "y", 0, "Slow axis target (mm)")
	return cmd
}

func newStageNudgeCommand(ctx *commandContext) *cobra.Command {
	var by float64
	cmd := &cobra.Command{
		Use:   "nudge <x|y> --by <mm>",
		Short: "Move one axis relative to where it is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("by") {
				return fmt.Errorf("--by is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Nudge(args[0], by)
				if err != nil {
					return err
				}
				return printStage(cmd, resp.Stage, false)
			})
		},
	}
	cmd.Flags().Float64Var(&by, "by", 0, "Relative move (mm); may be negative")
	return cmd
}

func printStage(cmd *cobra.Command, stage ipc.StageStatus, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, stage)
	}
	out := cmd.OutOrStdout()
	for _, line := range renderStageLines(stage, false) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func newPositionsCommand(ctx *commandContext) *cobra.Command {
	posCmd := &cobra.Command{
		Use:     "pos",
		Aliases: []string{"positions"},
		Short:   "Save and recall named stage positions",
	}
	posCmd.AddCommand(&cobra.Command{
		Use:   "save <name>",
		Short: "Save the current stage position under name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SavePosition(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s at x=%s y=%s\n", resp.Position.Name, formatMM(resp.Position.X), formatMM(resp.Position.Y))
				return nil
			})
		},
	})

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Positions()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Positions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved positions")
					return nil
				}
				rows := make([][]string, 0, len(resp.Positions))
				for _, pos := range resp.Positions {
					rows = append(rows, []string{pos.Name, formatMM(pos.X), formatMM(pos.Y), pos.SavedAt.Local().Format(time.DateTime)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "X (mm)", "Y (mm)", "Saved"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	posCmd.AddCommand(listCmd)

	posCmd.AddCommand(&cobra.Command{
		Use:   "goto <name>",
		Short: "Move the stage to a saved position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.GotoPosition(args[0])
				if err != nil {
					return err
				}
				return printStage(cmd, resp.Stage, false)
			})
		},
	})
	posCmd.AddCommand(&cobra.Command{
		Use:   "rm <name>...",
		Short: "Forget saved positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				for _, name := range args {
					if _, err := client.RemovePosition(name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
				}
				return nil
			})
		},
	})
	return posCmd
}
