package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"microprobe/internal/ipc"
)

func newLineCommand(ctx *commandContext) *cobra.Command {
	var req ipc.LineRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "line <x|y>",
		Short: "Run a single-axis step scan and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Axis = args[0]
			if strings.TrimSpace(req.Label) == "" {
				req.Label = "line-" + strings.ToLower(args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Line(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				for _, adj := range resp.Adjustments {
					fmt.Fprintf(out, "Adjusted: %s\n", adj)
				}
				fmt.Fprintf(out, "Line scan %s: %d points at %s mm\n", resp.Outcome, resp.Points, formatMM(resp.Step))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Label, "label", "", "Run label")
	cmd.Flags().Float64Var(&req.Start, "start", 0, "Start position (mm)")
	cmd.Flags().Float64Var(&req.Stop, "stop", 0, "Stop position (mm)")
	cmd.Flags().Float64Var(&req.Step, "step", 0, "Step size (mm)")
	cmd.Flags().Float64Var(&req.Dwell, "dwell", 0, "Dwell per point (s)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
