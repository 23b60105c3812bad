package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"microprobe/internal/faults"
	"microprobe/internal/trajectory"
)

type axisView struct {
	Axis      string  `json:"axis" yaml:"axis"`
	Start     float64 `json:"start" yaml:"start"`
	Stop      float64 `json:"stop" yaml:"stop"`
	Pitch     float64 `json:"pitch" yaml:"pitch"`
	Steps     int     `json:"steps" yaml:"steps"`
	Points    int     `json:"points" yaml:"points"`
	EdgeStart float64 `json:"edge_start" yaml:"edge_start"`
	EdgeStop  float64 `json:"edge_stop" yaml:"edge_stop"`
}

type planView struct {
	Label            string     `json:"label" yaml:"label"`
	Axes             []axisView `json:"axes" yaml:"axes"`
	Shape            [2]int     `json:"shape" yaml:"shape"`
	Pixels           int        `json:"pixels" yaml:"pixels"`
	Rows             int        `json:"rows" yaml:"rows"`
	Dwell            float64    `json:"dwell" yaml:"dwell"`
	FastVelocity     float64    `json:"fast_velocity" yaml:"fast_velocity"`
	EstimatedSeconds float64    `json:"estimated_seconds" yaml:"estimated_seconds"`
	Adjustments      []string   `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
}

func newPlanView(label string, plan *trajectory.Plan) planView {
	view := planView{
		Label:            label,
		Shape:            plan.Shape(),
		Pixels:           plan.Pixels(),
		Rows:             len(plan.Rows),
		Dwell:            plan.Dwell,
		FastVelocity:     plan.FastVelocity,
		EstimatedSeconds: plan.EstimateDuration().Seconds(),
	}
	for _, axis := range []struct {
		name string
		plan trajectory.AxisPlan
	}{{"x", plan.X}, {"y", plan.Y}} {
		view.Axes = append(view.Axes, axisView{
			Axis:      axis.name,
			Start:     axis.plan.Start,
			Stop:      axis.plan.Stop,
			Pitch:     axis.plan.Pitch,
			Steps:     axis.plan.Steps,
			Points:    axis.plan.Num,
			EdgeStart: axis.plan.EdgeStart,
			EdgeStop:  axis.plan.EdgeStop,
		})
	}
	for _, adj := range plan.Adjustments {
		view.Adjustments = append(view.Adjustments, adj.String())
	}
	return view
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	var asJSON, asYAML bool
	cmd := &cobra.Command{
		Use:   "plan [label]",
		Short: "Preview the raster for an area scan without touching the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := "preview"
			if len(args) == 1 {
				label = args[0]
			}
			req, err := flags.request(label)
			if err != nil {
				return err
			}
			plan, err := trajectory.PlanArea(req.Area(), planner(ctx))
			if err != nil {
				return faults.Wrap(faults.ErrValidation, "", "plan", label, err)
			}
			view := newPlanView(req.Label, plan)
			switch {
			case asJSON:
				return writeJSON(cmd, view)
			case asYAML:
				return writeYAML(cmd, view)
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(view.Axes))
			for _, axis := range view.Axes {
				rows = append(rows, []string{
					axis.Axis,
					formatMM(axis.Start),
					formatMM(axis.Stop),
					formatMM(axis.Pitch),
					fmt.Sprint(axis.Steps),
					fmt.Sprint(axis.Points),
					formatMM(axis.EdgeStart) + " .. " + formatMM(axis.EdgeStop),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Axis", "Start", "Stop", "Pitch", "Steps", "Points", "Travel"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Grid: %d x %d (%d pixels, %d rows)\n", view.Shape[0], view.Shape[1], view.Pixels, view.Rows)
			fmt.Fprintf(out, "Fast axis velocity: %s mm/s\n", formatMM(view.FastVelocity))
			fmt.Fprintf(out, "Estimated raster time: %s\n", formatDuration(plan.EstimateDuration()))
			for _, adj := range view.Adjustments {
				fmt.Fprintf(out, "Adjusted: %s\n", adj)
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}
