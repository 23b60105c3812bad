package main

import (
	"fmt"
	"strconv"
	"time"

	"microprobe/internal/ipc"
	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

func planner(ctx *commandContext) trajectory.Settings {
	if cfg := ctx.configValue(); cfg != nil {
		return scan.PlannerSettings(cfg)
	}
	return trajectory.DefaultSettings()
}

func queueTable(items []ipc.QueueItem, settings trajectory.Settings) ([]string, [][]string, []columnAlignment) {
	headers := []string{"#", "Label", "Status", "Grid", "Dwell (s)", "Est. time"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		grid, estimate := "invalid", "-"
		if plan, err := trajectory.PlanArea(item.Request.Area(), settings); err == nil {
			shape := plan.Shape()
			grid = fmt.Sprintf("%d x %d", shape[0], shape[1])
			estimate = formatDuration(plan.EstimateDuration())
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Position + 1),
			item.Label,
			item.Status,
			grid,
			strconv.FormatFloat(item.Request.Dwell, 'g', -1, 64),
			estimate,
		})
	}
	return headers, rows, aligns
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
