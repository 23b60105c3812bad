package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"microprobe/internal/batch"
	"microprobe/internal/faults"
	"microprobe/internal/logging"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/rundocs"
	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

// ErrItemActive rejects queue edits that would touch the scan in flight.
var ErrItemActive = errors.New("scan is in progress")

// LineRequest describes a single-axis step scan.
type LineRequest struct {
	Label string
	Axis  trajectory.Axis
	Start float64
	Stop  float64
	Step  float64
	Dwell float64
}

// Enqueue validates every request's geometry and appends them all, or none.
func (d *Daemon) Enqueue(_ context.Context, reqs ...queue.ScanRequest) ([]queue.Item, error) {
	if len(reqs) == 0 {
		return nil, faults.Wrap(faults.ErrValidation, "daemon", "enqueue", "no scan requests", nil)
	}
	for _, req := range reqs {
		if _, err := trajectory.PlanArea(req.Area(), d.planner); err != nil {
			return nil, faults.Wrap(faults.ErrValidation, "daemon", "enqueue", strings.TrimSpace(req.Label), err)
		}
	}
	if err := d.queue.AddAll(reqs); err != nil {
		return nil, err
	}
	added := make([]queue.Item, 0, len(reqs))
	for _, req := range reqs {
		if item, ok := d.queue.Get(req.Label); ok {
			added = append(added, item)
		}
	}
	d.logger.Info("scans queued",
		logging.String(logging.FieldEventType, "queue_add"),
		logging.Int("count", len(added)),
	)
	return added, nil
}

// Import reads a CSV batch file and enqueues its rows atomically.
func (d *Daemon) Import(ctx context.Context, path string) ([]queue.Item, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, faults.Wrap(faults.ErrImport, "daemon", "import", "batch path is required", nil)
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve batch path: %w", err)
	}
	table, err := batch.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	reqs, err := batch.Requests(table)
	if err != nil {
		return nil, err
	}
	items, err := d.Enqueue(ctx, reqs...)
	if err != nil {
		return nil, err
	}
	d.logger.Info("batch imported",
		logging.String(logging.FieldEventType, "queue_import"),
		logging.String("source", absPath),
		logging.Int("count", len(items)),
	)
	return items, nil
}

// List returns queue items in execution order, optionally filtered by status.
func (d *Daemon) List(_ context.Context, statuses ...queue.Status) []queue.Item {
	items := d.queue.Items()
	if len(statuses) == 0 {
		return items
	}
	filtered := items[:0]
	for _, item := range items {
		for _, status := range statuses {
			if item.Status == status {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered
}

// Remove deletes the item with label unless it is being collected.
func (d *Daemon) Remove(_ context.Context, label string) error {
	if err := d.guardActive(label); err != nil {
		return err
	}
	return d.queue.RemoveLabel(label)
}

// MoveUp moves label one place earlier. It reports false at the front.
func (d *Daemon) MoveUp(_ context.Context, label string) (bool, error) {
	return d.move(label, -1)
}

// MoveDown moves label one place later. It reports false at the back.
func (d *Daemon) MoveDown(_ context.Context, label string) (bool, error) {
	return d.move(label, 1)
}

// move swaps label with its neighbour. Neither side of the swap may be the
// item in flight or interrupted by a pause.
func (d *Daemon) move(label string, delta int) (bool, error) {
	items := d.queue.Items()
	label = queue.NormalizeLabel(label)
	index := slices.IndexFunc(items, func(item queue.Item) bool { return item.Label() == label })
	if index < 0 {
		return false, fmt.Errorf("%w: %s", queue.ErrNotFound, label)
	}
	target := index + delta
	if target < 0 || target >= len(items) {
		return false, nil
	}
	if err := d.guardActive(items[index].Label(), items[target].Label()); err != nil {
		return false, err
	}
	if delta < 0 {
		return d.queue.MoveUp(index), nil
	}
	return d.queue.MoveDown(index), nil
}

// Reset returns the named items, or every item when labels is empty, to
// queued so the next run collects them again.
func (d *Daemon) Reset(_ context.Context, labels []string) (int, error) {
	if len(labels) == 0 {
		if d.ctrl.State() == runctl.StateRunning {
			return 0, fmt.Errorf("%w: stop the run before resetting the whole queue", ErrItemActive)
		}
		return d.queue.ResetAll(), nil
	}
	for _, label := range labels {
		if err := d.guardActive(label); err != nil {
			return 0, err
		}
		if _, ok := d.queue.Get(label); !ok {
			return 0, fmt.Errorf("%w: %s", queue.ErrNotFound, label)
		}
	}
	reset := 0
	for _, label := range labels {
		item, _ := d.queue.Get(label)
		if err := d.queue.Reset(label); err != nil {
			return reset, err
		}
		if item.Status != queue.StatusQueued {
			reset++
		}
	}
	return reset, nil
}

// Clear empties the queue. It is refused while a run is active.
func (d *Daemon) Clear(context.Context) (int, error) {
	if d.ctrl.State() == runctl.StateRunning {
		return 0, fmt.Errorf("%w: stop the run before clearing the queue", ErrItemActive)
	}
	return d.queue.Clear(), nil
}

// Update replaces the request of a queued item. An empty req.Label keeps the
// item's label. Items that have started collecting cannot be edited.
func (d *Daemon) Update(_ context.Context, label string, req queue.ScanRequest) (queue.Item, error) {
	if _, err := trajectory.PlanArea(req.Area(), d.planner); err != nil {
		return queue.Item{}, faults.Wrap(faults.ErrValidation, "daemon", "update", strings.TrimSpace(label), err)
	}
	if err := d.guardActive(label); err != nil {
		return queue.Item{}, err
	}
	item, err := d.queue.Update(label, req)
	if err != nil {
		return queue.Item{}, err
	}
	d.logger.Info("scan updated",
		logging.String(logging.FieldEventType, "queue_update"),
		logging.String(logging.FieldScanLabel, item.Label()),
	)
	return item, nil
}

// guardActive refuses edits to the item a running or paused run owns.
func (d *Daemon) guardActive(labels ...string) error {
	if d.ctrl.State() == runctl.StateIdle {
		return nil
	}
	current := d.ctrl.Current()
	if current == "" {
		return nil
	}
	for _, label := range labels {
		if queue.NormalizeLabel(label) == current {
			return fmt.Errorf("%w: %s", ErrItemActive, current)
		}
	}
	return nil
}

// Run starts draining the queue in the background.
func (d *Daemon) Run(context.Context) error {
	return d.startRun(d.ctrl.Start)
}

// Resume restarts the paused item and continues the queue.
func (d *Daemon) Resume(context.Context) error {
	return d.startRun(d.ctrl.StartResume)
}

func (d *Daemon) startRun(start func(context.Context) (<-chan error, error)) error {
	if !d.running.Load() {
		return ErrNotStarted
	}
	d.hwMu.Lock()
	defer d.hwMu.Unlock()
	if d.manualActive {
		return ErrHardwareBusy
	}
	if _, err := start(d.ctx); err != nil {
		return err
	}
	return nil
}

// Pause latches a pause request for the active run.
func (d *Daemon) Pause(context.Context) error {
	return d.ctrl.RequestPause()
}

// StopRun cancels the active run, or discards a paused one.
func (d *Daemon) StopRun(context.Context) error {
	return d.ctrl.Stop()
}

// Line runs a single-axis step scan and waits for it to finish. It is
// refused while the queue is running or the stage is in manual use.
func (d *Daemon) Line(ctx context.Context, req LineRequest) (scan.Result, *trajectory.LinePlan, error) {
	if !d.running.Load() {
		return scan.Result{}, nil, ErrNotStarted
	}
	plan, err := trajectory.PlanLine(req.Axis, req.Start, req.Stop, req.Step, req.Dwell, d.planner)
	if err != nil {
		return scan.Result{}, nil, faults.Wrap(faults.ErrValidation, "daemon", "plan line", req.Label, err)
	}

	release, err := d.claimHardware()
	if err != nil {
		return scan.Result{}, plan, err
	}
	defer release()

	for _, adj := range plan.Adjustments {
		d.metrics.Adjusted(string(adj.Axis))
	}
	res, err := d.exec.RunLine(ctx, req.Label, plan, nil)
	d.metrics.ObserveScan(string(res.Outcome), res.Duration, 0)
	return res, plan, err
}

// Runs lists recent acquisition runs, newest first.
func (d *Daemon) Runs(ctx context.Context, limit int) ([]rundocs.Run, error) {
	return d.recorder.Runs(ctx, limit)
}

// Metadata returns the persistent beamline metadata.
func (d *Daemon) Metadata(ctx context.Context) (map[string]string, error) {
	return d.recorder.Metadata(ctx)
}

// SetMetadata stores key; an empty value deletes it.
func (d *Daemon) SetMetadata(ctx context.Context, key, value string) error {
	return d.recorder.SetMetadata(ctx, key, value)
}
