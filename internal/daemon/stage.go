package daemon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"microprobe/internal/faults"
	"microprobe/internal/hardware"
	"microprobe/internal/logging"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/trajectory"
)

// readbackTimeout bounds the stage and shutter reads made for status.
const readbackTimeout = 2 * time.Second

var ErrNoTarget = errors.New("move needs an x or y target")

// StageStatus is the stage and shutter readback. Error carries the first
// failed read; values it prevented are left zero.
type StageStatus struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Shutter string  `json:"shutter"`
	Error   string  `json:"error,omitempty"`
}

// MoveRequest is an absolute stage move. Nil targets leave that axis alone.
type MoveRequest struct {
	X *float64
	Y *float64
}

// Stage reads the current stage position and shutter state.
func (d *Daemon) Stage(ctx context.Context) StageStatus {
	ctx, cancel := context.WithTimeout(ctx, readbackTimeout)
	defer cancel()
	var status StageStatus
	var errs []error
	var err error
	if status.X, err = d.rig.Stage.X.Position(ctx); err != nil {
		errs = append(errs, fmt.Errorf("x position: %w", err))
	}
	if status.Y, err = d.rig.Stage.Y.Position(ctx); err != nil {
		errs = append(errs, fmt.Errorf("y position: %w", err))
	}
	state, err := d.rig.Shutter.Status(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutter: %w", err))
	}
	status.Shutter = string(state)
	if len(errs) > 0 {
		status.Error = errs[0].Error()
	}
	return status
}

// claimHardware reserves the stage and shutter for a manual operation. It is
// refused while a run is collecting or another manual operation holds them.
// A paused run does not hold the hardware.
func (d *Daemon) claimHardware() (func(), error) {
	if !d.running.Load() {
		return nil, ErrNotStarted
	}
	d.hwMu.Lock()
	defer d.hwMu.Unlock()
	if d.manualActive || d.ctrl.State() == runctl.StateRunning {
		return nil, ErrHardwareBusy
	}
	d.manualActive = true
	return func() {
		d.hwMu.Lock()
		d.manualActive = false
		d.hwMu.Unlock()
	}, nil
}

// Shutter opens or closes the beam shutter and returns the readback.
func (d *Daemon) Shutter(ctx context.Context, open bool) (hardware.ShutterState, error) {
	release, err := d.claimHardware()
	if err != nil {
		return "", err
	}
	defer release()

	op, set := "close", d.rig.Shutter.Close
	if open {
		op, set = "open", d.rig.Shutter.Open
	}
	if err := set(ctx); err != nil {
		return "", faults.Wrap(faults.ErrHardware, "shutter", op, "", err)
	}
	state, err := d.rig.Shutter.Status(ctx)
	if err != nil {
		return "", faults.Wrap(faults.ErrHardware, "shutter", "status", "", err)
	}
	d.logger.Info("shutter changed",
		logging.String(logging.FieldEventType, "shutter_"+op),
		logging.String("state", string(state)),
	)
	return state, nil
}

// Move drives the stage to absolute positions, x first.
func (d *Daemon) Move(ctx context.Context, req MoveRequest) (StageStatus, error) {
	if req.X == nil && req.Y == nil {
		return StageStatus{}, faults.Wrap(faults.ErrValidation, "stage", "move", "", ErrNoTarget)
	}
	for _, target := range []*float64{req.X, req.Y} {
		if target != nil && (math.IsNaN(*target) || math.IsInf(*target, 0)) {
			return StageStatus{}, faults.Wrap(faults.ErrValidation, "stage", "move", "", trajectory.ErrNonFinite)
		}
	}
	release, err := d.claimHardware()
	if err != nil {
		return StageStatus{}, err
	}
	defer release()
	if err := d.moveTo(ctx, req); err != nil {
		return d.Stage(ctx), err
	}
	return d.Stage(ctx), nil
}

// Nudge moves one axis by delta from its current position.
func (d *Daemon) Nudge(ctx context.Context, axis trajectory.Axis, delta float64) (StageStatus, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return StageStatus{}, faults.Wrap(faults.ErrValidation, "stage", "nudge", "", trajectory.ErrNonFinite)
	}
	motor, err := d.axis(axis)
	if err != nil {
		return StageStatus{}, faults.Wrap(faults.ErrValidation, "stage", "nudge", "", err)
	}
	release, err := d.claimHardware()
	if err != nil {
		return StageStatus{}, err
	}
	defer release()

	from, err := motor.Position(ctx)
	if err != nil {
		return d.Stage(ctx), faults.Wrap(faults.ErrHardware, "stage", "nudge", string(axis)+" position", err)
	}
	target := from + delta
	req := MoveRequest{X: &target}
	if axis == trajectory.AxisY {
		req = MoveRequest{Y: &target}
	}
	if err := d.moveTo(ctx, req); err != nil {
		return d.Stage(ctx), err
	}
	return d.Stage(ctx), nil
}

// moveTo runs the moves in req. The caller holds the hardware claim.
func (d *Daemon) moveTo(ctx context.Context, req MoveRequest) error {
	for _, step := range []struct {
		axis   trajectory.Axis
		target *float64
	}{{trajectory.AxisX, req.X}, {trajectory.AxisY, req.Y}} {
		if step.target == nil {
			continue
		}
		motor, _ := d.axis(step.axis)
		if err := motor.Move(ctx, *step.target); err != nil {
			return faults.Wrap(faults.ErrHardware, "stage", "move", fmt.Sprintf("%s to %g", step.axis, *step.target), err)
		}
		d.logger.Info("stage moved",
			logging.String(logging.FieldEventType, "stage_move"),
			logging.String("axis", string(step.axis)),
			logging.Float64("position", *step.target),
		)
	}
	return nil
}

func (d *Daemon) axis(axis trajectory.Axis) (hardware.Axis, error) {
	switch axis {
	case trajectory.AxisX:
		return d.rig.Stage.X, nil
	case trajectory.AxisY:
		return d.rig.Stage.Y, nil
	}
	return nil, fmt.Errorf("%w: %q", trajectory.ErrUnknownAxis, axis)
}

// SavePosition stores the current stage position under name, replacing any
// earlier position with that name.
func (d *Daemon) SavePosition(ctx context.Context, name string) (queue.SavedPosition, error) {
	if strings.TrimSpace(name) == "" {
		return queue.SavedPosition{}, faults.Wrap(faults.ErrValidation, "stage", "save position", "", queue.ErrEmptyPositionName)
	}
	stage := d.Stage(ctx)
	if stage.Error != "" {
		return queue.SavedPosition{}, faults.Wrap(faults.ErrHardware, "stage", "save position", stage.Error, nil)
	}
	saved, err := d.store.SavePosition(ctx, queue.SavedPosition{Name: name, X: stage.X, Y: stage.Y})
	if err != nil {
		return queue.SavedPosition{}, err
	}
	d.logger.Info("stage position saved",
		logging.String(logging.FieldEventType, "position_saved"),
		logging.String("name", saved.Name),
		logging.Float64("x", saved.X),
		logging.Float64("y", saved.Y),
	)
	return saved, nil
}

// Positions lists saved positions in the order they were first saved.
func (d *Daemon) Positions(ctx context.Context) ([]queue.SavedPosition, error) {
	return d.store.Positions(ctx)
}

// GotoPosition moves the stage to a saved position.
func (d *Daemon) GotoPosition(ctx context.Context, name string) (queue.SavedPosition, StageStatus, error) {
	pos, err := d.store.Position(ctx, name)
	if err != nil {
		return queue.SavedPosition{}, StageStatus{}, err
	}
	stage, err := d.Move(ctx, MoveRequest{X: &pos.X, Y: &pos.Y})
	return pos, stage, err
}

// RemovePosition deletes a saved position.
func (d *Daemon) RemovePosition(ctx context.Context, name string) error {
	return d.store.DeletePosition(ctx, name)
}
