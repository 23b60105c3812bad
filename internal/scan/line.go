package scan

import (
	"context"
	"errors"

	"microprobe/internal/faults"
	"microprobe/internal/logging"
	"microprobe/internal/trajectory"
)

// RunLine steps one stage axis through plan.Positions, settling at each
// point. The axis returns to the plan start and its velocity is restored on
// every exit path. The shutter and detector are not touched.
func (e *Executor) RunLine(ctx context.Context, label string, plan *trajectory.LinePlan, cp Checkpointer) (res Result, err error) {
	if plan == nil || len(plan.Positions) == 0 {
		return Result{Outcome: OutcomeFailed}, faults.Wrap(faults.ErrValidation, "scan", "run line", "plan has no points", nil)
	}
	if cp == nil {
		cp = neverSuspend{}
	}
	axis := e.rig.Stage.X
	if plan.Axis == trajectory.AxisY {
		axis = e.rig.Stage.Y
	}
	ctx = logging.WithScan(ctx, label)
	logger := logging.WithContext(ctx, e.logger)
	started := e.now()
	logger.Info("line scan started",
		logging.String(logging.FieldEventType, "line_scan_start"),
		logging.String("axis", axis.Name()),
		logging.Int("points", len(plan.Positions)),
		logging.Float64("step", plan.Step),
	)

	var previous float64
	err = e.device(ctx, "read "+axis.Name()+" velocity", func(c context.Context) error {
		var readErr error
		previous, readErr = axis.Velocity(c)
		return readErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled}, nil
		}
		return Result{Outcome: OutcomeFailed}, err
	}

	points := 0
	outcome := OutcomeCompleted
	defer func() {
		detached := context.WithoutCancel(ctx)
		cleanupErr := errors.Join(
			e.device(detached, axis.Name()+" move", func(c context.Context) error { return axis.Move(c, plan.Start) }),
			e.device(detached, "restore "+axis.Name()+" velocity", func(c context.Context) error { return axis.SetVelocity(c, previous) }),
		)
		if cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
			outcome = OutcomeFailed
		}
		res = Result{Outcome: outcome, RowsCompleted: points, Duration: e.now().Sub(started)}
		if err != nil {
			logging.ErrorWithContext(logger, "line scan failed", "line_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, faults.Hint(err)),
			)
			return
		}
		logger.Info("line scan finished",
			logging.String(logging.FieldEventType, "line_scan_finished"),
			logging.String("outcome", string(outcome)),
			logging.Int("points", points),
		)
	}()

	fail := func(stepErr error) (Result, error) {
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			return Result{}, nil
		}
		outcome = OutcomeFailed
		return Result{}, stepErr
	}

	if err := e.device(ctx, "set "+axis.Name()+" velocity", func(c context.Context) error {
		return axis.SetVelocity(c, plan.Speed)
	}); err != nil {
		return fail(err)
	}
	if err := e.device(ctx, axis.Name()+" move", func(c context.Context) error { return axis.Move(c, plan.Start) }); err != nil {
		return fail(err)
	}
	for _, pos := range plan.Positions {
		if cp.Checkpoint(ctx) {
			outcome = OutcomeSuspended
			return Result{}, nil
		}
		target := pos
		if err := e.device(ctx, axis.Name()+" move", func(c context.Context) error { return axis.Move(c, target) }); err != nil {
			return fail(err)
		}
		if err := e.sleep(ctx, e.settings.LineSettle); err != nil {
			return fail(err)
		}
		points++
		if e.progress != nil {
			e.progress(Progress{Label: label, Row: points, Rows: len(plan.Positions)})
		}
	}
	return Result{}, nil
}
