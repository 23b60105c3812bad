package scan

import (
	"context"
	"errors"

	"microprobe/internal/hardware"
	"microprobe/internal/logging"
)

// cleanup runs after every scan body. Each step is attempted even when an
// earlier one fails; the errors are joined.
func (r *areaRun) cleanup(parent context.Context, outcome Outcome, bodyErr error) error {
	ctx := context.WithoutCancel(parent)
	rig := r.e.rig
	var errs []error
	step := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	step(r.device(ctx, "complete detector", rig.Detector.Complete))
	step(r.returnToOrigin(ctx))
	step(r.device(ctx, "close shutter", rig.Shutter.Close))
	step(r.e.sleep(ctx, r.e.settings.CloseSettle))
	step(r.collect(ctx))
	if r.uid != "" {
		step(r.closeRun(ctx, outcome, bodyErr))
	}
	step(r.device(ctx, "unstage detector", rig.Detector.Unstage))
	step(r.clearMetadata(ctx))

	err := errors.Join(errs...)
	if err != nil {
		logging.ErrorWithContext(r.logger, "scan cleanup incomplete", "scan_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify shutter is closed and detector is idle before the next scan"),
		)
		return err
	}
	r.logger.Debug("scan cleanup complete", logging.String(logging.FieldEventType, "scan_cleanup"))
	return nil
}

func (r *areaRun) returnToOrigin(ctx context.Context) error {
	stage := r.e.rig.Stage
	return errors.Join(
		r.approach(ctx, stage.X, r.plan.X.Start),
		r.approach(ctx, stage.Y, r.plan.Y.Start),
	)
}

func (r *areaRun) collect(ctx context.Context) error {
	var records []hardware.Record
	err := r.device(ctx, "collect detector", func(c context.Context) error {
		var collectErr error
		records, collectErr = r.e.rig.Detector.Collect(c)
		return collectErr
	})
	if err != nil {
		return err
	}
	r.records += len(records)
	if r.uid == "" || len(records) == 0 {
		return nil
	}
	return r.device(ctx, "append records", func(c context.Context) error {
		return r.e.rig.Runs.AddRecords(c, r.uid, records)
	})
}

func (r *areaRun) closeRun(ctx context.Context, outcome Outcome, bodyErr error) error {
	stop := hardware.RunStop{UID: r.uid, NumEvents: r.records}
	switch {
	case bodyErr != nil || outcome == OutcomeFailed:
		stop.ExitStatus = hardware.ExitFail
		if bodyErr != nil {
			stop.Reason = bodyErr.Error()
		}
	case outcome == OutcomeCompleted:
		stop.ExitStatus = hardware.ExitSuccess
	default:
		stop.ExitStatus = hardware.ExitAbort
		stop.Reason = string(outcome)
	}
	return r.device(ctx, "close run", func(c context.Context) error {
		return r.e.rig.Runs.CloseRun(c, stop)
	})
}

// clearMetadata blanks every register written during staging, in field order.
func (r *areaRun) clearMetadata(ctx context.Context) error {
	if len(r.written) == 0 {
		return nil
	}
	fields := make([]hardware.Field, 0, len(r.written))
	for _, f := range hardware.AllFields() {
		if _, ok := r.written[f]; ok {
			fields = append(fields, f)
		}
	}
	regs := r.e.rig.Detector.Registers()
	return r.device(ctx, "clear metadata", func(c context.Context) error {
		return regs.Clear(c, fields...)
	})
}
