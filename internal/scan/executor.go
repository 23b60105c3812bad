package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"microprobe/internal/faults"
	"microprobe/internal/hardware"
	"microprobe/internal/logging"
	"microprobe/internal/trajectory"
)

const planName = "fly_raster"

// Executor drives the devices of one rig. It is safe to reuse across scans
// but runs one scan at a time.
type Executor struct {
	rig      hardware.Rig
	settings Settings
	logger   *slog.Logger
	progress func(Progress)
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithProgress registers a callback invoked after each completed row.
func WithProgress(fn func(Progress)) Option {
	return func(e *Executor) { e.progress = fn }
}

// WithSleeper replaces the settle timer, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor validates the rig and returns an executor bound to it.
func NewExecutor(rig hardware.Rig, settings Settings, opts ...Option) (*Executor, error) {
	if err := rig.Validate(); err != nil {
		return nil, faults.Wrap(faults.ErrConfiguration, "scan", "new executor", "", err)
	}
	e := &Executor{
		rig:      rig,
		settings: settings,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "scan")
	return e, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// areaRun carries the state shared by one scan body and its cleanup.
type areaRun struct {
	e       *Executor
	req     Request
	plan    *trajectory.Plan
	logger  *slog.Logger
	uid     string
	written map[hardware.Field]struct{}
	rows    int
	records int
}

// RunArea executes plan as a snake fly-scan. A nil checkpointer never
// suspends. The returned error is non-nil only for faults; suspension and
// cancellation are reported through Result.Outcome.
func (e *Executor) RunArea(ctx context.Context, req Request, plan *trajectory.Plan, cp Checkpointer) (res Result, err error) {
	if plan == nil || len(plan.Rows) == 0 {
		return Result{Outcome: OutcomeFailed}, faults.Wrap(faults.ErrValidation, "scan", "run area", "plan has no rows", nil)
	}
	if cp == nil {
		cp = neverSuspend{}
	}
	ctx = logging.WithScan(ctx, req.Label)
	r := &areaRun{
		e:       e,
		req:     req,
		plan:    plan,
		logger:  logging.WithContext(ctx, e.logger),
		written: make(map[hardware.Field]struct{}),
	}
	started := e.now()
	r.logger.Info("scan started",
		logging.String(logging.FieldEventType, "scan_start"),
		logging.Int("rows", len(plan.Rows)),
		logging.Int("columns", plan.X.Num),
		logging.Float64("fast_velocity", plan.FastVelocity),
		logging.Duration("estimated", plan.EstimateDuration()),
	)

	var outcome Outcome
	defer func() {
		cleanupErr := r.cleanup(ctx, outcome, err)
		if cleanupErr != nil {
			err = errors.Join(err, cleanupErr)
			outcome = OutcomeFailed
		}
		res = Result{
			Outcome:       outcome,
			RunUID:        r.uid,
			RowsCompleted: r.rows,
			Records:       r.records,
			Duration:      e.now().Sub(started),
		}
		r.finished(res, err)
	}()

	outcome, err = r.body(ctx, cp)
	return res, err
}

func (r *areaRun) body(ctx context.Context, cp Checkpointer) (outcome Outcome, err error) {
	x, y := r.plan.X, r.plan.Y
	stage := r.e.rig.Stage

	if err := r.stageMetadata(ctx); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.device(ctx, "open shutter", r.e.rig.Shutter.Open); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.move(ctx, stage.X, x.Start); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.move(ctx, stage.Y, y.Start); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.writeGeometry(ctx); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.openRun(ctx); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.e.sleep(ctx, r.e.settings.OpenSettle); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.set(ctx, hardware.CrossRef, r.uid); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.device(ctx, "stage detector", r.e.rig.Detector.Stage); err != nil {
		return r.classify(ctx, err)
	}
	if r.e.settings.MarkOutline {
		if err := r.markOutline(ctx); err != nil {
			return r.classify(ctx, err)
		}
	}

	restore, err := r.setFastVelocity(ctx)
	if err != nil {
		return r.classify(ctx, err)
	}
	defer func() {
		if restoreErr := restore(); restoreErr != nil {
			outcome = OutcomeFailed
			err = errors.Join(err, restoreErr)
		}
	}()

	if err := r.approach(ctx, stage.X, x.EdgeStart); err != nil {
		return r.classify(ctx, err)
	}
	if err := r.approach(ctx, stage.Y, y.EdgeStart); err != nil {
		return r.classify(ctx, err)
	}
	r.logger.Debug("backlash removed", logging.String(logging.FieldEventType, "backlash_removed"))

	if err := r.device(ctx, "kickoff detector", r.e.rig.Detector.Kickoff); err != nil {
		return r.classify(ctx, err)
	}
	if cp.Checkpoint(ctx) {
		return OutcomeSuspended, nil
	}
	if err := r.e.sleep(ctx, r.e.settings.KickoffSettle); err != nil {
		return r.classify(ctx, err)
	}

	for _, row := range r.plan.Rows {
		if cp.Checkpoint(ctx) {
			return OutcomeSuspended, nil
		}
		if err := r.move(ctx, stage.Y, row.Y); err != nil {
			return r.classify(ctx, err)
		}
		if err := r.move(ctx, stage.X, row.XTo); err != nil {
			return r.classify(ctx, err)
		}
		r.rows++
		r.logger.Debug("row complete", logging.Int("row_index", row.Index), logging.Float64("y", row.Y))
		if r.e.progress != nil {
			r.e.progress(Progress{Label: r.req.Label, Row: r.rows, Rows: len(r.plan.Rows)})
		}
	}
	return OutcomeCompleted, nil
}

// classify separates operator cancellation from device faults.
func (r *areaRun) classify(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}
	return OutcomeFailed, err
}

func (r *areaRun) stageMetadata(ctx context.Context) error {
	s, sc := r.req.Sample, r.req.Scan
	values := []struct {
		field hardware.Field
		value string
	}{
		{hardware.SampleInfo, s.Info},
		{hardware.SampleName, s.Name},
		{hardware.SampleOwner, s.Owner},
		{hardware.SampleSerial, s.Serial},
		{hardware.SampleType, s.Type},
		{hardware.ScanRegion, sc.Region},
		{hardware.ScanInfo, sc.Info},
		{hardware.ScanSeqNum, sc.SeqNum},
		{hardware.ScanSeqTotal, sc.SeqTotal},
	}
	for _, v := range values {
		if err := r.set(ctx, v.field, v.value); err != nil {
			return err
		}
	}
	if r.req.Group != "" {
		return r.set(ctx, hardware.Group, r.req.Group)
	}
	return nil
}

func (r *areaRun) writeGeometry(ctx context.Context) error {
	x, y := r.plan.X, r.plan.Y
	settings := r.e.settings
	values := []struct {
		field hardware.Field
		value string
	}{
		{hardware.OriginX, formatNumber(x.Start)},
		{hardware.OriginY, formatNumber(y.Start)},
		{hardware.PitchX, formatNumber(x.Pitch)},
		{hardware.PitchY, formatNumber(y.Pitch)},
		{hardware.ExtentX, strconv.Itoa(x.Num)},
		{hardware.ExtentY, strconv.Itoa(y.Num)},
		{hardware.Order, settings.ScanOrder},
		{hardware.Dwell, formatNumber(r.plan.Dwell)},
		{hardware.BeamParticle, settings.BeamParticle},
		{hardware.BeamEnergy, strconv.FormatFloat(settings.BeamEnergy, 'f', 2, 64)},
	}
	for _, v := range values {
		if err := r.set(ctx, v.field, v.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *areaRun) openRun(ctx context.Context) error {
	start := hardware.RunStart{
		PlanName: planName,
		Label:    r.req.Label,
		Metadata: r.startMetadata(),
	}
	var uid string
	err := r.device(ctx, "open run", func(c context.Context) error {
		var openErr error
		uid, openErr = r.e.rig.Runs.OpenRun(c, start)
		return openErr
	})
	if err != nil {
		return err
	}
	r.uid = uid
	r.logger = r.logger.With(logging.String(logging.FieldRunUID, uid))
	r.logger.Info("acquisition run opened", logging.String(logging.FieldEventType, "run_open"))
	return nil
}

func (r *areaRun) startMetadata() map[string]any {
	x, y := r.plan.X, r.plan.Y
	stage := r.e.rig.Stage
	md := map[string]any{
		"plan_name":  planName,
		"detectors":  []string{"detector"},
		"motors":     []string{stage.Y.Name(), stage.X.Name()},
		"shape":      []int{y.Num, x.Num},
		"num_points": x.Num * y.Num,
		"extents":    [][2]float64{{y.Start, y.Stop}, {x.Start, x.Stop}},
		"snaking":    []bool{false, true},
		"plan_args": map[string]any{
			"ystart": y.Start, "ystop": y.Stop, "ynum": y.Num, "ypitch": y.Pitch,
			"xstart": x.Start, "xstop": x.Stop, "xnum": x.Num, "xpitch": x.Pitch,
			"dwell": r.plan.Dwell,
			"group": r.req.Group,
		},
		"sample": r.req.Sample,
		"scan":   r.req.Scan,
	}
	if len(r.plan.Adjustments) > 0 {
		adjusted := make([]string, 0, len(r.plan.Adjustments))
		for _, adj := range r.plan.Adjustments {
			adjusted = append(adjusted, adj.String())
		}
		md["adjustments"] = adjusted
	}
	for k, v := range r.req.Extra {
		md[k] = v
	}
	return md
}

// markOutline traces the scan rectangle, pausing at each corner.
func (r *areaRun) markOutline(ctx context.Context) error {
	x, y := r.plan.X, r.plan.Y
	stage := r.e.rig.Stage
	dwell := r.e.settings.OutlineDwell
	steps := []struct {
		axis hardware.Axis
		pos  float64
	}{
		{stage.X, x.Start}, {stage.Y, y.Start},
		{stage.X, x.Stop}, {stage.Y, y.Stop},
		{stage.X, x.Start}, {stage.Y, y.Start},
	}
	for i, step := range steps {
		if err := r.move(ctx, step.axis, step.pos); err != nil {
			return err
		}
		if i >= 1 && i <= 3 {
			if err := r.e.sleep(ctx, dwell); err != nil {
				return err
			}
		}
	}
	return nil
}

// setFastVelocity applies the raster speed and returns a func restoring the
// previous value on a detached context.
func (r *areaRun) setFastVelocity(ctx context.Context) (func() error, error) {
	axis := r.e.rig.Stage.X
	var previous float64
	err := r.device(ctx, "read x velocity", func(c context.Context) error {
		var readErr error
		previous, readErr = axis.Velocity(c)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	err = r.device(ctx, "set x velocity", func(c context.Context) error {
		return axis.SetVelocity(c, r.plan.FastVelocity)
	})
	if err != nil {
		return nil, err
	}
	return func() error {
		return r.device(context.WithoutCancel(ctx), "restore x velocity", func(c context.Context) error {
			return axis.SetVelocity(c, previous)
		})
	}, nil
}

func (r *areaRun) finished(res Result, err error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "scan_finished"),
		logging.String("outcome", string(res.Outcome)),
		logging.Int("rows_completed", res.RowsCompleted),
		logging.Int("records", res.Records),
		logging.Duration("scan_duration", res.Duration),
	}
	if err != nil {
		attrs = append(attrs,
			logging.Error(err),
			logging.String("error_kind", faults.Kind(err)),
			logging.String(logging.FieldErrorHint, faults.Hint(err)),
		)
		logging.ErrorWithContext(r.logger, "scan failed", "scan_failed", attrs...)
		return
	}
	r.logger.Info("scan finished", logging.Args(attrs...)...)
}

func (r *areaRun) set(ctx context.Context, field hardware.Field, value string) error {
	regs := r.e.rig.Detector.Registers()
	r.written[field] = struct{}{}
	return r.device(ctx, "set "+string(field), func(c context.Context) error {
		return regs.Set(c, field, value)
	})
}

func (r *areaRun) move(ctx context.Context, axis hardware.Axis, pos float64) error {
	return r.e.device(ctx, axis.Name()+" move", func(c context.Context) error {
		return axis.Move(c, pos)
	})
}

// approach overshoots below target by the backlash margin, then moves up to it.
func (r *areaRun) approach(ctx context.Context, axis hardware.Axis, target float64) error {
	if margin := r.e.settings.BacklashMargin; margin > 0 {
		if err := r.move(ctx, axis, target-margin); err != nil {
			return err
		}
	}
	return r.move(ctx, axis, target)
}

func (r *areaRun) device(ctx context.Context, op string, fn func(context.Context) error) error {
	return r.e.device(ctx, op, fn)
}

// device bounds fn by the acknowledgement timeout and tags failures as
// hardware faults. Cancellation of ctx itself is returned unchanged.
func (e *Executor) device(ctx context.Context, op string, fn func(context.Context) error) error {
	opCtx := ctx
	if e.settings.AckTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.settings.AckTimeout)
		defer cancel()
	}
	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		err = faults.Wrap(faults.ErrTimeout, "", "", fmt.Sprintf("no acknowledgement within %s", e.settings.AckTimeout), err)
	}
	return faults.Wrap(faults.ErrHardware, "scan", op, "", err)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}
