package sim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"microprobe/internal/hardware"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// Axis is a simulated motor. Travel time is distance/velocity scaled by
// timeScale; a zero scale moves instantly.
type Axis struct {
	name      string
	journal   *Journal
	timeScale float64

	mu       sync.Mutex
	position float64
	velocity float64
}

func NewAxis(name string, journal *Journal, velocity, timeScale float64) *Axis {
	return &Axis{name: name, journal: journal, velocity: velocity, timeScale: timeScale}
}

func (a *Axis) Name() string { return a.name }

func (a *Axis) Move(ctx context.Context, position float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.journal.record(a.name+".move", formatFloat(position)); err != nil {
		return err
	}
	a.mu.Lock()
	distance := math.Abs(position - a.position)
	velocity := a.velocity
	a.mu.Unlock()

	if a.timeScale > 0 && velocity > 0 {
		travel := time.Duration(distance / velocity * a.timeScale * float64(time.Second))
		timer := time.NewTimer(travel)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	a.mu.Lock()
	a.position = position
	a.mu.Unlock()
	return nil
}

func (a *Axis) Position(context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, nil
}

func (a *Axis) SetVelocity(_ context.Context, velocity float64) error {
	if err := a.journal.record(a.name+".velocity", formatFloat(velocity)); err != nil {
		return err
	}
	if velocity <= 0 || math.IsNaN(velocity) || math.IsInf(velocity, 0) {
		return fmt.Errorf("%s.velocity: invalid value %v", a.name, velocity)
	}
	a.mu.Lock()
	a.velocity = velocity
	a.mu.Unlock()
	return nil
}

func (a *Axis) Velocity(context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.velocity, nil
}

// Shutter is a simulated beam shutter.
type Shutter struct {
	journal *Journal
	mu      sync.Mutex
	state   hardware.ShutterState
}

func NewShutter(journal *Journal) *Shutter {
	return &Shutter{journal: journal, state: hardware.ShutterClosed}
}

func (s *Shutter) Open(context.Context) error {
	return s.set(hardware.ShutterOpen, "shutter.open")
}

func (s *Shutter) Close(context.Context) error {
	return s.set(hardware.ShutterClosed, "shutter.close")
}

func (s *Shutter) set(state hardware.ShutterState, event string) error {
	if err := s.journal.record(event, ""); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *Shutter) Status(context.Context) (hardware.ShutterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Detector is a simulated fly-scan detector. While acquiring, every fast
// axis move buffers one record holding the stage position at sweep start.
type Detector struct {
	journal   *Journal
	registers *hardware.Registers
	stage     hardware.Stage

	mu        sync.Mutex
	staged    bool
	acquiring bool
	buffer    []hardware.Record
	seq       int
	values    map[hardware.Field]string
}

func NewDetector(journal *Journal, stage hardware.Stage) *Detector {
	d := &Detector{journal: journal, stage: stage, values: map[hardware.Field]string{}}
	setters := make(map[hardware.Field]hardware.Setter)
	for _, f := range hardware.AllFields() {
		field := f
		setters[field] = func(_ context.Context, value string) error {
			if err := journal.record("set "+string(field), value); err != nil {
				return err
			}
			d.mu.Lock()
			d.values[field] = value
			d.mu.Unlock()
			return nil
		}
	}
	regs, err := hardware.NewRegisters(setters)
	if err != nil {
		panic(err) // every field is populated above
	}
	d.registers = regs
	if stage.X != nil {
		journal.OnEvent(func(evt Event) {
			if evt.Name == stage.X.Name()+".move" {
				d.sample()
			}
		})
	}
	return d
}

func (d *Detector) sample() {
	d.mu.Lock()
	acquiring := d.acquiring
	d.mu.Unlock()
	if !acquiring {
		return
	}
	ctx := context.Background()
	x, _ := d.stage.X.Position(ctx)
	var y float64
	if d.stage.Y != nil {
		y, _ = d.stage.Y.Position(ctx)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.buffer = append(d.buffer, hardware.Record{
		Time: time.Now().UTC(),
		Seq:  d.seq,
		Data: map[string]any{"x": x, "y": y},
	})
}

func (d *Detector) Stage(context.Context) error {
	if err := d.journal.record("detector.stage", ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.staged = true
	d.mu.Unlock()
	return nil
}

func (d *Detector) Unstage(context.Context) error {
	if err := d.journal.record("detector.unstage", ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.staged = false
	d.acquiring = false
	d.mu.Unlock()
	return nil
}

func (d *Detector) Kickoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.journal.record("detector.kickoff", ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.acquiring = true
	d.mu.Unlock()
	return nil
}

func (d *Detector) Complete(context.Context) error {
	if err := d.journal.record("detector.complete", ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.acquiring = false
	d.mu.Unlock()
	return nil
}

func (d *Detector) Collect(context.Context) ([]hardware.Record, error) {
	if err := d.journal.record("detector.collect", ""); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.buffer
	d.buffer = nil
	return out, nil
}

func (d *Detector) Registers() *hardware.Registers { return d.registers }

// Value returns the last value written to field.
func (d *Detector) Value(field hardware.Field) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[field]
	return v, ok
}

// Staged reports whether the detector is currently staged.
func (d *Detector) Staged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staged
}

// Recorder is a simulated run recorder that keeps documents in memory.
type Recorder struct {
	journal *Journal
	mu      sync.Mutex
	next    int
	open    string
	records map[string][]hardware.Record
	stops   map[string]hardware.RunStop
}

func NewRecorder(journal *Journal) *Recorder {
	return &Recorder{journal: journal, records: map[string][]hardware.Record{}, stops: map[string]hardware.RunStop{}}
}

func (r *Recorder) OpenRun(_ context.Context, start hardware.RunStart) (string, error) {
	r.mu.Lock()
	if r.open != "" {
		r.mu.Unlock()
		return "", fmt.Errorf("run %s already open", r.open)
	}
	r.next++
	uid := fmt.Sprintf("sim-%04d", r.next)
	r.mu.Unlock()

	if err := r.journal.record("run.open", start.Label); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.open = uid
	r.mu.Unlock()
	return uid, nil
}

func (r *Recorder) AddRecords(_ context.Context, uid string, records []hardware.Record) error {
	if err := r.journal.record("run.records", strconv.Itoa(len(records))); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[uid] = append(r.records[uid], records...)
	return nil
}

func (r *Recorder) CloseRun(_ context.Context, stop hardware.RunStop) error {
	if err := r.journal.record("run.close", stop.ExitStatus); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open != stop.UID {
		return fmt.Errorf("run %s is not open", stop.UID)
	}
	r.open = ""
	r.stops[stop.UID] = stop
	return nil
}

// Stop returns the close document of uid.
func (r *Recorder) Stop(uid string) (hardware.RunStop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stop, ok := r.stops[uid]
	return stop, ok
}

// Records returns the records appended to uid.
func (r *Recorder) Records(uid string) []hardware.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hardware.Record(nil), r.records[uid]...)
}

// Options tunes a simulated rig.
type Options struct {
	AxisSpeed float64
	TimeScale float64
	// Runs overrides the in-memory recorder.
	Runs hardware.RunRecorder
}

// Rig is a complete simulated device set sharing one journal.
type Rig struct {
	Journal  *Journal
	X, Y     *Axis
	Shutter  *Shutter
	Detector *Detector
	Recorder *Recorder
	runs     hardware.RunRecorder
}

// NewRig wires simulated devices onto a fresh journal.
func NewRig(opts Options) *Rig {
	if opts.AxisSpeed <= 0 {
		opts.AxisSpeed = 10
	}
	journal := NewJournal()
	rig := &Rig{
		Journal: journal,
		X:       NewAxis("x", journal, opts.AxisSpeed, opts.TimeScale),
		Y:       NewAxis("y", journal, opts.AxisSpeed, opts.TimeScale),
		Shutter: NewShutter(journal),
	}
	rig.Detector = NewDetector(journal, hardware.Stage{X: rig.X, Y: rig.Y})
	rig.Recorder = NewRecorder(journal)
	rig.runs = rig.Recorder
	if opts.Runs != nil {
		rig.runs = opts.Runs
	}
	return rig
}

// Devices returns the rig as the hardware contracts.
func (r *Rig) Devices() hardware.Rig {
	return hardware.Rig{
		Stage:    hardware.Stage{X: r.X, Y: r.Y},
		Shutter:  r.Shutter,
		Detector: r.Detector,
		Runs:     r.runs,
	}
}
