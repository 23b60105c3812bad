// Package runctl drives queued scans through the executor and owns the
// operator-facing run state: idle, running or paused.
//
// Pause requests are latched and honored at the next checkpoint of the
// scan in flight, or between scans. Resuming restarts the interrupted scan
// from its beginning; the checkpoint marks a safe stopping point, not a row
// to continue from.
package runctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"microprobe/internal/faults"
	"microprobe/internal/logging"
	"microprobe/internal/metrics"
	"microprobe/internal/queue"
	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

// State is the controller's run state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

var allStates = []State{StateIdle, StateRunning, StatePaused}

func stateNames() []string {
	names := make([]string, len(allStates))
	for i, s := range allStates {
		names[i] = string(s)
	}
	return names
}

var (
	ErrBusy       = errors.New("run already in progress")
	ErrNotPaused  = errors.New("run is not paused")
	ErrNotRunning = errors.New("run is not active")
)

// ScanRunner executes one planned area scan.
type ScanRunner interface {
	RunArea(ctx context.Context, req scan.Request, plan *trajectory.Plan, cp scan.Checkpointer) (scan.Result, error)
}

// StateEvent is published on every state transition.
type StateEvent struct {
	From  State
	To    State
	Label string
	Err   error
	Time  time.Time
}

// Snapshot describes the controller for status displays.
type Snapshot struct {
	State     State     `json:"state"`
	Current   string    `json:"current,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Controller pulls items from a queue and runs them one at a time.
type Controller struct {
	queue   *queue.ScanQueue
	planner trajectory.Settings
	exec    ScanRunner
	logger  *slog.Logger
	metrics *metrics.Collectors
	now     func() time.Time

	pause atomic.Bool

	mu        sync.Mutex
	state     State
	since     time.Time
	current   string
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}
	observers map[int]func(StateEvent)
	nextObs   int
}

// Option customizes a Controller.
type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics publishes run state and scan outcomes to m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Controller) { c.metrics = m }
}

// New returns an idle controller. The controller holds q by reference and
// resolves items through it by label.
func New(q *queue.ScanQueue, planner trajectory.Settings, exec ScanRunner, opts ...Option) *Controller {
	c := &Controller{
		queue:     q,
		planner:   planner,
		exec:      exec,
		now:       time.Now,
		state:     StateIdle,
		observers: map[int]func(StateEvent){},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "runctl")
	c.since = c.now()
	c.metrics.SetRunState(string(StateIdle), stateNames())
	return c
}

// Run drains the queue in order, skipping complete items. It returns when
// the queue is empty, the run is paused or stopped, or a scan fails; a
// failure leaves the failing item collecting so a later Run retries it.
func (c *Controller) Run(ctx context.Context) error {
	done, err := c.Start(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// Start is Run without waiting. The returned channel yields the run's result.
func (c *Controller) Start(ctx context.Context) (<-chan error, error) {
	return c.start(ctx, StateIdle, ErrBusy)
}

// Resume continues a paused run, restarting the interrupted item.
func (c *Controller) Resume(ctx context.Context) error {
	done, err := c.StartResume(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// StartResume is Resume without waiting.
func (c *Controller) StartResume(ctx context.Context) (<-chan error, error) {
	return c.start(ctx, StatePaused, ErrNotPaused)
}

func (c *Controller) start(ctx context.Context, from State, wrong error) (<-chan error, error) {
	c.mu.Lock()
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", wrong, state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.lastErr = nil
	c.pause.Store(false)
	evt := c.transitionLocked(StateRunning, c.current, nil)
	done := c.done
	c.mu.Unlock()
	c.publish(evt)

	result := make(chan error, 1)
	go func() {
		defer close(done)
		defer cancel()
		result <- c.loop(runCtx)
	}()
	return result, nil
}

// RequestPause latches a pause request. The run pauses at the next
// checkpoint; until then State stays running.
func (c *Controller) RequestPause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return fmt.Errorf("%w (state %s)", ErrNotRunning, c.state)
	}
	c.pause.Store(true)
	c.logger.Info("pause requested",
		logging.String(logging.FieldEventType, "pause_requested"),
		logging.String(logging.FieldScanLabel, c.current),
	)
	return nil
}

// PauseRequested reports whether a pause is latched.
func (c *Controller) PauseRequested() bool { return c.pause.Load() }

// Stop ends the run. A running scan is cancelled and Stop waits for its
// cleanup; a paused run returns to idle. The interrupted item keeps its
// non-complete status. Stop must not be called from a subscriber.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StatePaused:
		label := c.current
		c.current = ""
		evt := c.transitionLocked(StateIdle, label, nil)
		c.mu.Unlock()
		c.publish(evt)
		return nil
	case StateRunning:
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		cancel()
		<-done
		return nil
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotRunning, state)
	}
}

// State returns the current run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the label of the item in flight or interrupted by a pause.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Snapshot returns the state, current item and last failure.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state, Current: c.current, Since: c.since}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// Subscribe registers fn for every state transition and returns a func
// that removes it. Callbacks run synchronously and must not block.
func (c *Controller) Subscribe(fn func(StateEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) transitionLocked(to State, label string, err error) StateEvent {
	evt := StateEvent{From: c.state, To: to, Label: label, Err: err, Time: c.now()}
	c.state = to
	c.since = evt.Time
	return evt
}

func (c *Controller) publish(evt StateEvent) {
	c.metrics.SetRunState(string(evt.To), stateNames())
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_state"),
		logging.String(logging.FieldRunState, string(evt.To)),
		logging.String("from", string(evt.From)),
	}
	if evt.Label != "" {
		attrs = append(attrs, logging.String(logging.FieldScanLabel, evt.Label))
	}
	if evt.Err != nil {
		attrs = append(attrs, logging.Error(evt.Err))
	}
	c.logger.Info("run state changed", logging.Args(attrs...)...)

	c.mu.Lock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]func(StateEvent), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(evt)
	}
}

// finish moves to a terminal state for this loop and records err.
func (c *Controller) finish(to State, label string, err error) {
	c.mu.Lock()
	if to == StateIdle {
		c.current = ""
	} else {
		c.current = label
	}
	c.lastErr = err
	evt := c.transitionLocked(to, label, err)
	c.mu.Unlock()
	c.publish(evt)
}

func (c *Controller) setCurrent(label string) {
	c.mu.Lock()
	c.current = label
	c.mu.Unlock()
}

func (c *Controller) loop(ctx context.Context) error {
	// A stop that lands after a pause request wins: a cancelled body must not
	// report itself suspended.
	checkpoint := scan.CheckpointFunc(func(cpCtx context.Context) bool {
		return cpCtx.Err() == nil && c.pause.Load()
	})
	for {
		if ctx.Err() != nil {
			c.finish(StateIdle, "", nil)
			return nil
		}
		if c.pause.Load() {
			c.finish(StatePaused, "", nil)
			return nil
		}
		item, ok := c.queue.Next()
		if !ok {
			c.logger.Info("queue drained", logging.String(logging.FieldEventType, "queue_drained"))
			c.finish(StateIdle, "", nil)
			return nil
		}
		label := item.Label()
		c.setCurrent(label)

		plan, err := c.plan(ctx, item)
		if err != nil {
			c.finish(StateIdle, label, err)
			return err
		}
		if err := c.queue.SetStatus(label, queue.StatusCollecting); err != nil {
			c.finish(StateIdle, label, err)
			return err
		}

		res, err := c.exec.RunArea(ctx, item.Request.Metadata(), plan, checkpoint)
		c.metrics.ObserveScan(string(res.Outcome), res.Duration, res.RowsCompleted)
		if err != nil {
			c.finish(StateIdle, label, err)
			return err
		}

		switch res.Outcome {
		case scan.OutcomeCompleted:
			if err := c.queue.SetStatus(label, queue.StatusComplete); err != nil {
				logging.WarnWithContext(c.logger, "completed scan no longer queued", "queue_status_lost",
					logging.String(logging.FieldScanLabel, label),
					logging.Error(err),
				)
			}
		case scan.OutcomeSuspended:
			if ctx.Err() != nil {
				c.finish(StateIdle, label, nil)
				return nil
			}
			c.finish(StatePaused, label, nil)
			return nil
		case scan.OutcomeCancelled:
			c.finish(StateIdle, label, nil)
			return nil
		default:
			err := faults.Wrap(faults.ErrHardware, "runctl", "run", fmt.Sprintf("scan %s ended %s", label, res.Outcome), nil)
			c.finish(StateIdle, label, err)
			return err
		}
	}
}

// plan builds the trajectory for item and reports every adjustment.
func (c *Controller) plan(ctx context.Context, item queue.Item) (*trajectory.Plan, error) {
	plan, err := trajectory.PlanArea(item.Request.Area(), c.planner)
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "runctl", "plan", item.Label(), err)
	}
	logger := logging.WithContext(logging.WithScan(ctx, item.Label()), c.logger)
	for _, adj := range plan.Adjustments {
		c.metrics.Adjusted(string(adj.Axis))
		logging.WarnWithContext(logger, "scan geometry adjusted", "quantization_adjusted",
			logging.String("axis", string(adj.Axis)),
			logging.String("adjustment", adj.String()),
			logging.String(logging.FieldImpact, "scan covers the adjusted geometry"),
		)
	}
	return plan, nil
}
