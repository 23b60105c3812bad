package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"microprobe/internal/config"
	"microprobe/internal/faults"
	"microprobe/internal/hardware"
	"microprobe/internal/logging"
	"microprobe/internal/metrics"
	"microprobe/internal/notifications"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/rundocs"
	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

var (
	ErrNotStarted   = errors.New("daemon not started")
	ErrHardwareBusy = errors.New("stage is in use by another scan")
)

// snapshotTimeout bounds each queue snapshot write.
const snapshotTimeout = 10 * time.Second

const notifyTimeout = 15 * time.Second

// Daemon owns the hardware and the scan queue and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	queue    *queue.ScanQueue
	recorder *rundocs.Recorder
	exec     *scan.Executor
	ctrl     *runctl.Controller
	planner  trajectory.Settings
	rig      hardware.Rig

	registry *prometheus.Registry
	metrics  *metrics.Collectors
	api      *apiServer
	notifier notifications.Service
	notifyWG sync.WaitGroup

	// runMu guards runStarted and completedAtStart, which describe the run
	// in progress.
	runMu            sync.Mutex
	runStarted       time.Time
	completedAtStart int

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	// hwMu orders run starts against manual stage use: line scans, moves
	// and shutter control.
	hwMu         sync.Mutex
	manualActive bool

	saveMu      sync.Mutex
	unsubscribe []func()
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	Run          runctl.Snapshot
	QueueStats   map[queue.Status]int
	QueueDBPath  string
	LockFilePath string
	APIAddress   string
	ActiveRunUID string
	Stage        StageStatus
}

// New restores the queue from store and wires the controller over rig.
// recorder must be the run recorder rig reports to.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, rig hardware.Rig, recorder *rundocs.Recorder) (*Daemon, error) {
	if cfg == nil || store == nil || recorder == nil {
		return nil, errors.New("daemon requires config, store, and run recorder")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	saved, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	q, err := queue.Restore(saved)
	if err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc, err := metrics.NewCollectors(registry)
	if err != nil {
		return nil, err
	}

	exec, err := scan.NewExecutor(rig, scan.SettingsFromConfig(cfg), scan.WithLogger(logger))
	if err != nil {
		return nil, faults.Wrap(faults.ErrConfiguration, "daemon", "build executor", "", err)
	}
	planner := scan.PlannerSettings(cfg)
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		queue:    q,
		recorder: recorder,
		exec:     exec,
		planner:  planner,
		rig:      rig,
		ctrl:     runctl.New(q, planner, exec, runctl.WithLogger(logger), runctl.WithMetrics(mc)),
		registry: registry,
		metrics:  mc,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.unsubscribe = append(d.unsubscribe,
		q.Subscribe(d.onQueueEvent),
		d.ctrl.Subscribe(d.onRunState),
	)
	d.publishQueueStats()

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api

	logger.Info("queue restored",
		logging.String(logging.FieldEventType, "queue_restored"),
		logging.Int("items", q.Len()),
		logging.String("queue_db", store.Path()),
	)
	return d, nil
}

// Start acquires the daemon lock and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another microprobe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("microprobe daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop halts any active run, stops the API and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.ctrl.State() != runctl.StateIdle {
		if err := d.ctrl.Stop(); err != nil && !errors.Is(err, runctl.ErrNotRunning) {
			d.logger.Warn("failed to stop active run",
				logging.Error(err),
				logging.String(logging.FieldEventType, "run_stop_failed"),
				logging.String(logging.FieldImpact, "the in-flight scan may not have cleaned up"),
				logging.String(logging.FieldErrorHint, "check shutter and detector state before the next run"),
			)
		}
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("microprobe daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon. The queue is saved one last
// time before the store closes.
func (d *Daemon) Close() error {
	d.Stop()
	for _, unsubscribe := range d.unsubscribe {
		unsubscribe()
	}
	d.unsubscribe = nil
	d.notifyWG.Wait()
	saveErr := d.saveSnapshot()
	return errors.Join(saveErr, d.recorder.Close(), d.store.Close())
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Registry exposes the daemon's Prometheus registry.
func (d *Daemon) Registry() *prometheus.Registry { return d.registry }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats := make(map[queue.Status]int, len(queue.AllStatuses()))
	for _, item := range d.queue.Items() {
		stats[item.Status]++
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		Run:          d.ctrl.Snapshot(),
		QueueStats:   stats,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
		ActiveRunUID: d.recorder.Current(),
		Stage:        d.Stage(ctx),
	}
}

func (d *Daemon) onQueueEvent(evt queue.Event) {
	d.logger.Debug("queue changed",
		logging.String(logging.FieldEventType, "queue_"+string(evt.Kind)),
		logging.String(logging.FieldScanLabel, evt.Label),
		logging.Int("index", evt.Index),
		logging.String("status", string(evt.Status)),
	)
	if err := d.saveSnapshot(); err != nil {
		logging.WarnWithContext(d.logger, "queue snapshot failed", "queue_snapshot_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "queue changes since the last snapshot are lost on restart"),
			logging.String(logging.FieldErrorHint, "check free space and permissions for "+d.store.Path()),
		)
	}
	d.publishQueueStats()
}

// saveSnapshot writes the current queue. Items are read under saveMu so the
// last write always reflects the latest state.
func (d *Daemon) saveSnapshot() error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	return d.store.Save(ctx, d.queue.Items())
}

func (d *Daemon) publishQueueStats() {
	counts := map[string]int{}
	for _, item := range d.queue.Items() {
		counts[string(item.Status)]++
	}
	names := make([]string, 0, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		names = append(names, string(status))
	}
	d.metrics.SetQueue(counts, names)
}

func (d *Daemon) onRunState(evt runctl.StateEvent) {
	switch evt.To {
	case runctl.StateRunning:
		complete, pending := d.queueProgress()
		d.runMu.Lock()
		d.runStarted = evt.Time
		d.completedAtStart = complete
		d.runMu.Unlock()
		d.notify(notifications.EventQueueStarted, notifications.Payload{"count": pending})
	case runctl.StatePaused:
		if evt.From == runctl.StateRunning {
			d.notify(notifications.EventRunPaused, notifications.Payload{"label": evt.Label})
		}
	case runctl.StateIdle:
		if evt.Err != nil {
			logging.ErrorWithContext(d.logger, "run aborted", "run_aborted",
				logging.String(logging.FieldScanLabel, evt.Label),
				logging.Error(evt.Err),
				logging.String("error_kind", faults.Kind(evt.Err)),
				logging.String(logging.FieldErrorHint, faults.Hint(evt.Err)),
				logging.String(logging.FieldImpact, "the failed scan stays collecting and is retried by the next run"),
			)
			d.notify(notifications.EventScanFailed, notifications.Payload{
				"label": evt.Label,
				"error": evt.Err,
				"hint":  faults.Hint(evt.Err),
			})
			return
		}
		// Stopped runs leave work behind and are not reported as complete.
		if complete, pending := d.queueProgress(); evt.From == runctl.StateRunning && pending == 0 {
			d.runMu.Lock()
			collected, elapsed := complete-d.completedAtStart, evt.Time.Sub(d.runStarted)
			d.runMu.Unlock()
			d.notify(notifications.EventQueueCompleted, notifications.Payload{
				"completed": collected,
				"duration":  elapsed,
			})
		}
	}
}

func (d *Daemon) queueProgress() (complete, pending int) {
	for _, item := range d.queue.Items() {
		if item.Status == queue.StatusComplete {
			complete++
		} else {
			pending++
		}
	}
	return complete, pending
}

// notify publishes in the background; observers must not block on the network.
func (d *Daemon) notify(event notifications.Event, payload notifications.Payload) {
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "operators were not alerted"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}

// TestNotification sends a test message synchronously.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return faults.Wrap(faults.ErrConfiguration, "daemon", "test notification", "notifications.ntfy_topic is not set", nil)
	}
	return d.notifier.Publish(ctx, notifications.EventTest, nil)
}
