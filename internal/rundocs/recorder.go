package rundocs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"microprobe/internal/config"
	"microprobe/internal/hardware"
	"microprobe/internal/logging"
)

// Recorder owns the run lifecycle. At most one run is open at a time.
type Recorder struct {
	backend Backend
	logger  *slog.Logger
	newUID  func() string
	now     func() time.Time

	mu      sync.Mutex
	open    string
	records int
}

// Option customizes a Recorder.
type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a recorder writing to backend.
func NewRecorder(backend Backend, opts ...Option) *Recorder {
	r := &Recorder{backend: backend, newUID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "rundocs")
	return r
}

// NewBackend selects Redis when an address is configured and the in-process
// store otherwise.
func NewBackend(cfg *config.Config) Backend {
	md := cfg.Metadata
	if md.RedisAddr == "" {
		return NewMemoryBackend()
	}
	return NewRedisBackend(md.RedisAddr, md.RedisPassword, md.RedisDB, WithPrefix(md.KeyPrefix))
}

var _ hardware.RunRecorder = (*Recorder)(nil)

// OpenRun writes a start document merging the persistent beamline metadata
// with start.Metadata and returns the new run uid.
func (r *Recorder) OpenRun(ctx context.Context, start hardware.RunStart) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open != "" {
		return "", fmt.Errorf("%w: %s", ErrRunOpen, r.open)
	}

	beamline, err := r.backend.Metadata(ctx)
	if err != nil {
		return "", err
	}
	scanID, err := r.backend.NextScanID(ctx)
	if err != nil {
		return "", err
	}
	merged := make(map[string]any, len(beamline)+len(start.Metadata))
	for k, v := range beamline {
		merged[k] = v
	}
	for k, v := range start.Metadata {
		merged[k] = v
	}

	doc := StartDoc{
		UID:      r.newUID(),
		ScanID:   scanID,
		Time:     r.now().UTC(),
		PlanName: start.PlanName,
		Label:    start.Label,
		Metadata: merged,
	}
	if err := r.backend.PutStart(ctx, doc); err != nil {
		return "", err
	}
	r.open = doc.UID
	r.records = 0
	r.logger.Info("run opened",
		logging.String(logging.FieldEventType, "run_open"),
		logging.String(logging.FieldRunUID, doc.UID),
		logging.String(logging.FieldScanLabel, doc.Label),
		logging.Int64("scan_id", scanID),
	)
	return doc.UID, nil
}

// AddRecords appends records to the open run.
func (r *Recorder) AddRecords(ctx context.Context, uid string, records []hardware.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uid == "" || uid != r.open {
		return fmt.Errorf("%w: %s", ErrNoRun, uid)
	}
	if err := r.backend.AppendRecords(ctx, uid, records); err != nil {
		return err
	}
	r.records += len(records)
	return nil
}

// CloseRun writes the stop document. A zero NumEvents is replaced with the
// number of records appended.
func (r *Recorder) CloseRun(ctx context.Context, stop hardware.RunStop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop.UID == "" || stop.UID != r.open {
		return fmt.Errorf("%w: %s", ErrNoRun, stop.UID)
	}
	doc := StopDoc{
		UID:        stop.UID,
		Time:       r.now().UTC(),
		ExitStatus: stop.ExitStatus,
		Reason:     stop.Reason,
		NumEvents:  stop.NumEvents,
	}
	if doc.NumEvents == 0 {
		doc.NumEvents = r.records
	}
	if err := r.backend.PutStop(ctx, doc); err != nil {
		return err
	}
	r.open = ""
	r.logger.Info("run closed",
		logging.String(logging.FieldEventType, "run_close"),
		logging.String(logging.FieldRunUID, doc.UID),
		logging.String("exit_status", doc.ExitStatus),
		logging.Int("num_events", doc.NumEvents),
	)
	return nil
}

// Current returns the open run uid, or "".
func (r *Recorder) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Runs lists recent runs, newest first.
func (r *Recorder) Runs(ctx context.Context, limit int) ([]Run, error) {
	return r.backend.Runs(ctx, limit)
}

func (r *Recorder) Run(ctx context.Context, uid string) (Run, error) {
	return r.backend.Run(ctx, uid)
}

// Metadata returns the persistent beamline metadata.
func (r *Recorder) Metadata(ctx context.Context) (map[string]string, error) {
	return r.backend.Metadata(ctx)
}

// SetMetadata stores key for every subsequent run. An empty value deletes it.
func (r *Recorder) SetMetadata(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if value == "" {
		return r.backend.DeleteMetadata(ctx, key)
	}
	return r.backend.SetMetadata(ctx, key, value)
}

func (r *Recorder) Close() error {
	return r.backend.Close()
}
