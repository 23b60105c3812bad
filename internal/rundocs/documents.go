package rundocs

import (
	"context"
	"errors"
	"time"

	"microprobe/internal/hardware"
)

var (
	ErrRunOpen     = errors.New("a run is already open")
	ErrNoRun       = errors.New("no matching open run")
	ErrRunNotFound = errors.New("run not found")
	ErrEmptyKey    = errors.New("metadata key is empty")
)

// StartDoc opens a run.
type StartDoc struct {
	UID      string         `json:"uid"`
	ScanID   int64          `json:"scan_id"`
	Time     time.Time      `json:"time"`
	PlanName string         `json:"plan_name"`
	Label    string         `json:"label,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StopDoc closes a run.
type StopDoc struct {
	UID        string    `json:"uid"`
	Time       time.Time `json:"time"`
	ExitStatus string    `json:"exit_status"`
	Reason     string    `json:"reason,omitempty"`
	NumEvents  int       `json:"num_events"`
}

// Run is a start document, its stop document once closed, and the number of
// records appended.
type Run struct {
	Start   StartDoc `json:"start"`
	Stop    *StopDoc `json:"stop,omitempty"`
	Records int      `json:"records"`
}

// Open reports whether the run has no stop document yet.
func (r Run) Open() bool { return r.Stop == nil }

// Backend persists run documents and beamline metadata.
type Backend interface {
	NextScanID(ctx context.Context) (int64, error)
	PutStart(ctx context.Context, doc StartDoc) error
	AppendRecords(ctx context.Context, uid string, records []hardware.Record) error
	PutStop(ctx context.Context, doc StopDoc) error
	// Runs returns up to limit runs, newest first. A non-positive limit returns all.
	Runs(ctx context.Context, limit int) ([]Run, error)
	Run(ctx context.Context, uid string) (Run, error)
	Records(ctx context.Context, uid string) ([]hardware.Record, error)
	Metadata(ctx context.Context) (map[string]string, error)
	SetMetadata(ctx context.Context, key, value string) error
	DeleteMetadata(ctx context.Context, key string) error
	Close() error
}
