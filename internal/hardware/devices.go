package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Axis is one motorised stage axis. Move blocks until motion is done.
type Axis interface {
	Name() string
	Move(ctx context.Context, position float64) error
	Position(ctx context.Context) (float64, error)
	SetVelocity(ctx context.Context, velocity float64) error
	Velocity(ctx context.Context) (float64, error)
}

// Stage is the 2-axis sample stage; X is the fast axis.
type Stage struct {
	X Axis
	Y Axis
}

// ShutterState is the readback of the beam shutter.
type ShutterState string

const (
	ShutterOpen   ShutterState = "Open"
	ShutterClosed ShutterState = "Closed"
)

// ParseShutterState converts readback text into a ShutterState.
func ParseShutterState(value string) (ShutterState, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return ShutterOpen, true
	case "closed", "close":
		return ShutterClosed, true
	}
	return "", false
}

type Shutter interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Status(ctx context.Context) (ShutterState, error)
}

// Record is one buffered detector datum drained by Collect.
type Record struct {
	Time time.Time      `json:"time"`
	Seq  int            `json:"seq"`
	Data map[string]any `json:"data"`
}

// Detector is a streaming fly-scan detector. Kickoff blocks until acquisition
// has started and Complete until it has finished. Stage and Unstage are
// idempotent.
type Detector interface {
	Stage(ctx context.Context) error
	Unstage(ctx context.Context) error
	Kickoff(ctx context.Context) error
	Complete(ctx context.Context) error
	Collect(ctx context.Context) ([]Record, error)
	Registers() *Registers
}

// RunStart is the metadata written when an acquisition run opens.
type RunStart struct {
	PlanName string         `json:"plan_name"`
	Label    string         `json:"label"`
	Metadata map[string]any `json:"metadata"`
}

// RunStop closes a run with its exit status.
type RunStop struct {
	UID        string `json:"uid"`
	ExitStatus string `json:"exit_status"`
	Reason     string `json:"reason,omitempty"`
	NumEvents  int    `json:"num_events"`
}

const (
	ExitSuccess = "success"
	ExitAbort   = "abort"
	ExitFail    = "fail"
)

// RunRecorder owns the acquisition run lifecycle and its document stream.
type RunRecorder interface {
	OpenRun(ctx context.Context, start RunStart) (string, error)
	AddRecords(ctx context.Context, uid string, records []Record) error
	CloseRun(ctx context.Context, stop RunStop) error
}

// Rig bundles the devices a scan executor owns while collecting.
type Rig struct {
	Stage    Stage
	Shutter  Shutter
	Detector Detector
	Runs     RunRecorder
}

// Validate reports the first missing device.
func (r Rig) Validate() error {
	var missing []string
	if r.Stage.X == nil {
		missing = append(missing, "stage x")
	}
	if r.Stage.Y == nil {
		missing = append(missing, "stage y")
	}
	if r.Shutter == nil {
		missing = append(missing, "shutter")
	}
	if r.Detector == nil {
		missing = append(missing, "detector")
	} else if r.Detector.Registers() == nil {
		missing = append(missing, "detector registers")
	}
	if r.Runs == nil {
		missing = append(missing, "run recorder")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteRig, strings.Join(missing, ", "))
	}
	return nil
}

var ErrIncompleteRig = errors.New("incomplete device rig")
