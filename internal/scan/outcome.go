package scan

import (
	"context"
	"time"
)

// Outcome is how a scan body ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSuspended Outcome = "suspended"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Result summarizes one executed scan.
type Result struct {
	Outcome       Outcome
	RunUID        string
	RowsCompleted int
	Records       int
	Duration      time.Duration
}

// Checkpointer is consulted at each checkpoint; returning true requests the
// body to stop and report OutcomeSuspended.
type Checkpointer interface {
	Checkpoint(ctx context.Context) bool
}

// CheckpointFunc adapts a function to Checkpointer.
type CheckpointFunc func(ctx context.Context) bool

func (f CheckpointFunc) Checkpoint(ctx context.Context) bool { return f(ctx) }

type neverSuspend struct{}

func (neverSuspend) Checkpoint(context.Context) bool { return false }

// Progress is published after each completed row.
type Progress struct {
	Label string
	Row   int
	Rows  int
}

// SampleMetadata is written to the detector's sample registers.
type SampleMetadata struct {
	Info   string `json:"info,omitempty"`
	Name   string `json:"name,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Serial string `json:"serial,omitempty"`
	Type   string `json:"type,omitempty"`
}

// ScanMetadata is written to the detector's scan registers.
type ScanMetadata struct {
	Region   string `json:"region,omitempty"`
	Info     string `json:"info,omitempty"`
	SeqNum   string `json:"seq_num,omitempty"`
	SeqTotal string `json:"seq_total,omitempty"`
}

// Request is the non-geometric part of a scan: its label and metadata.
type Request struct {
	Label  string
	Sample SampleMetadata
	Scan   ScanMetadata
	// Group selects the detector's output file group; empty leaves it unchanged.
	Group string
	Extra map[string]any
}
