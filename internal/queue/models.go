package queue

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusCollecting Status = "collecting"
	StatusComplete   Status = "complete"
)

var allStatuses = []Status{
	StatusQueued,
	StatusCollecting,
	StatusComplete,
}

var statusRank = func() map[Status]int {
	rank := make(map[Status]int, len(allStatuses))
	for i, status := range allStatuses {
		rank[status] = i
	}
	return rank
}()

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a Status, ignoring case.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusRank[status]
	return status, ok
}

// ScanRequest is one operator-entered area scan.
type ScanRequest struct {
	Label  string              `json:"label"`
	YStart float64             `json:"ystart"`
	YStop  float64             `json:"ystop"`
	YPitch float64             `json:"ypitch"`
	XStart float64             `json:"xstart"`
	XStop  float64             `json:"xstop"`
	XPitch float64             `json:"xpitch"`
	Dwell  float64             `json:"dwell"`
	Sample scan.SampleMetadata `json:"sample"`
	Scan   scan.ScanMetadata   `json:"scan"`
	Group  string              `json:"group,omitempty"`
}

// Area returns the geometric part of the request for the planner.
func (r ScanRequest) Area() trajectory.Request {
	return trajectory.Request{
		YStart: r.YStart, YStop: r.YStop, YPitch: r.YPitch,
		XStart: r.XStart, XStop: r.XStop, XPitch: r.XPitch,
		Dwell: r.Dwell,
	}
}

// Metadata returns the label and metadata part of the request for the executor.
func (r ScanRequest) Metadata() scan.Request {
	return scan.Request{Label: r.Label, Sample: r.Sample, Scan: r.Scan, Group: r.Group}
}

// Item is a queued scan request and its status.
type Item struct {
	Request   ScanRequest `json:"request"`
	Status    Status      `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (i Item) Label() string { return i.Request.Label }

// IsComplete reports whether the item has been collected.
func (i Item) IsComplete() bool { return i.Status == StatusComplete }

// NormalizeLabel trims surrounding space and applies Unicode NFC so labels
// typed on different keyboards compare equal.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// EventKind names a queue mutation.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventMoved   EventKind = "moved"
	EventUpdated EventKind = "updated"
	EventStatus  EventKind = "status"
	EventCleared EventKind = "cleared"
)

// Event is delivered to subscribers after a mutation. Index is the item's
// position after the change (its former position for EventRemoved).
type Event struct {
	Kind   EventKind
	Label  string
	Index  int
	Status Status
}
