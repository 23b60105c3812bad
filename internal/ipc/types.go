package ipc

import (
	"time"

	"microprobe/internal/daemon"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/rundocs"
)

// QueueItem mirrors the HTTP API queue DTO for IPC callers.
type QueueItem = daemon.QueueItem

// EnqueueRequest appends scans to the queue. All or none are added.
type EnqueueRequest struct {
	Requests []queue.ScanRequest `json:"requests"`
}

// EnqueueResponse lists the queued items.
type EnqueueResponse struct {
	Items []QueueItem `json:"items"`
}

// ImportRequest enqueues the rows of a CSV batch file. Path is resolved by
// the daemon, so clients send an absolute path.
type ImportRequest struct {
	Path string `json:"path"`
}

// ImportResponse lists the imported items.
type ImportResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueListRequest filters the queue by status. Empty means all.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse carries queue items in execution order.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// LabelRequest names one queue item.
type LabelRequest struct {
	Label string `json:"label"`
}

// RemoveResponse confirms a removal.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// MoveResponse reports whether the item moved.
type MoveResponse struct {
	Moved bool `json:"moved"`
}

// ResetRequest requeues the named items, or every item when Labels is empty.
type ResetRequest struct {
	Labels []string `json:"labels"`
}

// ResetResponse reports how many items changed status.
type ResetResponse struct {
	Updated int `json:"updated"`
}

// UpdateRequest replaces the request of a queued item. An empty
// Request.Label keeps the item's label.
type UpdateRequest struct {
	Label   string            `json:"label"`
	Request queue.ScanRequest `json:"request"`
}

// UpdateResponse returns the edited item.
type UpdateResponse struct {
	Item QueueItem `json:"item"`
}

// ClearRequest empties the queue.
type ClearRequest struct{}

// ClearResponse reports how many items were removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// RunRequest starts, pauses, resumes or stops the run controller.
type RunRequest struct{}

// RunResponse returns the run state after the request.
type RunResponse struct {
	Run runctl.Snapshot `json:"run"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and run status.
type StatusResponse struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	StartedAt    time.Time       `json:"started_at"`
	Run          runctl.Snapshot `json:"run"`
	QueueStats   map[string]int  `json:"queue_stats"`
	ActiveRunUID string          `json:"active_run_uid,omitempty"`
	QueueDBPath  string          `json:"queue_db_path"`
	LockPath     string          `json:"lock_path"`
	APIAddress   string          `json:"api_address,omitempty"`
	Stage        StageStatus     `json:"stage"`
}

// LineRequest runs a single-axis step scan.
type LineRequest struct {
	Label string  `json:"label"`
	Axis  string  `json:"axis"`
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
	Dwell float64 `json:"dwell"`
}

// LineResponse reports the outcome of a line scan and the applied geometry.
type LineResponse struct {
	Outcome     string    `json:"outcome"`
	RunUID      string    `json:"run_uid,omitempty"`
	Points      int       `json:"points"`
	Step        float64   `json:"step"`
	Positions   []float64 `json:"positions"`
	Adjustments []string  `json:"adjustments,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// StageStatus mirrors the daemon's stage and shutter readback.
type StageStatus = daemon.StageStatus

// SavedPosition is a named stage position.
type SavedPosition = queue.SavedPosition

// StageRequest reads the stage.
type StageRequest struct{}

// StageResponse carries the stage readback after a request.
type StageResponse struct {
	Stage StageStatus `json:"stage"`
}

// ShutterRequest sets the shutter. State is "open" or "close".
type ShutterRequest struct {
	State string `json:"state"`
}

// ShutterResponse reports the shutter readback.
type ShutterResponse struct {
	State string `json:"state"`
}

// MoveRequest drives the stage to absolute positions. Nil axes stay put.
type MoveRequest struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

// NudgeRequest moves one axis relative to its current position.
type NudgeRequest struct {
	Axis  string  `json:"axis"`
	Delta float64 `json:"delta"`
}

// PositionRequest names a saved position.
type PositionRequest struct {
	Name string `json:"name"`
}

// PositionResponse returns one saved position and, after a goto, the stage
// readback.
type PositionResponse struct {
	Position SavedPosition `json:"position"`
	Stage    StageStatus   `json:"stage"`
}

// PositionsRequest lists saved positions.
type PositionsRequest struct{}

// PositionsResponse carries saved positions in first-save order.
type PositionsResponse struct {
	Positions []SavedPosition `json:"positions"`
}

// RunsRequest lists recent acquisition runs.
type RunsRequest struct {
	Limit int `json:"limit"`
}

// RunsResponse carries runs newest first.
type RunsResponse struct {
	Runs []rundocs.Run `json:"runs"`
}

// MetadataRequest fetches beamline metadata.
type MetadataRequest struct{}

// MetadataResponse carries the beamline metadata.
type MetadataResponse struct {
	Values map[string]string `json:"values"`
}

// SetMetadataRequest stores one key. An empty value deletes it.
type SetMetadataRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetMetadataResponse confirms the write.
type SetMetadataResponse struct {
	Updated bool `json:"updated"`
}

// TestNotificationRequest asks the daemon to send a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was delivered.
type TestNotificationResponse struct {
	Sent bool `json:"sent"`
}
