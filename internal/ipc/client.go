package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"microprobe/internal/queue"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue appends scans to the queue.
func (c *Client) Enqueue(reqs []queue.ScanRequest) (*EnqueueResponse, error) {
	return call[EnqueueResponse](c, "Enqueue", EnqueueRequest{Requests: reqs})
}

// Import enqueues the rows of a CSV batch file.
func (c *Client) Import(path string) (*ImportResponse, error) {
	return call[ImportResponse](c, "Import", ImportRequest{Path: path})
}

// List returns queue items optionally filtered by statuses.
func (c *Client) List(statuses []string) (*QueueListResponse, error) {
	return call[QueueListResponse](c, "List", QueueListRequest{Statuses: statuses})
}

// Remove deletes one queue item.
func (c *Client) Remove(label string) (*RemoveResponse, error) {
	return call[RemoveResponse](c, "Remove", LabelRequest{Label: label})
}

// MoveUp moves an item one place earlier.
func (c *Client) MoveUp(label string) (*MoveResponse, error) {
	return call[MoveResponse](c, "MoveUp", LabelRequest{Label: label})
}

// MoveDown moves an item one place later.
func (c *Client) MoveDown(label string) (*MoveResponse, error) {
	return call[MoveResponse](c, "MoveDown", LabelRequest{Label: label})
}

// Reset requeues labels, or every item when labels is empty.
func (c *Client) Reset(labels []string) (*ResetResponse, error) {
	return call[ResetResponse](c, "Reset", ResetRequest{Labels: labels})
}

// Update replaces the request of a queued item.
func (c *Client) Update(label string, req queue.ScanRequest) (*UpdateResponse, error) {
	return call[UpdateResponse](c, "Update", UpdateRequest{Label: label, Request: req})
}

// Clear empties the queue.
func (c *Client) Clear() (*ClearResponse, error) {
	return call[ClearResponse](c, "Clear", ClearRequest{})
}

// Run starts draining the queue.
func (c *Client) Run() (*RunResponse, error) {
	return call[RunResponse](c, "Run", RunRequest{})
}

// Pause requests a pause at the next checkpoint.
func (c *Client) Pause() (*RunResponse, error) {
	return call[RunResponse](c, "Pause", RunRequest{})
}

// Resume restarts the paused item and continues the queue.
func (c *Client) Resume() (*RunResponse, error) {
	return call[RunResponse](c, "Resume", RunRequest{})
}

// Stop aborts the active run.
func (c *Client) Stop() (*RunResponse, error) {
	return call[RunResponse](c, "Stop", RunRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Line runs a single-axis step scan and waits for it to finish.
func (c *Client) Line(req LineRequest) (*LineResponse, error) {
	return call[LineResponse](c, "Line", req)
}

// Stage reads the stage position and shutter state.
func (c *Client) Stage() (*StageResponse, error) {
	return call[StageResponse](c, "Stage", StageRequest{})
}

// Shutter opens or closes the shutter; state is "open" or "close".
func (c *Client) Shutter(state string) (*ShutterResponse, error) {
	return call[ShutterResponse](c, "Shutter", ShutterRequest{State: state})
}

// Move drives the stage to absolute positions.
func (c *Client) Move(req MoveRequest) (*StageResponse, error) {
	return call[StageResponse](c, "Move", req)
}

// Nudge moves one axis by delta.
func (c *Client) Nudge(axis string, delta float64) (*StageResponse, error) {
	return call[StageResponse](c, "Nudge", NudgeRequest{Axis: axis, Delta: delta})
}

// SavePosition stores the current stage position under name.
func (c *Client) SavePosition(name string) (*PositionResponse, error) {
	return call[PositionResponse](c, "SavePosition", PositionRequest{Name: name})
}

// Positions lists saved positions.
func (c *Client) Positions() (*PositionsResponse, error) {
	return call[PositionsResponse](c, "Positions", PositionsRequest{})
}

// GotoPosition moves the stage to a saved position.
func (c *Client) GotoPosition(name string) (*PositionResponse, error) {
	return call[PositionResponse](c, "GotoPosition", PositionRequest{Name: name})
}

// RemovePosition deletes a saved position.
func (c *Client) RemovePosition(name string) (*RemoveResponse, error) {
	return call[RemoveResponse](c, "RemovePosition", PositionRequest{Name: name})
}

// Runs lists recent acquisition runs.
func (c *Client) Runs(limit int) (*RunsResponse, error) {
	return call[RunsResponse](c, "Runs", RunsRequest{Limit: limit})
}

// Metadata returns the beamline metadata.
func (c *Client) Metadata() (*MetadataResponse, error) {
	return call[MetadataResponse](c, "Metadata", MetadataRequest{})
}

// SetMetadata stores key; an empty value deletes it.
func (c *Client) SetMetadata(key, value string) (*SetMetadataResponse, error) {
	return call[SetMetadataResponse](c, "SetMetadata", SetMetadataRequest{Key: key, Value: value})
}

// TestNotification sends a test notification through the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
