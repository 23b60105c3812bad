package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"microprobe/internal/daemon"
	"microprobe/internal/faults"
	"microprobe/internal/hardware"
	"microprobe/internal/logging"
	"microprobe/internal/queue"
	"microprobe/internal/trajectory"
)

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Microprobe"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// remoteError flattens err for the wire, appending the operator hint for
// classified failures.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	detail := faults.Details(err)
	if detail.Kind == "unknown" {
		return errors.New(detail.Message)
	}
	return fmt.Errorf("%s (%s)", detail.Message, detail.Hint)
}

func toWire(items []queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, daemon.FromQueueItem(-1, item))
	}
	return out
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	items, err := s.daemon.Enqueue(s.ctx, req.Requests...)
	if err != nil {
		return remoteError(err)
	}
	resp.Items = s.positioned(items)
	return nil
}

func (s *service) Import(req ImportRequest, resp *ImportResponse) error {
	items, err := s.daemon.Import(s.ctx, req.Path)
	if err != nil {
		return remoteError(err)
	}
	resp.Items = s.positioned(items)
	return nil
}

// positioned fills in each item's current queue position.
func (s *service) positioned(items []queue.Item) []QueueItem {
	wire := toWire(items)
	all := s.daemon.List(s.ctx)
	index := make(map[string]int, len(all))
	for i, item := range all {
		index[item.Label()] = i
	}
	for i := range wire {
		if pos, ok := index[wire[i].Label]; ok {
			wire[i].Position = pos
		}
	}
	return wire
}

func (s *service) List(req QueueListRequest, resp *QueueListResponse) error {
	wanted := make(map[queue.Status]struct{}, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown status %q", raw)
		}
		wanted[status] = struct{}{}
	}
	items := s.daemon.List(s.ctx)
	resp.Items = make([]QueueItem, 0, len(items))
	for i, item := range items {
		if _, ok := wanted[item.Status]; len(wanted) > 0 && !ok {
			continue
		}
		resp.Items = append(resp.Items, daemon.FromQueueItem(i, item))
	}
	return nil
}

func (s *service) Remove(req LabelRequest, resp *RemoveResponse) error {
	if err := s.daemon.Remove(s.ctx, req.Label); err != nil {
		return remoteError(err)
	}
	resp.Removed = true
	return nil
}

func (s *service) MoveUp(req LabelRequest, resp *MoveResponse) error {
	moved, err := s.daemon.MoveUp(s.ctx, req.Label)
	resp.Moved = moved
	return remoteError(err)
}

func (s *service) MoveDown(req LabelRequest, resp *MoveResponse) error {
	moved, err := s.daemon.MoveDown(s.ctx, req.Label)
	resp.Moved = moved
	return remoteError(err)
}

func (s *service) Reset(req ResetRequest, resp *ResetResponse) error {
	updated, err := s.daemon.Reset(s.ctx, req.Labels)
	resp.Updated = updated
	if err != nil {
		return remoteError(err)
	}
	s.logger.Info("queue items reset",
		logging.String(logging.FieldEventType, "queue_reset"),
		logging.Int("updated_count", updated),
	)
	return nil
}

func (s *service) Update(req UpdateRequest, resp *UpdateResponse) error {
	item, err := s.daemon.Update(s.ctx, req.Label, req.Request)
	if err != nil {
		return remoteError(err)
	}
	resp.Item = s.positioned([]queue.Item{item})[0]
	return nil
}

func (s *service) Clear(_ ClearRequest, resp *ClearResponse) error {
	removed, err := s.daemon.Clear(s.ctx)
	if err != nil {
		return remoteError(err)
	}
	resp.Removed = removed
	s.logger.Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_clear"),
		logging.Int("removed_count", removed),
	)
	return nil
}

func (s *service) Run(_ RunRequest, resp *RunResponse) error {
	return s.control("run", s.daemon.Run, resp)
}

func (s *service) Pause(_ RunRequest, resp *RunResponse) error {
	return s.control("pause", s.daemon.Pause, resp)
}

func (s *service) Resume(_ RunRequest, resp *RunResponse) error {
	return s.control("resume", s.daemon.Resume, resp)
}

func (s *service) Stop(_ RunRequest, resp *RunResponse) error {
	return s.control("stop", s.daemon.StopRun, resp)
}

func (s *service) control(action string, fn func(context.Context) error, resp *RunResponse) error {
	s.logger.Debug("run control requested", logging.String("action", action))
	if err := fn(s.ctx); err != nil {
		return remoteError(err)
	}
	resp.Run = s.daemon.Status(s.ctx).Run
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Run = status.Run
	resp.ActiveRunUID = status.ActiveRunUID
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	resp.APIAddress = status.APIAddress
	resp.Stage = status.Stage
	resp.QueueStats = make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	return nil
}

func (s *service) Line(req LineRequest, resp *LineResponse) error {
	axis, err := trajectory.ParseAxis(req.Axis)
	if err != nil {
		return err
	}
	res, plan, err := s.daemon.Line(s.ctx, daemon.LineRequest{
		Label: req.Label,
		Axis:  axis,
		Start: req.Start,
		Stop:  req.Stop,
		Step:  req.Step,
		Dwell: req.Dwell,
	})
	if plan != nil {
		resp.Points = plan.Num
		resp.Step = plan.Step
		resp.Positions = plan.Positions
		for _, adj := range plan.Adjustments {
			resp.Adjustments = append(resp.Adjustments, adj.String())
		}
	}
	resp.Outcome = string(res.Outcome)
	resp.RunUID = res.RunUID
	resp.DurationMS = res.Duration.Milliseconds()
	return remoteError(err)
}

func (s *service) Stage(_ StageRequest, resp *StageResponse) error {
	resp.Stage = s.daemon.Stage(s.ctx)
	return nil
}

func (s *service) Shutter(req ShutterRequest, resp *ShutterResponse) error {
	state, ok := hardware.ParseShutterState(req.State)
	if !ok {
		return fmt.Errorf("unknown shutter state %q (use open or close)", req.State)
	}
	got, err := s.daemon.Shutter(s.ctx, state == hardware.ShutterOpen)
	if err != nil {
		return remoteError(err)
	}
	resp.State = string(got)
	return nil
}

func (s *service) Move(req MoveRequest, resp *StageResponse) error {
	stage, err := s.daemon.Move(s.ctx, daemon.MoveRequest{X: req.X, Y: req.Y})
	resp.Stage = stage
	return remoteError(err)
}

func (s *service) Nudge(req NudgeRequest, resp *StageResponse) error {
	axis, err := trajectory.ParseAxis(req.Axis)
	if err != nil {
		return err
	}
	stage, err := s.daemon.Nudge(s.ctx, axis, req.Delta)
	resp.Stage = stage
	return remoteError(err)
}

func (s *service) SavePosition(req PositionRequest, resp *PositionResponse) error {
	pos, err := s.daemon.SavePosition(s.ctx, req.Name)
	if err != nil {
		return remoteError(err)
	}
	resp.Position = pos
	resp.Stage = StageStatus{X: pos.X, Y: pos.Y}
	return nil
}

func (s *service) Positions(_ PositionsRequest, resp *PositionsResponse) error {
	positions, err := s.daemon.Positions(s.ctx)
	if err != nil {
		return remoteError(err)
	}
	resp.Positions = positions
	return nil
}

func (s *service) GotoPosition(req PositionRequest, resp *PositionResponse) error {
	pos, stage, err := s.daemon.GotoPosition(s.ctx, req.Name)
	resp.Position = pos
	resp.Stage = stage
	return remoteError(err)
}

func (s *service) RemovePosition(req PositionRequest, resp *RemoveResponse) error {
	if err := s.daemon.RemovePosition(s.ctx, req.Name); err != nil {
		return remoteError(err)
	}
	resp.Removed = true
	return nil
}

func (s *service) Runs(req RunsRequest, resp *RunsResponse) error {
	runs, err := s.daemon.Runs(s.ctx, req.Limit)
	if err != nil {
		return remoteError(err)
	}
	resp.Runs = runs
	return nil
}

func (s *service) Metadata(_ MetadataRequest, resp *MetadataResponse) error {
	values, err := s.daemon.Metadata(s.ctx)
	if err != nil {
		return remoteError(err)
	}
	resp.Values = values
	return nil
}

func (s *service) SetMetadata(req SetMetadataRequest, resp *SetMetadataResponse) error {
	if err := s.daemon.SetMetadata(s.ctx, req.Key, req.Value); err != nil {
		return remoteError(err)
	}
	resp.Updated = true
	s.logger.Info("beamline metadata updated",
		logging.String(logging.FieldEventType, "metadata_set"),
		logging.String("key", req.Key),
	)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		return remoteError(err)
	}
	resp.Sent = true
	return nil
}
