package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"microprobe/internal/config"
	"microprobe/internal/logging"
	"microprobe/internal/metrics"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/rundocs"
)

const defaultRunsLimit = 20

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	Run          runctl.Snapshot `json:"run"`
	QueueStats   map[string]int  `json:"queue_stats"`
	ActiveRunUID string          `json:"active_run_uid,omitempty"`
	QueueDBPath  string          `json:"queue_db_path"`
	LockFilePath string          `json:"lock_path"`
	Stage        StageStatus     `json:"stage"`
}

// QueueItem is the wire form of a queue entry.
type QueueItem struct {
	Position  int               `json:"position"`
	Label     string            `json:"label"`
	Status    string            `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
	Request   queue.ScanRequest `json:"request"`
}

// FromQueueItem converts an item at position into its wire form.
func FromQueueItem(position int, item queue.Item) QueueItem {
	return QueueItem{
		Position:  position,
		Label:     item.Label(),
		Status:    string(item.Status),
		UpdatedAt: item.UpdatedAt,
		Request:   item.Request,
	}
}

// QueueListResponse is the body of GET /api/queue.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// RunsResponse is the body of GET /api/runs.
type RunsResponse struct {
	Runs []rundocs.Run `json:"runs"`
}

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger,
		daemon: d,
	}
	srv.handler = srv.routes(cfg.Metrics.Enabled)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(withMetrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/queue", s.handleQueue)
		r.Get("/api/queue/{label}", s.handleQueueItem)
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/runs/{uid}", s.handleRun)
	})
	if withMetrics {
		r.Handle("/metrics", metrics.Handler(s.daemon.registry))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	stats := make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		stats[string(k)] = v
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		Run:          status.Run,
		QueueStats:   stats,
		ActiveRunUID: status.ActiveRunUID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Stage:        status.Stage,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(value))
			return
		}
		statuses = append(statuses, status)
	}

	all := s.daemon.queue.Items()
	items := make([]QueueItem, 0, len(all))
	for i, item := range all {
		if len(statuses) > 0 && !containsStatus(statuses, item.Status) {
			continue
		}
		items = append(items, FromQueueItem(i, item))
	}
	s.writeJSON(w, http.StatusOK, QueueListResponse{Items: items})
}

func containsStatus(statuses []queue.Status, status queue.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	index := s.daemon.queue.IndexOf(label)
	item, ok := s.daemon.queue.Get(label)
	if index < 0 || !ok {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, FromQueueItem(index, item))
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	runs, err := s.daemon.Runs(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []rundocs.Run{}
	}
	s.writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.recorder.Run(r.Context(), chi.URLParam(r, "uid"))
	if errors.Is(err, rundocs.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
