// Package daemonrun assembles and runs the daemon process: logger, PID file,
// queue store, run recorder, simulated rig, daemon and IPC server.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"microprobe/internal/config"
	"microprobe/internal/daemon"
	"microprobe/internal/hardware/sim"
	"microprobe/internal/ipc"
	"microprobe/internal/logging"
	"microprobe/internal/preflight"
	"microprobe/internal/queue"
	"microprobe/internal/rundocs"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the microprobe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logPath := logging.DailyLogPath(cfg.Paths.LogDir, time.Now())
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update microprobe.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, time.Now())

	for _, check := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "features depending on this check may fail during runs"),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	recorder := rundocs.NewRecorder(rundocs.NewBackend(cfg), rundocs.WithLogger(logger))
	rig := sim.NewRig(sim.Options{
		AxisSpeed: cfg.Simulator.AxisSpeed,
		TimeScale: cfg.Simulator.TimeScale,
		Runs:      recorder,
	})
	logger.Info("using simulated device rig",
		logging.String(logging.FieldEventType, "rig_selected"),
		logging.Float64("axis_speed", cfg.Simulator.AxisSpeed),
		logging.Float64("time_scale", cfg.Simulator.TimeScale),
		logging.Bool("redis_metadata", cfg.Metadata.RedisAddr != ""),
	)

	d, err := daemon.New(cfg, store, logger, rig.Devices(), recorder)
	if err != nil {
		_ = recorder.Close()
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logging.WarnWithContext(logger, "daemon shutdown incomplete", "daemon_close_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the last queue snapshot may be missing"),
			)
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("microprobe daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("socket", cfg.Paths.SocketPath),
		logging.String("api", d.Status(signalCtx).APIAddress),
	)

	<-signalCtx.Done()
	logger.Info("microprobe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "microprobe.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
