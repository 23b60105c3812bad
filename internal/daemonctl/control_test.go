package daemonctl_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"microprobe/internal/daemonctl"
	"microprobe/internal/queue"
	"microprobe/internal/testsupport"
)

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	q := testsupport.MustQueue(t, "A", "B", "C")
	if err := q.SetStatus("A", queue.StatusComplete); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := store.Save(context.Background(), q.Items()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.SocketPath, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot must not report a running daemon")
	}
	if status.QueueStats["queued"] != 2 || status.QueueStats["complete"] != 1 {
		t.Fatalf("unexpected stats %v", status.QueueStats)
	}
	if status.LockPath != cfg.LockPath() {
		t.Fatalf("lock path %q", status.LockPath)
	}
}

func TestBuildStatusSnapshotWithoutQueueFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.SocketPath, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if len(status.QueueStats) != 0 {
		t.Fatalf("expected empty stats, got %v", status.QueueStats)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.Stop(cfg.Paths.SocketPath, cfg, 100*time.Millisecond)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v %d %v", alive, pid, err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microprobed.pid")
	if pid, err := daemonctl.ReadPID(path); err != nil || pid != 0 {
		t.Fatalf("missing file: pid=%d err=%v", pid, err)
	}
	testsupport.WriteFile(t, path, "4242\n")
	if pid, err := daemonctl.ReadPID(path); err != nil || pid != 4242 {
		t.Fatalf("pid=%d err=%v", pid, err)
	}
	testsupport.WriteFile(t, path, "garbage")
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected malformed pid error")
	}
}
