package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"microprobe/internal/ipc"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/testsupport"
)

func TestPlanOutputs(t *testing.T) {
	env := setupCLITestEnv(t)
	args := append([]string{"plan", "tile"}, areaFlags...)

	out, _, err := runCLI(t, append(args, "--json"), env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan --json: %v", err)
	}
	var view planView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, out)
	}
	if view.Label != "tile" || len(view.Axes) != 2 || view.Pixels != view.Shape[0]*view.Shape[1] || view.Pixels == 0 {
		t.Fatalf("unexpected plan view %+v", view)
	}

	out, _, err = runCLI(t, append(args, "--yaml"), env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan --yaml: %v", err)
	}
	var fromYAML planView
	if err := yaml.Unmarshal([]byte(out), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if fromYAML.Pixels != view.Pixels || fromYAML.Rows != view.Rows {
		t.Fatalf("yaml plan %+v differs from json %+v", fromYAML, view)
	}

	out, _, err = runCLI(t, args, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	requireContains(t, out, "Grid:")
	requireContains(t, out, "Estimated raster time")

	if _, _, err := runCLI(t, append(args, "--json", "--yaml"), env.socketPath, env.configPath); err == nil {
		t.Fatal("--json and --yaml together should fail")
	}
}

func TestPlanRejectsBadGeometry(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"plan", "--xstop", "1", "--pitch", "0.2", "--dwell", "0"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected zero dwell to be rejected")
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, append([]string{"queue", "add", "Alpha"}, areaFlags...), env.socketPath, env.configPath); err != nil {
		t.Fatalf("queue add: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")
	requireContains(t, out, "idle")
	requireContains(t, out, "Queued")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status ipc.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.QueueStats["queued"] != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	out, _, err := runCLI(t, []string{"status"}, cfg.Paths.SocketPath, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Queue is empty")
	requireContains(t, out, "State directory")

	_, _, err = runCLI(t, []string{"queue", "list"}, cfg.Paths.SocketPath, configPath)
	if err == nil || !strings.Contains(err.Error(), "microprobe daemon start") {
		t.Fatalf("expected daemon start hint, got %v", err)
	}
}

func TestLineAndMetadata(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"line", "y", "--start", "1", "--stop", "1.6", "--step", "0.2", "--dwell", "0.1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	requireContains(t, out, "Line scan completed: 3 points")

	out, _, err = runCLI(t, []string{"md", "set", "proposal=P-7", "operator=kim"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("md set: %v", err)
	}
	requireContains(t, out, "Updated 2 keys")
	if _, _, err := runCLI(t, []string{"md", "set", "novalue"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected malformed pair to be rejected")
	}

	out, _, err = runCLI(t, []string{"md", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("md show: %v", err)
	}
	requireContains(t, out, "proposal = P-7")
}

func TestRunControlCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"resume"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("resume without a paused run should fail")
	}
	if _, _, err := runCLI(t, append([]string{"queue", "add", "Alpha"}, areaFlags...), env.socketPath, env.configPath); err != nil {
		t.Fatalf("queue add: %v", err)
	}
	out, _, err := runCLI(t, []string{"run"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Run started")

	waitFor(t, 5*time.Second, func() bool {
		return len(env.daemon.List(context.Background(), queue.StatusComplete)) == 1 &&
			env.daemon.Status(context.Background()).Run.State == runctl.StateIdle
	})
	_, _, err = runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not active") {
		t.Fatalf("stop while idle: %v", err)
	}

	out, _, err = runCLI(t, []string{"runs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, "Alpha")

	out, _, err = runCLI(t, []string{"runs", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("runs --json: %v", err)
	}
	var runs ipc.RunsResponse
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].Start.Label != "Alpha" || runs.Runs[0].Stop == nil {
		t.Fatalf("unexpected runs %+v", runs.Runs)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.toml")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"config", "init", "--path", target})
	var stdout strings.Builder
	cmd.SetOut(&stdout)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout.String(), "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetArgs([]string{"config", "init", "--path", target})
	cmd.SetOut(&strings.Builder{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}

	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[paths]")
	requireContains(t, out, env.cfg.Paths.StateDir)

	out, _, err = runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestLogsCommandFiltersByScan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.LogDir, "microprobe.log"),
		"2026-10-19 10:00:00 INFO [runctl] Scan A – run state changed\n"+
			"    - State: running\n"+
			"2026-10-19 10:00:01 ERROR [daemon] Scan B – run aborted\n")

	out, _, err := runCLI(t, []string{"logs", "--scan", "A"}, cfg.Paths.SocketPath, configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "State: running")
	if strings.Contains(out, "run aborted") {
		t.Fatalf("scan filter leaked other records: %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--level", "error", "-n", "1"}, cfg.Paths.SocketPath, configPath)
	if err != nil {
		t.Fatalf("logs --level: %v", err)
	}
	requireContains(t, out, "run aborted")

	if _, _, err := runCLI(t, []string{"logs", "--level", "loud"}, cfg.Paths.SocketPath, configPath); err == nil {
		t.Fatal("expected unknown level to be rejected")
	}
}

func TestStageShutterAndPositionCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"shutter", "open"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("shutter open: %v", err)
	}
	requireContains(t, out, "Shutter Open")
	out, _, err = runCLI(t, []string{"shutter", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("shutter status: %v", err)
	}
	requireContains(t, out, "Shutter Open")

	out, _, err = runCLI(t, []string{"stage", "move", "--x", "1.5"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stage move: %v", err)
	}
	requireContains(t, out, "1.5000 mm")
	if _, _, err := runCLI(t, []string{"stage", "move"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected a move without targets to fail")
	}
	if _, _, err := runCLI(t, []string{"stage", "nudge", "y", "--by", "-0.25"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("stage nudge: %v", err)
	}
	if y, _ := env.rig.Y.Position(context.Background()); y != -0.25 {
		t.Fatalf("y = %v after nudge, want -0.25", y)
	}

	out, _, err = runCLI(t, []string{"stage", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stage --json: %v", err)
	}
	var stage ipc.StageStatus
	if err := json.Unmarshal([]byte(out), &stage); err != nil {
		t.Fatalf("decode stage: %v", err)
	}
	if stage.X != 1.5 || stage.Y != -0.25 || stage.Shutter != "Open" {
		t.Fatalf("unexpected stage %+v", stage)
	}

	out, _, err = runCLI(t, []string{"pos", "save", "corner"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pos save: %v", err)
	}
	requireContains(t, out, "Saved corner at x=1.5000 y=-0.2500")
	if _, _, err := runCLI(t, []string{"stage", "move", "--x", "0", "--y", "0"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("stage move home: %v", err)
	}
	out, _, err = runCLI(t, []string{"pos", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pos list: %v", err)
	}
	requireContains(t, out, "corner")
	if _, _, err := runCLI(t, []string{"pos", "goto", "corner"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("pos goto: %v", err)
	}
	if x, _ := env.rig.X.Position(context.Background()); x != 1.5 {
		t.Fatalf("x = %v after goto, want 1.5", x)
	}
	out, _, err = runCLI(t, []string{"pos", "rm", "corner"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("pos rm: %v", err)
	}
	requireContains(t, out, "Removed corner")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Stage ==")
	requireContains(t, out, "[WARN] Open")
}
