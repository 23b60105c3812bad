package daemon_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"microprobe/internal/batch"
	"microprobe/internal/config"
	"microprobe/internal/daemon"
	"microprobe/internal/faults"
	"microprobe/internal/hardware"
	"microprobe/internal/hardware/sim"
	"microprobe/internal/logging"
	"microprobe/internal/queue"
	"microprobe/internal/runctl"
	"microprobe/internal/rundocs"
	"microprobe/internal/scan"
	"microprobe/internal/testsupport"
	"microprobe/internal/trajectory"
)

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *sim.Rig) {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	rec := rundocs.NewRecorder(rundocs.NewMemoryBackend())
	rig := sim.NewRig(sim.Options{Runs: rec})
	d, err := daemon.New(cfg, store, logging.NewNop(), rig.Devices(), rec)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, rig
}

func startedDaemon(t *testing.T) (*daemon.Daemon, *sim.Rig) {
	t.Helper()
	d, rig := newDaemon(t, testsupport.NewConfig(t))
	t.Cleanup(func() { d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, rig
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusOf(t *testing.T, d *daemon.Daemon, label string) queue.Status {
	t.Helper()
	for _, item := range d.List(context.Background()) {
		if item.Label() == label {
			return item.Status
		}
	}
	t.Fatalf("item %s not listed", label)
	return ""
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()

	if err := d.Run(ctx); !errors.Is(err, daemon.ErrNotStarted) {
		t.Fatalf("expected run to require a started daemon, got %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.APIAddress == "" {
		t.Fatalf("expected running daemon with API, got %+v", status)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, _ := newDaemon(t, cfg)
	t.Cleanup(func() { other.Close() })
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected lock to exclude a second daemon")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock should be free after stop: %v", err)
	}
}

func TestDaemonRunDrainsQueueAndRecordsRuns(t *testing.T) {
	d, rig := startedDaemon(t)
	ctx := context.Background()
	if _, err := d.Enqueue(ctx, testsupport.Request("A"), testsupport.Request("B")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, "queue to drain", func() bool {
		return d.Status(ctx).Run.State == runctl.StateIdle && statusOf(t, d, "B") == queue.StatusComplete
	})
	if statusOf(t, d, "A") != queue.StatusComplete {
		t.Fatal("A should be complete")
	}
	runs, err := d.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Start.Label != "B" || runs[1].Start.Label != "A" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if rig.Journal.Count("shutter.close") != 2 {
		t.Fatalf("expected one cleanup per scan, journal:\n%s", rig.Journal)
	}
}

func TestDaemonQueuePersistsAcrossRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, _ := newDaemon(t, cfg)
	if _, err := first.Enqueue(ctx, testsupport.Request("A"), testsupport.Request("B"), testsupport.Request("C")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if moved, err := first.MoveUp(ctx, "C"); err != nil || !moved {
		t.Fatalf("MoveUp: moved=%v err=%v", moved, err)
	}
	if err := first.Remove(ctx, "A"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, _ := newDaemon(t, cfg)
	t.Cleanup(func() { second.Close() })
	items := second.List(ctx)
	if len(items) != 2 || items[0].Label() != "C" || items[1].Label() != "B" {
		t.Fatalf("unexpected restored queue %+v", items)
	}
}

func TestDaemonEnqueueValidation(t *testing.T) {
	d, _ := startedDaemon(t)
	ctx := context.Background()

	bad := testsupport.Request("bad")
	bad.Dwell = 0
	if _, err := d.Enqueue(ctx, testsupport.Request("ok"), bad); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(d.List(ctx)) != 0 {
		t.Fatal("a rejected batch must not queue anything")
	}
	if _, err := d.Enqueue(ctx, testsupport.Request("ok")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := d.Enqueue(ctx, testsupport.Request("ok")); !errors.Is(err, queue.ErrDuplicateLabel) {
		t.Fatalf("expected duplicate label, got %v", err)
	}
	if _, err := d.MoveDown(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDaemonImport(t *testing.T) {
	d, _ := startedDaemon(t)
	ctx := context.Background()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.csv")
	testsupport.WriteFile(t, good, "name,serial,info,xstart,xstop,ystart,ystop,pitch,dwell,type,owner\n"+
		"g1,1,,0,0.4,0,0.2,0.2,0.1,t,o\n"+
		"g2,2,,0,0.4,0,0.2,0.2,0.1,t,o\n")
	items, err := d.Import(ctx, good)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(items) != 2 || items[1].Request.Sample.Serial != "2" {
		t.Fatalf("unexpected imported items %+v", items)
	}

	missing := filepath.Join(dir, "missing.csv")
	testsupport.WriteFile(t, missing, "name,xstart\ng3,0\n")
	_, err = d.Import(ctx, missing)
	var colErr *batch.MissingColumnsError
	if !errors.As(err, &colErr) {
		t.Fatalf("expected MissingColumnsError, got %v", err)
	}
	if len(d.List(ctx)) != 2 {
		t.Fatal("failed import must not change the queue")
	}
}

func TestDaemonGuardsActiveScanAndPauses(t *testing.T) {
	d, rig := startedDaemon(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rig.Journal.OnEvent(func(evt sim.Event) {
		if evt.Name == "detector.kickoff" {
			once.Do(func() { close(entered) })
			<-release
		}
	})

	if _, err := d.Enqueue(ctx, testsupport.Request("A"), testsupport.Request("B"), testsupport.Request("C")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-entered

	if err := d.Run(ctx); !errors.Is(err, runctl.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if err := d.Remove(ctx, "A"); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected active item guard, got %v", err)
	}
	if _, err := d.Clear(ctx); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected clear to be refused, got %v", err)
	}
	if _, _, err := d.Line(ctx, daemon.LineRequest{Label: "focus", Axis: trajectory.AxisX, Start: 0, Stop: 0.6, Step: 0.2, Dwell: 0.1}); !errors.Is(err, daemon.ErrHardwareBusy) {
		t.Fatalf("expected line scan to be refused, got %v", err)
	}
	if _, err := d.MoveDown(ctx, "A"); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected active item move to be refused, got %v", err)
	}
	if _, err := d.MoveUp(ctx, "B"); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected displacing the active item to be refused, got %v", err)
	}
	if moved, err := d.MoveDown(ctx, "B"); err != nil || !moved {
		t.Fatalf("reordering pending work is allowed: moved=%v err=%v", moved, err)
	}
	x := 2.0
	if _, err := d.Move(ctx, daemon.MoveRequest{X: &x}); !errors.Is(err, daemon.ErrHardwareBusy) {
		t.Fatalf("expected stage move to be refused, got %v", err)
	}
	if _, err := d.Shutter(ctx, false); !errors.Is(err, daemon.ErrHardwareBusy) {
		t.Fatalf("expected shutter control to be refused, got %v", err)
	}
	if _, err := d.Update(ctx, "A", testsupport.Request("")); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected active item edit to be refused, got %v", err)
	}

	if err := d.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(release)
	waitFor(t, "pause", func() bool { return d.Status(ctx).Run.State == runctl.StatePaused })
	if got := d.Status(ctx).Run.Current; got != "A" {
		t.Fatalf("expected A to be interrupted, got %q", got)
	}
	if _, err := d.MoveDown(ctx, "A"); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected paused item move to be refused, got %v", err)
	}
	if err := d.Remove(ctx, "A"); !errors.Is(err, daemon.ErrItemActive) {
		t.Fatalf("expected paused item removal to be refused, got %v", err)
	}
	if got := labels(d.List(ctx)); got != "A,C,B" {
		t.Fatalf("queue order %s, want A,C,B", got)
	}
	if stage, err := d.Move(ctx, daemon.MoveRequest{X: &x}); err != nil || stage.X != 2 {
		t.Fatalf("a paused run leaves the stage free: %+v %v", stage, err)
	}

	if err := d.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "queue to drain", func() bool {
		return d.Status(ctx).Run.State == runctl.StateIdle && statusOf(t, d, "A") == queue.StatusComplete
	})
	if statusOf(t, d, "B") != queue.StatusComplete || statusOf(t, d, "C") != queue.StatusComplete {
		t.Fatal("B and C should complete after resume")
	}
}

func labels(items []queue.Item) string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Label()
	}
	return strings.Join(out, ",")
}

func TestDaemonStopPausedRun(t *testing.T) {
	d, rig := startedDaemon(t)
	ctx := context.Background()
	var paused sync.Once
	rig.Journal.OnEvent(func(evt sim.Event) {
		if evt.Name == "detector.kickoff" {
			paused.Do(func() { _ = d.Pause(ctx) })
		}
	})
	if _, err := d.Enqueue(ctx, testsupport.Request("A")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, "pause", func() bool { return d.Status(ctx).Run.State == runctl.StatePaused })

	if err := d.StopRun(ctx); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if d.Status(ctx).Run.State != runctl.StateIdle {
		t.Fatal("expected idle after stop")
	}
	if statusOf(t, d, "A") != queue.StatusCollecting {
		t.Fatal("stopped item keeps its non-complete status")
	}
	n, err := d.Reset(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("Reset: n=%d err=%v", n, err)
	}
	if statusOf(t, d, "A") != queue.StatusQueued {
		t.Fatal("reset should requeue A")
	}
}

func TestDaemonLineScanAndMetadata(t *testing.T) {
	d, rig := startedDaemon(t)
	ctx := context.Background()

	res, plan, err := d.Line(ctx, daemon.LineRequest{Label: "focus", Axis: trajectory.AxisY, Start: 1, Stop: 1.6, Step: 0.2, Dwell: 0.1})
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	if res.Outcome != scan.OutcomeCompleted || len(plan.Positions) != 3 {
		t.Fatalf("unexpected line result %+v plan %+v", res, plan)
	}
	if pos, _ := rig.Y.Position(ctx); pos != 1 {
		t.Fatalf("line scan should return to start, at %v", pos)
	}

	if err := d.SetMetadata(ctx, "beamline_id", "XFM"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	md, err := d.Metadata(ctx)
	if err != nil || md["beamline_id"] != "XFM" {
		t.Fatalf("Metadata: %v %v", md, err)
	}
}

func TestDaemonStageControls(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, rig := newDaemon(t, cfg)
	ctx := context.Background()
	if _, err := d.Shutter(ctx, true); !errors.Is(err, daemon.ErrNotStarted) {
		t.Fatalf("expected manual control to need a started daemon, got %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	state, err := d.Shutter(ctx, true)
	if err != nil || state != hardware.ShutterOpen {
		t.Fatalf("Shutter open: %q %v", state, err)
	}
	if got := d.Status(ctx).Stage.Shutter; got != "Open" {
		t.Fatalf("status shutter %q, want Open", got)
	}
	if state, err = d.Shutter(ctx, false); err != nil || state != hardware.ShutterClosed {
		t.Fatalf("Shutter close: %q %v", state, err)
	}
	if rig.Journal.Count("shutter.open") != 1 || rig.Journal.Count("shutter.close") != 1 {
		t.Fatalf("unexpected shutter events:\n%s", rig.Journal)
	}

	x, y := 3.0, -1.0
	stage, err := d.Move(ctx, daemon.MoveRequest{X: &x, Y: &y})
	if err != nil || stage.X != 3 || stage.Y != -1 || stage.Shutter != "Closed" {
		t.Fatalf("Move: %+v %v", stage, err)
	}
	if rig.Journal.Index("x.move", "3") >= rig.Journal.Index("y.move", "-1") {
		t.Fatal("x should move before y")
	}
	if stage, err = d.Nudge(ctx, trajectory.AxisX, -0.5); err != nil || stage.X != 2.5 || stage.Y != -1 {
		t.Fatalf("Nudge: %+v %v", stage, err)
	}
	if _, err := d.Move(ctx, daemon.MoveRequest{}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected empty move to be rejected, got %v", err)
	}
	if _, err := d.Nudge(ctx, trajectory.Axis("z"), 1); !errors.Is(err, trajectory.ErrUnknownAxis) {
		t.Fatalf("expected unknown axis, got %v", err)
	}

	saved, err := d.SavePosition(ctx, " edge ")
	if err != nil || saved.Name != "edge" || saved.X != 2.5 || saved.Y != -1 {
		t.Fatalf("SavePosition: %+v %v", saved, err)
	}
	if _, err := d.SavePosition(ctx, " "); !errors.Is(err, queue.ErrEmptyPositionName) {
		t.Fatalf("expected empty name to be rejected, got %v", err)
	}
	zero := 0.0
	if _, err := d.Move(ctx, daemon.MoveRequest{X: &zero, Y: &zero}); err != nil {
		t.Fatalf("Move home: %v", err)
	}
	pos, stage, err := d.GotoPosition(ctx, "edge")
	if err != nil || pos.Name != "edge" || stage.X != 2.5 || stage.Y != -1 {
		t.Fatalf("GotoPosition: %+v %+v %v", pos, stage, err)
	}
	if _, _, err := d.GotoPosition(ctx, "missing"); !errors.Is(err, queue.ErrPositionNotFound) {
		t.Fatalf("expected unknown position, got %v", err)
	}

	d.Close()
	reopened, _ := newDaemon(t, cfg)
	t.Cleanup(func() { reopened.Close() })
	positions, err := reopened.Positions(ctx)
	if err != nil || len(positions) != 1 || positions[0].Name != "edge" {
		t.Fatalf("saved positions should survive a restart: %+v %v", positions, err)
	}
	if err := reopened.RemovePosition(ctx, "edge"); err != nil {
		t.Fatalf("RemovePosition: %v", err)
	}
	if err := reopened.RemovePosition(ctx, "edge"); !errors.Is(err, queue.ErrPositionNotFound) {
		t.Fatalf("expected second removal to fail, got %v", err)
	}
}

func TestDaemonUpdateQueuedOnly(t *testing.T) {
	d, _ := startedDaemon(t)
	ctx := context.Background()
	if _, err := d.Enqueue(ctx, testsupport.Request("A"), testsupport.Request("B")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	req := testsupport.Request("B2")
	req.XStop = 0.8
	item, err := d.Update(ctx, "B", req)
	if err != nil || item.Label() != "B2" || item.Request.XStop != 0.8 {
		t.Fatalf("Update: %+v %v", item, err)
	}
	if got := labels(d.List(ctx)); got != "A,B2" {
		t.Fatalf("queue %s, want A,B2", got)
	}
	if _, err := d.Update(ctx, "B2", testsupport.Request("A")); !errors.Is(err, queue.ErrDuplicateLabel) {
		t.Fatalf("expected duplicate label, got %v", err)
	}
	bad := testsupport.Request("")
	bad.Dwell = 0
	if _, err := d.Update(ctx, "B2", bad); !errors.Is(err, trajectory.ErrInvalidDwell) {
		t.Fatalf("expected geometry to be validated, got %v", err)
	}

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, "queue to drain", func() bool {
		return d.Status(ctx).Run.State == runctl.StateIdle && statusOf(t, d, "B2") == queue.StatusComplete
	})
	if _, err := d.Update(ctx, "A", testsupport.Request("")); !errors.Is(err, queue.ErrNotQueued) {
		t.Fatalf("expected collected item edit to be refused, got %v", err)
	}
}
