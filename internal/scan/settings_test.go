package scan_test

import (
	"testing"
	"time"

	"microprobe/internal/config"
	"microprobe/internal/scan"
	"microprobe/internal/trajectory"
)

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.OpenSettleSeconds = 1.5
	cfg.Detector.AckTimeoutSeconds = 30
	cfg.Motion.MarkOutline = true

	settings := scan.SettingsFromConfig(&cfg)
	if settings.OpenSettle != 1500*time.Millisecond {
		t.Fatalf("open settle = %v", settings.OpenSettle)
	}
	if settings.AckTimeout != 30*time.Second || !settings.MarkOutline {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.BacklashMargin != cfg.Motion.BacklashMargin || settings.ScanOrder != cfg.Detector.ScanOrder {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

func TestPlannerSettingsDefaultsMatchPlanner(t *testing.T) {
	cfg := config.Default()
	if got, want := scan.PlannerSettings(&cfg), trajectory.DefaultSettings(); got != want {
		t.Fatalf("planner settings %+v, want %+v", got, want)
	}
}
