package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"microprobe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "microprobe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantState, "microprobe.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Motion.XResolution != 0.0002 || cfg.Motion.YResolution != 0.0002 {
		t.Fatalf("unexpected resolution defaults: %+v", cfg.Motion)
	}
	if cfg.Motion.AreaMinSteps != 2 || cfg.Motion.LineMinSteps != 3 {
		t.Fatalf("unexpected min steps: %+v", cfg.Motion)
	}
	if cfg.Motion.BacklashMargin != 1.0 {
		t.Fatalf("unexpected backlash margin %v", cfg.Motion.BacklashMargin)
	}
	if cfg.Detector.BeamParticle != "photon" || cfg.Detector.BeamEnergyEV != 20000 {
		t.Fatalf("unexpected beam defaults: %+v", cfg.Detector)
	}
	if cfg.Metadata.KeyPrefix != "maia" {
		t.Fatalf("unexpected key prefix %q", cfg.Metadata.KeyPrefix)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"state_dir": "~/beamline",
		},
		"motion": map[string]any{
			"x_resolution":    0.0005,
			"backlash_margin": 0.5,
		},
		"metadata": map[string]any{
			"key_prefix": ":xfm:",
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "beamline") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Motion.XResolution != 0.0005 || cfg.Motion.YResolution != 0.0002 {
		t.Fatalf("unexpected resolutions: %+v", cfg.Motion)
	}
	if cfg.Motion.BacklashMargin != 0.5 {
		t.Fatalf("unexpected backlash %v", cfg.Motion.BacklashMargin)
	}
	if cfg.Metadata.KeyPrefix != "xfm" {
		t.Fatalf("expected trimmed key prefix, got %q", cfg.Metadata.KeyPrefix)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased logging settings, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[motion]\nx_resolutoin = 0.1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to fail")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MICROPROBE_REDIS_ADDR", " 10.0.0.5:6379 ")
	t.Setenv("MICROPROBE_LOG_LEVEL", "WARN")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Metadata.RedisAddr != "10.0.0.5:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Metadata.RedisAddr)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero resolution", func(c *config.Config) { c.Motion.XResolution = 0 }, "motion.x_resolution"},
		{"negative backlash", func(c *config.Config) { c.Motion.BacklashMargin = -1 }, "motion.backlash_margin"},
		{"zero min steps", func(c *config.Config) { c.Motion.LineMinSteps = 0 }, "motion.line_min_steps"},
		{"zero ack timeout", func(c *config.Config) { c.Detector.AckTimeoutSeconds = 0 }, "detector.ack_timeout_seconds"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative settle", func(c *config.Config) { c.Detector.OpenSettleSeconds = -2 }, "detector.open_settle_seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Detector.ScanOrder != "01" {
		t.Fatalf("unexpected scan order %q", cfg.Detector.ScanOrder)
	}
}

func TestSecondsConversion(t *testing.T) {
	if got := config.Seconds(0.2); got.Milliseconds() != 200 {
		t.Fatalf("expected 200ms, got %v", got)
	}
	if got := config.Seconds(-1); got != 0 {
		t.Fatalf("expected zero for negative, got %v", got)
	}
}
