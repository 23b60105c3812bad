// Package testsupport builds configs, stores and simulated rigs for tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"microprobe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Settle times are zeroed so scans against the simulator finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "state", "microprobe.sock")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Motion.OutlineDwellSeconds = 0
	cfgVal.Motion.LineSettleSeconds = 0
	cfgVal.Detector.OpenSettleSeconds = 0
	cfgVal.Detector.KickoffSettleSeconds = 0
	cfgVal.Detector.CloseSettleSeconds = 0
	cfgVal.Detector.AckTimeoutSeconds = 5

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRedis points run documents at addr.
func WithRedis(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metadata.RedisAddr = addr
	}
}

// WithSimulatorTimeScale makes simulated motion take real time.
func WithSimulatorTimeScale(scale float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Simulator.TimeScale = scale
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
