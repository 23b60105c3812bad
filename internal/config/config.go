package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state directories and bind addresses.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
	SocketPath string `toml:"socket_path"`
}

// Motion contains sample stage geometry and motion settings.
type Motion struct {
	XResolution    float64 `toml:"x_resolution"`
	YResolution    float64 `toml:"y_resolution"`
	AreaMinSteps   int     `toml:"area_min_steps"`
	LineMinSteps   int     `toml:"line_min_steps"`
	BacklashMargin float64 `toml:"backlash_margin"`
	// MarkOutline traces the scan rectangle with the shutter open before the raster.
	MarkOutline         bool    `toml:"mark_outline"`
	OutlineDwellSeconds float64 `toml:"outline_dwell_seconds"`
	LineSettleSeconds   float64 `toml:"line_settle_seconds"`
}

// Detector contains acquisition constants and device wait budgets.
type Detector struct {
	BeamParticle         string  `toml:"beam_particle"`
	BeamEnergyEV         float64 `toml:"beam_energy_ev"`
	ScanOrder            string  `toml:"scan_order"`
	OpenSettleSeconds    float64 `toml:"open_settle_seconds"`
	KickoffSettleSeconds float64 `toml:"kickoff_settle_seconds"`
	CloseSettleSeconds   float64 `toml:"close_settle_seconds"`
	AckTimeoutSeconds    int     `toml:"ack_timeout_seconds"`
}

// Metadata configures the run document store. An empty RedisAddr selects the
// in-process store.
type Metadata struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisDB       int    `toml:"redis_db"`
	RedisPassword string `toml:"redis_password"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Simulator tunes the simulated device rig used when no hardware is attached.
type Simulator struct {
	AxisSpeed float64 `toml:"axis_speed"`
	// TimeScale multiplies simulated travel time; zero makes motion instantaneous.
	TimeScale float64 `toml:"time_scale"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy push notifications for run milestones.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Queue          bool   `toml:"queue"`
	Pause          bool   `toml:"pause"`
	Errors         bool   `toml:"errors"`
	// QueueMinItems suppresses queue notifications for short runs.
	QueueMinItems int `toml:"queue_min_items"`
}

// Metrics toggles the Prometheus endpoint on the daemon API.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for microprobe.
//
// Configuration sections by subsystem:
//   - Paths: state directory, logs, API bind address and IPC socket
//   - Motion: stage resolution, step minimums, backlash and outline settings
//   - Detector: beam constants, settle times and acknowledgement timeout
//   - Metadata: Redis connection for run documents
//   - Simulator: simulated device rig tuning
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus exposure
type Config struct {
	Paths         Paths         `toml:"paths"`
	Motion        Motion        `toml:"motion"`
	Detector      Detector      `toml:"detector"`
	Metadata      Metadata      `toml:"metadata"`
	Simulator     Simulator     `toml:"simulator"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/microprobe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("microprobe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite file holding queue snapshots.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "microprobed.lock")
}

// PIDPath is where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "microprobed.pid")
}

// AckTimeout bounds every blocking device acknowledgement.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Detector.AckTimeoutSeconds) * time.Second
}

// Seconds converts a fractional seconds setting to a duration.
func Seconds(value float64) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}
