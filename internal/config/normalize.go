package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDetector()
	c.normalizeMetadata()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeDetector() {
	c.Detector.BeamParticle = strings.ToLower(strings.TrimSpace(c.Detector.BeamParticle))
	if c.Detector.BeamParticle == "" {
		c.Detector.BeamParticle = defaultBeamParticle
	}
	c.Detector.ScanOrder = strings.TrimSpace(c.Detector.ScanOrder)
	if c.Detector.ScanOrder == "" {
		c.Detector.ScanOrder = defaultScanOrder
	}
}

func (c *Config) normalizeMetadata() {
	if value, ok := os.LookupEnv("MICROPROBE_REDIS_ADDR"); ok {
		c.Metadata.RedisAddr = value
	}
	c.Metadata.RedisAddr = strings.TrimSpace(c.Metadata.RedisAddr)
	c.Metadata.KeyPrefix = strings.Trim(strings.TrimSpace(c.Metadata.KeyPrefix), ":")
	if c.Metadata.KeyPrefix == "" {
		c.Metadata.KeyPrefix = defaultKeyPrefix
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
	if c.Notifications.QueueMinItems < 0 {
		c.Notifications.QueueMinItems = 0
	}
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("MICROPROBE_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
