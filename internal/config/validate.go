package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMotion(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateSimulator(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateMotion() error {
	if err := ensurePositive("motion.x_resolution", c.Motion.XResolution); err != nil {
		return err
	}
	if err := ensurePositive("motion.y_resolution", c.Motion.YResolution); err != nil {
		return err
	}
	if c.Motion.AreaMinSteps < 1 {
		return errors.New("motion.area_min_steps must be at least 1")
	}
	if c.Motion.LineMinSteps < 1 {
		return errors.New("motion.line_min_steps must be at least 1")
	}
	if c.Motion.BacklashMargin < 0 || math.IsNaN(c.Motion.BacklashMargin) || math.IsInf(c.Motion.BacklashMargin, 0) {
		return errors.New("motion.backlash_margin must be a finite value >= 0")
	}
	if c.Motion.OutlineDwellSeconds < 0 || c.Motion.LineSettleSeconds < 0 {
		return errors.New("motion settle times must be >= 0")
	}
	return nil
}

func (c *Config) validateDetector() error {
	if err := ensurePositive("detector.beam_energy_ev", c.Detector.BeamEnergyEV); err != nil {
		return err
	}
	for name, value := range map[string]float64{
		"detector.open_settle_seconds":    c.Detector.OpenSettleSeconds,
		"detector.kickoff_settle_seconds": c.Detector.KickoffSettleSeconds,
		"detector.close_settle_seconds":   c.Detector.CloseSettleSeconds,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.Detector.AckTimeoutSeconds <= 0 {
		return errors.New("detector.ack_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSimulator() error {
	if err := ensurePositive("simulator.axis_speed", c.Simulator.AxisSpeed); err != nil {
		return err
	}
	if c.Simulator.TimeScale < 0 {
		return errors.New("simulator.time_scale must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositive(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return fmt.Errorf("%s must be a positive finite value", name)
	}
	return nil
}
