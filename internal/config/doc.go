// Package config loads, normalizes, and validates microprobe configuration data.
//
// It supplies beamline defaults (motor resolution, backlash margin, settle
// times, detector beam constants), expands user paths including tilde
// shortcuts, reads TOML files, and honours environment overrides such as
// MICROPROBE_REDIS_ADDR. The Config type centralizes every knob the daemon
// and CLI need so scan planning and execution see one consistent view.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
