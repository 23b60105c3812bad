// Package logging assembles structured slog loggers and formatting helpers used
// across microprobe components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scan and controller code can
// tag log lines with the scan label and acquisition run id. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
