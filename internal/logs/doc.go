// Package logs reads the daemon's log files for the CLI: the last N lines,
// follow mode from a byte offset, and per-scan or per-level filtering that
// understands both the console and JSON log formats.
package logs
