// Package daemon coordinates the long-running microprobe process.
//
// It wires configuration, the scan queue and its SQLite snapshot, the run
// document recorder and the run controller into a single lifecycle, with a
// flock-based lock so only one process owns the stage, shutter and detector.
// The daemon exposes queue maintenance, run control and manual stage and
// shutter control to the IPC layer, and serves a read-only HTTP status API
// with Prometheus metrics.
//
// Keep orchestration here: scan sequencing belongs to internal/scan and run
// state to internal/runctl.
package daemon
