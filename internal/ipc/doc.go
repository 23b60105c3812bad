// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// The server registers a single "Microprobe" service whose methods mirror the
// daemon's queue, run control, line scan and metadata operations. Failures
// cross the wire as strings; classified errors carry their operator hint.
package ipc
