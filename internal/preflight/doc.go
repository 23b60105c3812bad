// Package preflight checks that the paths and services the daemon depends on
// are usable: the state and log directories, the Redis run-document store
// and the ntfy notification topic.
//
// The daemon runs RunAll at startup and logs failures; "microprobe status"
// shows the same results. Checks for unconfigured features pass with a
// note instead of failing.
package preflight
