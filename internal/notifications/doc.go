// Package notifications pushes run milestones to ntfy.
//
// The daemon publishes an Event with a Payload whenever a run starts, drains
// the queue, pauses at a checkpoint or stops on a failed scan. Each event
// family can be switched off in config.toml; with no topic configured the
// service is a no-op.
package notifications
