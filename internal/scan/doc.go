// Package scan sequences fly-scans on the beamline devices.
//
// An Executor turns a trajectory plan into an ordered device program:
// metadata staging, shutter and run lifecycle, backlash removal, kickoff and
// the snake row loop. Every exit path runs the cleanup sequence exactly once
// on a context detached from cancellation, so the shutter closes and the
// detector metadata is cleared even when the body fails or is stopped.
//
// Operator pause requests are sampled only at checkpoints and surface as an
// OutcomeSuspended result, never as an error.
package scan
