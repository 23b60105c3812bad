// Package faults classifies failures raised while planning and executing
// scans so callers can decide between aborting a run, rejecting input, and
// reporting a configuration problem.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHardware      = errors.New("hardware fault")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrImport        = errors.New("import error")
	ErrInterrupted   = errors.New("interrupted")
)

var markers = []struct {
	err  error
	kind string
	hint string
}{
	{ErrTimeout, "timeout", "device did not acknowledge in time; check IOC connectivity"},
	{ErrHardware, "hardware", "inspect stage, shutter and detector status before rerunning"},
	{ErrValidation, "validation", "correct the scan request and resubmit"},
	{ErrConfiguration, "configuration", "fix the config file and restart the daemon"},
	{ErrImport, "import", "fix the batch file; nothing was queued"},
	{ErrInterrupted, "interrupted", "resume or rerun the queue"},
}

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrHardware
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind reports the first marker matched by err, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return "unknown"
}

// Hint returns an operator-facing next step for err.
func Hint(err error) string {
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.hint
		}
	}
	return "check logs for details"
}

// Detail is the structured form of a classified error, used in log fields
// and remote replies.
type Detail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Details extracts the kind, message and hint of err. A nil err yields the
// zero Detail.
func Details(err error) Detail {
	if err == nil {
		return Detail{}
	}
	return Detail{Kind: Kind(err), Message: err.Error(), Hint: Hint(err)}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
