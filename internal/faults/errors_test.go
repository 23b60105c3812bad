package faults_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"microprobe/internal/faults"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("motor stalled")
	err := faults.Wrap(faults.ErrHardware, "scan", "move x", "row 3", base)
	if !errors.Is(err, faults.ErrHardware) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"scan", "move x", "row 3", "motor stalled"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsToHardware(t *testing.T) {
	err := faults.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, faults.ErrHardware) {
		t.Fatalf("expected hardware marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindPrefersTimeout(t *testing.T) {
	timeout := faults.Wrap(faults.ErrTimeout, "detector", "kickoff", "no ack", nil)
	err := faults.Wrap(faults.ErrHardware, "scan", "kickoff", "", timeout)
	if got := faults.Kind(err); got != "timeout" {
		t.Fatalf("expected timeout kind, got %q", got)
	}
	if !errors.Is(err, faults.ErrHardware) {
		t.Fatal("expected hardware marker retained")
	}
}

func TestKindAndHint(t *testing.T) {
	if got := faults.Kind(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %q", got)
	}
	if got := faults.Kind(fmt.Errorf("plain")); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
	err := faults.Wrap(faults.ErrImport, "batch", "read", "missing columns", nil)
	if got := faults.Kind(err); got != "import" {
		t.Fatalf("expected import kind, got %q", got)
	}
	if hint := faults.Hint(err); !strings.Contains(hint, "nothing was queued") {
		t.Fatalf("unexpected hint %q", hint)
	}
}

func TestDetails(t *testing.T) {
	if d := faults.Details(nil); d != (faults.Detail{}) {
		t.Fatalf("expected zero detail, got %+v", d)
	}
	err := faults.Wrap(faults.ErrImport, "batch", "read", "missing columns", nil)
	d := faults.Details(err)
	if d.Kind != "import" || d.Hint == "" || !strings.Contains(d.Message, "missing columns") {
		t.Fatalf("unexpected detail %+v", d)
	}
}
