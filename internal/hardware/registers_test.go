package hardware_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"microprobe/internal/hardware"
)

func fullSetters(values map[hardware.Field]string) map[hardware.Field]hardware.Setter {
	setters := make(map[hardware.Field]hardware.Setter)
	for _, f := range hardware.AllFields() {
		field := f
		setters[field] = func(_ context.Context, value string) error {
			values[field] = value
			return nil
		}
	}
	return setters
}

func TestNewRegistersRequiresEveryField(t *testing.T) {
	setters := fullSetters(map[hardware.Field]string{})
	delete(setters, hardware.CrossRef)
	delete(setters, hardware.SampleOwner)

	_, err := hardware.NewRegisters(setters)
	if !errors.Is(err, hardware.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	for _, name := range []string{"crossref", "sample.owner"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %q in error %q", name, err)
		}
	}
}

func TestNewRegistersRejectsUnknownAndNil(t *testing.T) {
	setters := fullSetters(map[hardware.Field]string{})
	setters[hardware.Field("sample.colour")] = func(context.Context, string) error { return nil }
	setters[hardware.Dwell] = nil

	_, err := hardware.NewRegisters(setters)
	if !errors.Is(err, hardware.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if !errors.Is(err, hardware.ErrMissingField) || !strings.Contains(err.Error(), "dwell") {
		t.Fatalf("expected nil setter reported as missing, got %v", err)
	}
}

func TestRegistersSetAndClear(t *testing.T) {
	values := map[hardware.Field]string{}
	regs, err := hardware.NewRegisters(fullSetters(values))
	if err != nil {
		t.Fatalf("NewRegisters: %v", err)
	}
	ctx := context.Background()
	if err := regs.Set(ctx, hardware.SampleName, "Ni mesh"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if values[hardware.SampleName] != "Ni mesh" {
		t.Fatalf("unexpected value %q", values[hardware.SampleName])
	}
	if err := regs.Clear(ctx, hardware.SampleFields...); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, ok := values[hardware.SampleName]; !ok || got != "" {
		t.Fatalf("expected cleared value, got %q ok=%v", got, ok)
	}
	if err := regs.Set(ctx, hardware.Field("bogus"), "x"); !errors.Is(err, hardware.ErrUnknownField) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestClearAttemptsEveryField(t *testing.T) {
	values := map[hardware.Field]string{}
	setters := fullSetters(values)
	boom := errors.New("ioc offline")
	setters[hardware.ScanInfo] = func(context.Context, string) error { return boom }
	regs, err := hardware.NewRegisters(setters)
	if err != nil {
		t.Fatalf("NewRegisters: %v", err)
	}
	err = regs.Clear(context.Background(), hardware.ScanFields...)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined setter error, got %v", err)
	}
	if _, ok := values[hardware.ScanSeqTotal]; !ok {
		t.Fatal("expected fields after the failure to be cleared")
	}
}

func TestParseField(t *testing.T) {
	if f, ok := hardware.ParseField(" Sample.Name "); !ok || f != hardware.SampleName {
		t.Fatalf("ParseField = %q,%v", f, ok)
	}
	if _, ok := hardware.ParseField("sample.colour"); ok {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParseShutterState(t *testing.T) {
	if s, ok := hardware.ParseShutterState("OPEN"); !ok || s != hardware.ShutterOpen {
		t.Fatalf("unexpected %q %v", s, ok)
	}
	if _, ok := hardware.ParseShutterState("ajar"); ok {
		t.Fatal("expected unknown state")
	}
}

func TestRigValidate(t *testing.T) {
	err := hardware.Rig{}.Validate()
	if !errors.Is(err, hardware.ErrIncompleteRig) {
		t.Fatalf("expected ErrIncompleteRig, got %v", err)
	}
	if !strings.Contains(err.Error(), "shutter") {
		t.Fatalf("expected shutter listed, got %v", err)
	}
}
