package hardware

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is a detector metadata setpoint.
type Field string

const (
	SampleInfo   Field = "sample.info"
	SampleName   Field = "sample.name"
	SampleOwner  Field = "sample.owner"
	SampleSerial Field = "sample.serial"
	SampleType   Field = "sample.type"

	ScanRegion   Field = "scan.region"
	ScanInfo     Field = "scan.info"
	ScanSeqNum   Field = "scan.seq_num"
	ScanSeqTotal Field = "scan.seq_total"

	OriginX  Field = "origin_x"
	OriginY  Field = "origin_y"
	PitchX   Field = "pitch_x"
	PitchY   Field = "pitch_y"
	ExtentX  Field = "extent_x"
	ExtentY  Field = "extent_y"
	Order    Field = "order"
	Dwell    Field = "dwell"
	CrossRef Field = "crossref"

	BeamParticle Field = "beam.particle"
	BeamEnergy   Field = "beam.energy"
	Group        Field = "group"
)

var (
	SampleFields   = []Field{SampleInfo, SampleName, SampleOwner, SampleSerial, SampleType}
	ScanFields     = []Field{ScanRegion, ScanInfo, ScanSeqNum, ScanSeqTotal}
	GeometryFields = []Field{OriginX, OriginY, PitchX, PitchY, ExtentX, ExtentY, Order, Dwell, CrossRef}
	BeamFields     = []Field{BeamParticle, BeamEnergy}
)

var allFields = func() []Field {
	out := make([]Field, 0, 21)
	out = append(out, SampleFields...)
	out = append(out, ScanFields...)
	out = append(out, GeometryFields...)
	out = append(out, BeamFields...)
	return append(out, Group)
}()

var fieldSet = func() map[Field]struct{} {
	m := make(map[Field]struct{}, len(allFields))
	for _, f := range allFields {
		m[f] = struct{}{}
	}
	return m
}()

// AllFields returns every known field in staging order.
func AllFields() []Field {
	return append([]Field(nil), allFields...)
}

// ParseField converts a string into a Field if recognized.
func ParseField(value string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(value)))
	_, ok := fieldSet[f]
	return f, ok
}

// Setter writes one metadata setpoint and waits for the device to accept it.
type Setter func(ctx context.Context, value string) error

var (
	ErrMissingField = errors.New("metadata field has no setter")
	ErrUnknownField = errors.New("unknown metadata field")
)

// Registers is the validated field to setter table of a detector.
type Registers struct {
	setters map[Field]Setter
}

// NewRegisters checks that every field has a setter and no unknown keys are present.
func NewRegisters(setters map[Field]Setter) (*Registers, error) {
	var unknown, missing []string
	for f, fn := range setters {
		if _, ok := fieldSet[f]; !ok {
			unknown = append(unknown, string(f))
			continue
		}
		if fn == nil {
			missing = append(missing, string(f))
		}
	}
	for _, f := range allFields {
		if _, ok := setters[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	var errs []error
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(unknown, ", ")))
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", ")))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	copied := make(map[Field]Setter, len(setters))
	for f, fn := range setters {
		copied[f] = fn
	}
	return &Registers{setters: copied}, nil
}

// Set writes value to field.
func (r *Registers) Set(ctx context.Context, field Field, value string) error {
	fn, ok := r.setters[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if err := fn(ctx, value); err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// Clear writes the empty string to each field, attempting all of them.
func (r *Registers) Clear(ctx context.Context, fields ...Field) error {
	var errs []error
	for _, f := range fields {
		if err := r.Set(ctx, f, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
