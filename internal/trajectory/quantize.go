package trajectory

import (
	"fmt"
	"math"
)

// floorTolerance absorbs float error so exact multiples such as 0.0006/0.0002
// floor to 3 rather than 2.
const floorTolerance = 1e-9

// Quantized is a pitch snapped to whole motor steps.
type Quantized struct {
	Requested float64
	Pitch     float64
	Steps     int
}

// Adjusted reports whether the pitch differs from the request.
func (q Quantized) Adjusted() bool {
	return math.Abs(q.Pitch-q.Requested) > floorTolerance*math.Max(1, math.Abs(q.Requested))
}

// QuantizePitch returns pitch rounded down to a multiple of resolution, never
// fewer than minSteps steps.
func QuantizePitch(pitch, resolution float64, minSteps int) (Quantized, error) {
	if !finite(pitch) || !finite(resolution) {
		return Quantized{}, fmt.Errorf("%w: pitch=%v resolution=%v", ErrNonFinite, pitch, resolution)
	}
	if resolution <= 0 {
		return Quantized{}, fmt.Errorf("%w: resolution must be positive, got %v", ErrInvalidResolution, resolution)
	}
	if minSteps < 1 {
		minSteps = 1
	}
	steps := 0
	if pitch > 0 {
		steps = int(math.Floor(pitch/resolution + floorTolerance))
	}
	if steps < minSteps {
		steps = minSteps
	}
	return Quantized{
		Requested: pitch,
		Pitch:     float64(steps) * resolution,
		Steps:     steps,
	}, nil
}

// NormalizeRange orders start and stop ascending.
func NormalizeRange(start, stop float64) (lo, hi float64, swapped bool) {
	if start > stop {
		return stop, start, true
	}
	return start, stop, false
}

// GridCount returns the number of pitch intervals needed to cover
// [start, stop], rounding up whenever the floor would under-cover. A
// shortfall within floorTolerance (relative to stop, at least 1e-9 mm) counts
// as covered, so float noise on exact multiples never adds a pixel.
func GridCount(start, stop, pitch float64) int {
	if pitch <= 0 || stop <= start {
		return 0
	}
	span := stop - start
	num := int(math.Floor(span/pitch + floorTolerance))
	if start+float64(num)*pitch < stop-floorTolerance*math.Max(1, math.Abs(stop)) {
		num++
	}
	return num
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
