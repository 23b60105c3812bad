package trajectory

import (
	"fmt"
	"math"
	"time"
)

// LinePlan is a single-axis step scan. Direction is preserved: Positions run
// from the requested start towards the requested stop.
type LinePlan struct {
	Axis        Axis
	Start       float64
	Stop        float64
	Step        float64
	Steps       int
	Num         int
	Speed       float64
	Dwell       float64
	Positions   []float64
	Adjustments []Adjustment
}

// PlanLine builds a step scan along one axis using the line minimum step policy.
func PlanLine(axis Axis, start, stop, step, dwell float64, settings Settings) (*LinePlan, error) {
	for _, v := range []float64{start, stop, step, dwell} {
		if !finite(v) {
			return nil, ErrNonFinite
		}
	}
	if dwell <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDwell, dwell)
	}
	resolution := settings.XResolution
	if axis == AxisY {
		resolution = settings.YResolution
	}
	q, err := QuantizePitch(math.Abs(step), resolution, settings.LineMinSteps)
	if err != nil {
		return nil, fmt.Errorf("%s axis: %w", axis, err)
	}
	plan := &LinePlan{Axis: axis, Start: start, Step: q.Pitch, Steps: q.Steps, Dwell: dwell, Speed: q.Pitch / dwell}
	if q.Adjusted() {
		plan.Adjustments = append(plan.Adjustments, Adjustment{Axis: axis, Kind: AdjustPitch, Requested: step, Applied: q.Pitch})
	}

	sign := 1.0
	if start > stop {
		sign = -1
	}
	lo, hi, _ := NormalizeRange(start, stop)
	// A zero-length line collapses to its start point.
	plan.Num = max(GridCount(lo, hi, q.Pitch), 1)
	plan.Stop = start + sign*float64(plan.Num)*q.Pitch
	if math.Abs(plan.Stop-stop) > floorTolerance*math.Max(1, math.Abs(stop)) {
		plan.Adjustments = append(plan.Adjustments, Adjustment{Axis: axis, Kind: AdjustStop, Requested: stop, Applied: plan.Stop})
	}

	plan.Positions = make([]float64, plan.Num)
	for i := range plan.Positions {
		plan.Positions[i] = start + sign*float64(i)*q.Pitch
	}
	return plan, nil
}

// EstimateDuration is the stepping time: travel between points at Speed
// (one dwell per step), the settle at each point, and the return to Start.
func (p *LinePlan) EstimateDuration(settle time.Duration) time.Duration {
	if p == nil || len(p.Positions) == 0 {
		return 0
	}
	steps := time.Duration(len(p.Positions) - 1)
	travel := time.Duration(p.Dwell * float64(time.Second))
	return 2*steps*travel + time.Duration(len(p.Positions))*settle
}
