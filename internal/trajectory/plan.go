package trajectory

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidDwell      = errors.New("dwell must be positive")
	ErrNonFinite         = errors.New("scan parameters must be finite")
	ErrInvalidResolution = errors.New("invalid motor resolution")
	ErrUnknownAxis       = errors.New("unknown axis (use x or y)")
)

// Settings carries the stage resolution and minimum step policy.
type Settings struct {
	XResolution  float64
	YResolution  float64
	AreaMinSteps int
	LineMinSteps int
}

// DefaultSettings matches the beamline sample stage.
func DefaultSettings() Settings {
	return Settings{
		XResolution:  0.0002,
		YResolution:  0.0002,
		AreaMinSteps: 2,
		LineMinSteps: 3,
	}
}

// Request is the geometric part of a scan request, in mm and seconds.
type Request struct {
	YStart, YStop, YPitch float64
	XStart, XStop, XPitch float64
	Dwell                 float64
}

// Axis names a stage axis.
type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
)

// ParseAxis accepts "x" or "y" in any case.
func ParseAxis(value string) (Axis, error) {
	switch axis := Axis(strings.ToLower(strings.TrimSpace(value))); axis {
	case AxisX, AxisY:
		return axis, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAxis, value)
}

// Adjustment records a non-fatal change made while planning.
type Adjustment struct {
	Axis      Axis
	Kind      string
	Requested float64
	Applied   float64
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s %s adjusted from %g to %g", a.Axis, a.Kind, a.Requested, a.Applied)
}

const (
	AdjustPitch = "pitch"
	AdjustStop  = "stop"
	AdjustOrder = "order"
)

// AxisPlan describes one axis of an area raster. Start and Stop bound the
// pixel centres; EdgeStart and EdgeStop are the travel limits.
type AxisPlan struct {
	Start     float64
	Stop      float64
	Pitch     float64
	Steps     int
	Num       int
	EdgeStart float64
	EdgeStop  float64
}

// Extent is the covered span between pixel centres.
func (a AxisPlan) Extent() float64 {
	return a.Stop - a.Start
}

// Row is one fast-axis sweep at a fixed slow-axis position.
type Row struct {
	Index int
	Y     float64
	XFrom float64
	XTo   float64
}

// Reverse reports whether the sweep runs stop to start.
func (r Row) Reverse() bool {
	return r.Index%2 == 1
}

// Plan is the derived, hardware-consistent raster program for one scan.
type Plan struct {
	X            AxisPlan
	Y            AxisPlan
	Dwell        float64
	FastVelocity float64
	Rows         []Row
	Adjustments  []Adjustment
}

// Shape returns the pixel grid as [rows, columns].
func (p *Plan) Shape() [2]int {
	return [2]int{p.Y.Num, p.X.Num}
}

// Pixels is the number of pixels in the grid.
func (p *Plan) Pixels() int {
	return p.X.Num * p.Y.Num
}

// Adjusted reports whether planning changed any requested value.
func (p *Plan) Adjusted() bool {
	return len(p.Adjustments) > 0
}

// EstimateDuration is the fast-axis sweep time summed over every row, edge
// to edge: (X.Num+1) dwells per row for Y.Num+1 rows. It excludes moves,
// settles and detector overhead, and is never less than Pixels*Dwell.
func (p *Plan) EstimateDuration() time.Duration {
	if p == nil || p.FastVelocity <= 0 {
		return 0
	}
	sweep := (p.X.EdgeStop - p.X.EdgeStart) / p.FastVelocity
	seconds := sweep * float64(len(p.Rows))
	return time.Duration(seconds * float64(time.Second))
}

// PlanArea builds a snake raster for req.
func PlanArea(req Request, settings Settings) (*Plan, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	plan := &Plan{Dwell: req.Dwell}

	x, err := planAxis(AxisX, req.XStart, req.XStop, req.XPitch, settings.XResolution, settings.AreaMinSteps, &plan.Adjustments)
	if err != nil {
		return nil, err
	}
	y, err := planAxis(AxisY, req.YStart, req.YStop, req.YPitch, settings.YResolution, settings.AreaMinSteps, &plan.Adjustments)
	if err != nil {
		return nil, err
	}

	// Fast axis travel runs from pixel edge to pixel edge.
	x.EdgeStart = x.Start - x.Pitch/2
	x.EdgeStop = x.Stop + x.Pitch/2
	y.EdgeStart = y.Start
	y.EdgeStop = y.Stop

	plan.X = x
	plan.Y = y
	plan.FastVelocity = x.Pitch / req.Dwell
	plan.Rows = snakeRows(x, y)
	return plan, nil
}

func planAxis(axis Axis, start, stop, pitch, resolution float64, minSteps int, adjustments *[]Adjustment) (AxisPlan, error) {
	q, err := QuantizePitch(pitch, resolution, minSteps)
	if err != nil {
		return AxisPlan{}, fmt.Errorf("%s axis: %w", axis, err)
	}
	if q.Adjusted() {
		*adjustments = append(*adjustments, Adjustment{Axis: axis, Kind: AdjustPitch, Requested: q.Requested, Applied: q.Pitch})
	}

	lo, hi, swapped := NormalizeRange(start, stop)
	if swapped {
		*adjustments = append(*adjustments, Adjustment{Axis: axis, Kind: AdjustOrder, Requested: start, Applied: lo})
	}

	num := GridCount(lo, hi, q.Pitch)
	if num < 1 {
		num = 1
	}
	newStop := lo + float64(num)*q.Pitch
	if math.Abs(newStop-hi) > floorTolerance*math.Max(1, math.Abs(hi)) {
		*adjustments = append(*adjustments, Adjustment{Axis: axis, Kind: AdjustStop, Requested: hi, Applied: newStop})
	}

	return AxisPlan{
		Start: lo,
		Stop:  newStop,
		Pitch: q.Pitch,
		Steps: q.Steps,
		Num:   num,
	}, nil
}

// snakeRows emits Num+1 rows so the last slow-axis interval is closed.
func snakeRows(x, y AxisPlan) []Row {
	rows := make([]Row, 0, y.Num+1)
	for i := 0; i <= y.Num; i++ {
		row := Row{Index: i, Y: y.Start + float64(i)*y.Pitch, XFrom: x.EdgeStart, XTo: x.EdgeStop}
		if row.Reverse() {
			row.XFrom, row.XTo = x.EdgeStop, x.EdgeStart
		}
		rows = append(rows, row)
	}
	return rows
}

func validateRequest(req Request) error {
	for _, v := range []float64{req.YStart, req.YStop, req.YPitch, req.XStart, req.XStop, req.XPitch, req.Dwell} {
		if !finite(v) {
			return ErrNonFinite
		}
	}
	if req.Dwell <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDwell, req.Dwell)
	}
	return nil
}
