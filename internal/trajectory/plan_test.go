package trajectory_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"microprobe/internal/trajectory"
)

const tol = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func TestQuantizePitchExamples(t *testing.T) {
	tests := []struct {
		name      string
		pitch     float64
		minSteps  int
		wantPitch float64
		wantSteps int
		adjusted  bool
	}{
		{"below minimum line", 0.00015, 3, 0.0006, 3, true},
		{"below minimum area", 0.0001, 2, 0.0004, 2, true},
		{"exact multiple", 0.0006, 2, 0.0006, 3, false},
		{"rounds down", 0.00111, 2, 0.001, 5, true},
		{"large pitch", 0.05, 2, 0.05, 250, false},
		{"zero pitch", 0, 2, 0.0004, 2, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := trajectory.QuantizePitch(tc.pitch, 0.0002, tc.minSteps)
			if err != nil {
				t.Fatalf("QuantizePitch: %v", err)
			}
			if !near(q.Pitch, tc.wantPitch) {
				t.Fatalf("pitch = %v, want %v", q.Pitch, tc.wantPitch)
			}
			if q.Steps != tc.wantSteps {
				t.Fatalf("steps = %d, want %d", q.Steps, tc.wantSteps)
			}
			if q.Adjusted() != tc.adjusted {
				t.Fatalf("adjusted = %v, want %v", q.Adjusted(), tc.adjusted)
			}
		})
	}
}

func TestQuantizePitchProperties(t *testing.T) {
	const mres = 0.0002
	for _, minSteps := range []int{2, 3} {
		for p := 0.0; p < 0.01; p += 0.000037 {
			q, err := trajectory.QuantizePitch(p, mres, minSteps)
			if err != nil {
				t.Fatalf("QuantizePitch(%v): %v", p, err)
			}
			if q.Steps < minSteps {
				t.Fatalf("pitch %v: steps %d below minimum %d", p, q.Steps, minSteps)
			}
			ratio := q.Pitch / mres
			if math.Abs(ratio-math.Round(ratio)) > 1e-6 {
				t.Fatalf("pitch %v: quantized %v not a multiple of %v", p, q.Pitch, mres)
			}
		}
	}
}

func TestQuantizePitchRejectsBadInput(t *testing.T) {
	if _, err := trajectory.QuantizePitch(math.NaN(), 0.0002, 2); !errors.Is(err, trajectory.ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	if _, err := trajectory.QuantizePitch(0.001, 0, 2); !errors.Is(err, trajectory.ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestNormalizeAndGridCountExample(t *testing.T) {
	lo, hi, swapped := trajectory.NormalizeRange(5, 2)
	if lo != 2 || hi != 5 || !swapped {
		t.Fatalf("NormalizeRange(5,2) = %v,%v,%v", lo, hi, swapped)
	}
	if num := trajectory.GridCount(lo, hi, 1); num != 3 {
		t.Fatalf("GridCount = %d, want 3", num)
	}
}

func TestGridCountNeverUnderCovers(t *testing.T) {
	pairs := [][2]float64{{0, 1}, {1, 0}, {-3.2, 4.7}, {10.01, 10.0}, {0, 0.0003}, {2, 2}}
	for _, pair := range pairs {
		for _, pitch := range []float64{0.0004, 0.001, 0.25, 1, 3} {
			lo, hi, _ := trajectory.NormalizeRange(pair[0], pair[1])
			if lo > hi {
				t.Fatalf("normalized range inverted: %v > %v", lo, hi)
			}
			num := trajectory.GridCount(lo, hi, pitch)
			if lo+float64(num)*pitch < hi-tol*math.Max(1, math.Abs(hi)) {
				t.Fatalf("range %v pitch %v: num %d under-covers", pair, pitch, num)
			}
			if num > 0 && lo+float64(num-1)*pitch >= hi {
				t.Fatalf("range %v pitch %v: num %d over-covers by a full pitch", pair, pitch, num)
			}
		}
	}
}

func TestGridCountToleratesFloatNoise(t *testing.T) {
	// 3 * 0.2 is 0.6000000000000001 in float64; exact multiples stay exact.
	if num := trajectory.GridCount(0, 0.6, 0.2); num != 3 {
		t.Fatalf("GridCount(0, 0.6, 0.2) = %d, want 3", num)
	}
	// A sub-nanometre shortfall is within tolerance and counts as covered.
	if num := trajectory.GridCount(0, 1.0000000005, 0.5); num != 2 {
		t.Fatalf("GridCount within tolerance = %d, want 2", num)
	}
	// Anything beyond the tolerance adds an interval.
	if num := trajectory.GridCount(0, 1.000001, 0.5); num != 3 {
		t.Fatalf("GridCount beyond tolerance = %d, want 3", num)
	}
}

func TestPlanAreaGeometry(t *testing.T) {
	plan, err := trajectory.PlanArea(trajectory.Request{
		YStart: 1.0, YStop: 0.0, YPitch: 0.25,
		XStart: 0.0, XStop: 0.9, XPitch: 0.2,
		Dwell: 0.01,
	}, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanArea: %v", err)
	}

	if plan.X.Num != 5 || !near(plan.X.Stop, 1.0) {
		t.Fatalf("x axis: num=%d stop=%v, want 5 and 1.0", plan.X.Num, plan.X.Stop)
	}
	if plan.Y.Num != 4 || plan.Y.Start != 0 || !near(plan.Y.Stop, 1.0) {
		t.Fatalf("y axis: %+v", plan.Y)
	}
	if !near(plan.X.EdgeStart, -0.1) || !near(plan.X.EdgeStop, 1.1) {
		t.Fatalf("fast axis edges: %v..%v", plan.X.EdgeStart, plan.X.EdgeStop)
	}
	if !near(plan.FastVelocity, 20) {
		t.Fatalf("velocity = %v, want 20", plan.FastVelocity)
	}
	if plan.Shape() != [2]int{4, 5} || plan.Pixels() != 20 {
		t.Fatalf("shape %v pixels %d", plan.Shape(), plan.Pixels())
	}

	if len(plan.Rows) != plan.Y.Num+1 {
		t.Fatalf("expected %d rows, got %d", plan.Y.Num+1, len(plan.Rows))
	}
	for i, row := range plan.Rows {
		if !near(row.Y, float64(i)*0.25) {
			t.Fatalf("row %d at y=%v", i, row.Y)
		}
		if i%2 == 0 {
			if row.XFrom != plan.X.EdgeStart || row.XTo != plan.X.EdgeStop || row.Reverse() {
				t.Fatalf("even row %d should sweep start->stop: %+v", i, row)
			}
		} else if row.XFrom != plan.X.EdgeStop || row.XTo != plan.X.EdgeStart || !row.Reverse() {
			t.Fatalf("odd row %d should sweep stop->start: %+v", i, row)
		}
	}

	kinds := map[string]bool{}
	for _, adj := range plan.Adjustments {
		kinds[string(adj.Axis)+":"+adj.Kind] = true
	}
	if !kinds["x:stop"] || !kinds["y:order"] {
		t.Fatalf("expected x stop and y order adjustments, got %v", plan.Adjustments)
	}
	if kinds["x:pitch"] || kinds["y:pitch"] {
		t.Fatalf("pitches were exact multiples, got %v", plan.Adjustments)
	}
}

func TestPlanAreaCollapsesDegenerateAxes(t *testing.T) {
	plan, err := trajectory.PlanArea(trajectory.Request{
		YStart: 3, YStop: 3, YPitch: 0.01,
		XStart: 1, XStop: 1.004, XPitch: 0.5,
		Dwell: 0.1,
	}, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanArea: %v", err)
	}
	if plan.X.Num != 1 || plan.Y.Num != 1 {
		t.Fatalf("expected single column and row interval, got x=%d y=%d", plan.X.Num, plan.Y.Num)
	}
	if len(plan.Rows) != 2 {
		t.Fatalf("expected closing row, got %d rows", len(plan.Rows))
	}
	for _, v := range []float64{plan.FastVelocity, plan.X.EdgeStart, plan.X.EdgeStop, plan.Rows[1].Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("degenerate plan produced non-finite value: %+v", plan)
		}
	}
}

func TestPlanAreaQuantizesPitch(t *testing.T) {
	plan, err := trajectory.PlanArea(trajectory.Request{
		YStart: 0, YStop: 0.01, YPitch: 0.0001,
		XStart: 0, XStop: 0.01, XPitch: 0.00111,
		Dwell: 0.002,
	}, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanArea: %v", err)
	}
	if !near(plan.X.Pitch, 0.001) || plan.X.Steps != 5 {
		t.Fatalf("x pitch %v steps %d", plan.X.Pitch, plan.X.Steps)
	}
	if !near(plan.Y.Pitch, 0.0004) || plan.Y.Steps != 2 {
		t.Fatalf("y pitch %v steps %d", plan.Y.Pitch, plan.Y.Steps)
	}
	if !plan.Adjusted() {
		t.Fatal("expected adjustments to be reported")
	}
}

func TestPlanAreaValidation(t *testing.T) {
	base := trajectory.Request{YStop: 1, YPitch: 0.1, XStop: 1, XPitch: 0.1, Dwell: 0.1}

	bad := base
	bad.Dwell = 0
	if _, err := trajectory.PlanArea(bad, trajectory.DefaultSettings()); !errors.Is(err, trajectory.ErrInvalidDwell) {
		t.Fatalf("expected ErrInvalidDwell, got %v", err)
	}
	bad = base
	bad.XStop = math.Inf(1)
	if _, err := trajectory.PlanArea(bad, trajectory.DefaultSettings()); !errors.Is(err, trajectory.ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func TestPlanEstimateDuration(t *testing.T) {
	plan, err := trajectory.PlanArea(trajectory.Request{
		YStart: 0, YStop: 0.4, YPitch: 0.2,
		XStart: 0, XStop: 1.0, XPitch: 0.2,
		Dwell: 0.5,
	}, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanArea: %v", err)
	}
	// 3 rows of 1.2 mm at 0.4 mm/s.
	want := 9 * time.Second
	got := plan.EstimateDuration()
	if got < want-time.Millisecond || got > want+time.Millisecond {
		t.Fatalf("EstimateDuration = %v, want %v", got, want)
	}
	if pixels := time.Duration(float64(plan.Pixels()) * plan.Dwell * float64(time.Second)); got < pixels {
		t.Fatalf("estimate %v below pixel dwell time %v", got, pixels)
	}
}

func TestPlanLinePreservesDirection(t *testing.T) {
	plan, err := trajectory.PlanLine(trajectory.AxisY, 2.0, 1.0, 0.3, 0.5, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanLine: %v", err)
	}
	if plan.Num != 4 || !near(plan.Stop, 0.8) {
		t.Fatalf("num=%d stop=%v, want 4 and 0.8", plan.Num, plan.Stop)
	}
	if len(plan.Positions) != 4 || plan.Positions[0] != 2.0 || !near(plan.Positions[3], 1.1) {
		t.Fatalf("positions %v", plan.Positions)
	}
	if !near(plan.Speed, 0.6) {
		t.Fatalf("speed %v", plan.Speed)
	}
}

func TestPlanLineMinimumSteps(t *testing.T) {
	plan, err := trajectory.PlanLine(trajectory.AxisX, 0, 0.003, 0.00015, 1, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanLine: %v", err)
	}
	if plan.Steps != 3 || !near(plan.Step, 0.0006) {
		t.Fatalf("steps=%d step=%v", plan.Steps, plan.Step)
	}
	if plan.Num != 5 {
		t.Fatalf("num=%d, want 5", plan.Num)
	}
	// 4 steps out and back at one dwell each, plus 5 settles.
	if got := plan.EstimateDuration(200 * time.Millisecond); got != 9*time.Second {
		t.Fatalf("EstimateDuration = %v", got)
	}
}

func TestPlanLineZeroLengthIsSinglePoint(t *testing.T) {
	plan, err := trajectory.PlanLine(trajectory.AxisX, 1.5, 1.5, 0.2, 0.1, trajectory.DefaultSettings())
	if err != nil {
		t.Fatalf("PlanLine: %v", err)
	}
	if plan.Num != 1 || len(plan.Positions) != 1 || plan.Positions[0] != 1.5 {
		t.Fatalf("expected a single point at 1.5, got num=%d positions=%v", plan.Num, plan.Positions)
	}
	if got := plan.EstimateDuration(time.Second); got != time.Second {
		t.Fatalf("single point estimate = %v, want one settle", got)
	}
}
