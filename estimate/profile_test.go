package estimate

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestMotionTimeLowerBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vCap := rapid.Float64Range(60, 6000).Draw(t, "vCap") // mm/min
		v0 := rapid.Float64Range(0, vCap).Draw(t, "v0")
		v1 := rapid.Float64Range(0, vCap).Draw(t, "v1")
		accel := rapid.Float64Range(10, 2000).Draw(t, "accel") // mm/s^2
		dist := rapid.Float64Range(0.001, 500).Draw(t, "dist") // mm

		dt, vEnd, err := motionTime(dist, v0, v1, vCap, accel)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Can never beat cruising the whole distance at the cap.
		if floor := dist / (vCap / 60); dt < floor-1e-9 {
			t.Fatalf("time %v beats distance floor %v", dt, floor)
		}

		// Can never change velocity faster than the acceleration limit
		// allows. Only assertable when the end velocity is reachable
		// within the distance; otherwise the profile is all ramp.
		v0s, v1s := v0/60, v1/60
		if math.Abs(v0s*v0s-v1s*v1s)/(2*accel) <= dist {
			if floor := math.Abs(vEnd-v0) / 60 / accel; dt < floor-1e-9 {
				t.Fatalf("time %v beats ramp floor %v", dt, floor)
			}
		}

		if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
			t.Fatalf("time %v is not finite and non-negative", dt)
		}
		if vEnd < -1e-9 || vEnd > vCap+1e-6 {
			t.Fatalf("achieved end velocity %v outside [0, %v]", vEnd, vCap)
		}
	})
}

func TestMotionTimeFullTrapezoid(t *testing.T) {
	// 0 -> 50mm/s -> 0 over 100mm at 800mm/s^2; the single-rapid scenario.
	dt, vEnd, err := motionTime(100, 0, 0, 3000, 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(dt-2.0625) > 1e-9 {
		t.Fatalf("expected 2.0625s, got %v", dt)
	}
	if vEnd != 0 {
		t.Fatalf("expected full stop, got %v", vEnd)
	}
}

func TestMotionTimeTriangle(t *testing.T) {
	// 1mm from rest to rest never reaches the 50mm/s cap: the profile
	// peaks at sqrt(a*L) = sqrt(800) mm/s with no cruise phase.
	dt, vEnd, err := motionTime(1, 0, 0, 3000, 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 2 * math.Sqrt(800) / 800
	if math.Abs(dt-want) > 1e-9 {
		t.Fatalf("expected triangle time %v, got %v", want, dt)
	}
	if vEnd != 0 {
		t.Fatalf("expected full stop, got %v", vEnd)
	}
}

func TestMotionTimeDecelTooShort(t *testing.T) {
	// Starting fast with no room to stop: the solver reports the velocity
	// it actually reaches rather than the requested one.
	dt, vEnd, err := motionTime(0.1, 3000, 0, 3000, 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vEnd <= 0 {
		t.Fatalf("expected a residual end velocity, got %v", vEnd)
	}
	want := (3000/60 - vEnd/60) / 800
	if math.Abs(dt-want) > 1e-9 {
		t.Fatalf("expected pure-deceleration time %v, got %v", want, dt)
	}
}

func TestMotionTimeAccelTooShort(t *testing.T) {
	dt, vEnd, err := motionTime(0.1, 0, 3000, 3000, 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vEnd >= 3000 {
		t.Fatalf("expected end velocity below request, got %v", vEnd)
	}
	want := (vEnd / 60) / 800
	if math.Abs(dt-want) > 1e-9 {
		t.Fatalf("expected pure-acceleration time %v, got %v", want, dt)
	}
}

func TestJunctionLimitGeometry(t *testing.T) {
	limits := DefaultLimits()

	// Collinear: no corner, the cruise cap is the only limit.
	v := limits.junctionLimit(point{10, 0}, point{5, 0})
	if !math.IsInf(v, 1) {
		t.Fatalf("collinear junction should be unbounded, got %v", v)
	}

	// Stop at the end of the program.
	v = limits.junctionLimit(point{10, 0}, point{})
	if v != 0 {
		t.Fatalf("terminal junction should force a stop, got %v", v)
	}

	// Reversal: only the deviation-radius floor remains.
	v = limits.junctionLimit(point{10, 0}, point{-10, 0})
	want := math.Sqrt(800*0.01) * 60
	if math.Abs(v-want) > 1e-9 {
		t.Fatalf("reversal junction: expected %v, got %v", want, v)
	}

	// A right angle sits strictly between reversal and collinear.
	v = limits.junctionLimit(point{10, 0}, point{0, 10})
	if v <= want || math.IsInf(v, 1) {
		t.Fatalf("right-angle junction %v out of range", v)
	}
}
