package transcode

import (
	"math"
	"sync"
	"testing"
)

func TestCurveEndpointsAndInverse(t *testing.T) {
	c := DefaultCurve()
	if got := c.Bitrate(0); got != DefaultMinBitrate {
		t.Fatalf("Bitrate(0): want=%d got=%d", DefaultMinBitrate, got)
	}
	if got := c.Bitrate(1); got != DefaultMaxBitrate {
		t.Fatalf("Bitrate(1): want=%d got=%d", DefaultMaxBitrate, got)
	}
	// geometric midpoint of 20k..160k
	if got := c.Bitrate(0.5); got != 56569 {
		t.Fatalf("Bitrate(0.5): want=56569 got=%d", got)
	}
	if got := c.Bitrate(-3); got != DefaultMinBitrate {
		t.Fatalf("Bitrate(-3) not clamped: %d", got)
	}
	for _, q := range []float64{0, 0.25, 0.5, 0.9, 1} {
		back := c.Quality(c.Bitrate(q))
		if math.Abs(back-q) > 1e-4 {
			t.Fatalf("Quality(Bitrate(%v))=%v", q, back)
		}
	}
}

func TestFormatQuality(t *testing.T) {
	if got := FormatQuality(0.5); got != " 50%" {
		t.Fatalf("FormatQuality(0.5)=%q", got)
	}
	if got := FormatQuality(2); got != "100%" {
		t.Fatalf("FormatQuality(2)=%q", got)
	}
}

// TestSmootherInitialValueHasNoRamp checks the first Step already returns
// the configured starting bitrate.
func TestSmootherInitialValueHasNoRamp(t *testing.T) {
	s := NewSmoother(DefaultCurve(), DefaultMaxStepFraction, 0)
	if got := s.Step(); got != DefaultMinBitrate {
		t.Fatalf("first Step: want=%d got=%d", DefaultMinBitrate, got)
	}
}

// TestSmootherRateLimit walks from the top to the bottom of the curve and
// checks no step exceeds MaxStep and the walk ends at the target.
func TestSmootherRateLimit(t *testing.T) {
	s := NewSmoother(DefaultCurve(), DefaultMaxStepFraction, 1)
	if s.MaxStep() != 7000 {
		t.Fatalf("MaxStep: want=7000 got=%d", s.MaxStep())
	}
	s.SetTarget(0)
	prev := s.Effective()
	steps := 0
	for prev != DefaultMinBitrate {
		cur := s.Step()
		if d := prev - cur; d > s.MaxStep() || d < 0 {
			t.Fatalf("step %d moved by %d", steps, d)
		}
		prev = cur
		steps++
		if steps > 100 {
			t.Fatalf("did not converge, stuck at %d", prev)
		}
	}
	if steps != 20 {
		t.Fatalf("steps to converge: want=20 got=%d", steps)
	}
	if s.Step() != DefaultMinBitrate {
		t.Fatalf("Step past target moved the bitrate")
	}
}

// TestSmootherLastWriteWins sets 1.0 then 0.0 before a single Step; the step
// must head toward 0.0.
func TestSmootherLastWriteWins(t *testing.T) {
	s := NewSmoother(DefaultCurve(), DefaultMaxStepFraction, 0.5)
	start := s.Effective()
	s.SetTarget(1)
	s.SetTarget(0)
	if got := s.Step(); got != start-s.MaxStep() {
		t.Fatalf("want=%d got=%d", start-s.MaxStep(), got)
	}
	if s.Target() != 0 {
		t.Fatalf("Target: want=0 got=%v", s.Target())
	}
}

func TestSmootherSetTargetIdempotentAndClamped(t *testing.T) {
	s := NewSmoother(DefaultCurve(), DefaultMaxStepFraction, 0.3)
	s.SetTarget(0.3)
	s.SetTarget(0.3)
	b := s.Effective()
	if got := s.Step(); got != b {
		t.Fatalf("idempotent set moved the bitrate: %d -> %d", b, got)
	}
	s.SetTarget(7)
	if s.Target() != 1 {
		t.Fatalf("SetTarget(7) not clamped: %v", s.Target())
	}
	s.SetTarget(math.NaN())
	if s.Target() != 1 {
		t.Fatalf("NaN changed the target: %v", s.Target())
	}
}

// TestSmootherConcurrentSetTarget races writers against the stepping
// goroutine; run with -race.
func TestSmootherConcurrentSetTarget(t *testing.T) {
	s := NewSmoother(DefaultCurve(), DefaultMaxStepFraction, 0.5)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.SetTarget(float64((i+w)%11) / 10)
			}
		}(w)
	}
	for i := 0; i < 1000; i++ {
		b := s.Step()
		if b < DefaultMinBitrate || b > DefaultMaxBitrate {
			t.Fatalf("bitrate out of range: %d", b)
		}
	}
	wg.Wait()
}
