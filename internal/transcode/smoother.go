package transcode

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/codecrush-lab/internal/codec"
)

// Default quality-to-bitrate range. Below roughly 20 kbps the codec adds an
// audible tone of its own; around 160 kbps it is close to transparent.
const (
	DefaultMinBitrate      = 20000
	DefaultMaxBitrate      = 160000
	DefaultMaxStepFraction = 0.05
	DefaultQuality         = 1.0
)

// Curve maps a normalized quality value to a bitrate. The mapping is
// exponential, Min*(Max/Min)^q, which tracks perceived degradation better
// than a linear ramp.
type Curve struct {
	Min int
	Max int
}

// DefaultCurve spans DefaultMinBitrate..DefaultMaxBitrate.
func DefaultCurve() Curve { return Curve{Min: DefaultMinBitrate, Max: DefaultMaxBitrate} }

// normalized clamps the curve to the codec range and orders its ends.
func (c Curve) normalized() Curve {
	lo, hi := codec.ClampBitrate(c.Min), codec.ClampBitrate(c.Max)
	if hi < lo {
		lo, hi = hi, lo
	}
	return Curve{Min: lo, Max: hi}
}

// Bitrate returns the bitrate for quality q, q clamped to [0, 1].
func (c Curve) Bitrate(q float64) int {
	c = c.normalized()
	q = clampUnit(q)
	if c.Min == c.Max {
		return c.Min
	}
	return int(math.Round(float64(c.Min) * math.Pow(float64(c.Max)/float64(c.Min), q)))
}

// Quality inverts Bitrate.
func (c Curve) Quality(bps int) float64 {
	c = c.normalized()
	if c.Min == c.Max {
		return 1
	}
	if bps <= c.Min {
		return 0
	}
	if bps >= c.Max {
		return 1
	}
	return math.Log(float64(bps)/float64(c.Min)) / math.Log(float64(c.Max)/float64(c.Min))
}

// FormatQuality renders a control value the way a parameter display shows
// it, e.g. " 50%".
func FormatQuality(q float64) string {
	return fmt.Sprintf("%3.0f%%", clampUnit(q)*100)
}

// Smoother turns the externally set quality target into the bitrate the
// codec uses, moving at most MaxStep per processing cycle. SetTarget may be
// called from any goroutine; Step belongs to the audio goroutine.
type Smoother struct {
	curve   Curve
	maxStep int

	// target holds math.Float64bits of the clamped quality value.
	target atomic.Uint64
	// effective mirrors the last Step result for readers off the audio path.
	effective atomic.Int64

	// audio-goroutine cache of the last mapped target
	lastBits   uint64
	lastTarget int
	current    int
}

// NewSmoother starts at initial with no ramp: the first Step already
// returns the initial bitrate. stepFraction is the largest per-cycle change
// as a fraction of the curve's range.
func NewSmoother(curve Curve, stepFraction, initial float64) *Smoother {
	curve = curve.normalized()
	if stepFraction <= 0 || stepFraction > 1 || math.IsNaN(stepFraction) {
		stepFraction = DefaultMaxStepFraction
	}
	// the epsilon keeps float noise from rounding an exact step up
	maxStep := int(math.Ceil(stepFraction*float64(curve.Max-curve.Min) - 1e-9))
	if maxStep < 1 {
		maxStep = 1
	}
	if math.IsNaN(initial) {
		initial = DefaultQuality
	}
	initial = clampUnit(initial)
	s := &Smoother{curve: curve, maxStep: maxStep}
	bits := math.Float64bits(initial)
	s.target.Store(bits)
	s.lastBits = bits
	s.lastTarget = curve.Bitrate(initial)
	s.current = s.lastTarget
	s.effective.Store(int64(s.current))
	return s
}

// SetTarget publishes a new quality value. NaN is ignored; everything else
// is clamped to [0, 1]. The last write before a Step wins.
func (s *Smoother) SetTarget(q float64) {
	if math.IsNaN(q) {
		return
	}
	s.target.Store(math.Float64bits(clampUnit(q)))
}

// Target is the most recently published quality value.
func (s *Smoother) Target() float64 {
	return math.Float64frombits(s.target.Load())
}

// Step moves the effective bitrate one rate-limited increment toward the
// target and returns it.
func (s *Smoother) Step() int {
	bits := s.target.Load()
	if bits != s.lastBits {
		s.lastBits = bits
		s.lastTarget = s.curve.Bitrate(math.Float64frombits(bits))
	}
	delta := s.lastTarget - s.current
	if delta > s.maxStep {
		delta = s.maxStep
	} else if delta < -s.maxStep {
		delta = -s.maxStep
	}
	s.current += delta
	s.effective.Store(int64(s.current))
	return s.current
}

// Effective is the bitrate returned by the last Step. Safe from any
// goroutine.
func (s *Smoother) Effective() int { return int(s.effective.Load()) }

// MaxStep is the largest bitrate change a single Step makes.
func (s *Smoother) MaxStep() int { return s.maxStep }

// Curve is the mapping in use.
func (s *Smoother) Curve() Curve { return s.curve }

func clampUnit(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}
