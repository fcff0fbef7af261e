package codec

import "time"

// frameDurations are the frame lengths the codec can encode, shortest first.
var frameDurations = []time.Duration{
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	20 * time.Millisecond,
	40 * time.Millisecond,
	60 * time.Millisecond,
}

// FrameSizes returns the legal frame lengths in samples per channel at rate.
func FrameSizes(rate int) []int {
	out := make([]int, len(frameDurations))
	for i, d := range frameDurations {
		out[i] = int(int64(rate) * int64(d) / int64(time.Second))
	}
	return out
}

// IsLegalFrameSize reports whether n samples per channel is one encodable
// frame at rate.
func IsLegalFrameSize(n, rate int) bool {
	for _, d := range frameDurations {
		if int64(n)*int64(time.Second) == int64(rate)*int64(d) {
			return true
		}
	}
	return false
}

// NearestFrameSize clamps n to the closest legal frame length at rate. Ties
// go to the shorter frame.
func NearestFrameSize(n, rate int) int {
	sizes := FrameSizes(rate)
	best := sizes[0]
	for _, s := range sizes[1:] {
		if abs(s-n) < abs(best-n) {
			best = s
		}
	}
	return best
}

// FrameSizeFromDuration converts a frame duration in milliseconds to samples
// per channel, clamped to the nearest legal length.
func FrameSizeFromDuration(ms float64, rate int) int {
	n := int(ms*float64(rate)/1000 + 0.5)
	return NearestFrameSize(n, rate)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
