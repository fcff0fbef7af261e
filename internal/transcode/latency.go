package transcode

// LatencyReport breaks the pipeline's fixed output delay into its parts.
//
// FrameAssembly is one full codec frame: the output ring starts with that
// many zeros, which is exactly the wait needed to assemble the first input
// frame. CodecLookahead is the codec's own algorithmic delay.
type LatencyReport struct {
	FrameAssembly  int
	CodecLookahead int
}

// ComputeLatency builds the report for a frame length and codec lookahead.
func ComputeLatency(frameSize, lookahead int) LatencyReport {
	if lookahead < 0 {
		lookahead = 0
	}
	return LatencyReport{FrameAssembly: frameSize, CodecLookahead: lookahead}
}

// Total is the delay in samples the host should compensate for.
func (l LatencyReport) Total() int { return l.FrameAssembly + l.CodecLookahead }

// Priming is how many zero samples the output ring is seeded with.
func (l LatencyReport) Priming() int { return l.FrameAssembly }
