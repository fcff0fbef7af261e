package transcode

import "errors"

// FrameScheduler moves samples between the host's block size and the
// codec's frame size. Each cycle it pushes the whole host block into the
// input ring, transcodes every complete frame into the output ring and then
// drains exactly the requested number of output samples.
type FrameScheduler struct {
	in, out  *RingBuffer
	session  *CodecSession
	maxBlock int
	stats    *counters

	frameIn  [][]float32
	frameOut [][]float32
	// sub-block views reused across cycles
	inView, outView [][]float32
}

// NewFrameScheduler builds a scheduler around pre-allocated rings. Host
// blocks longer than maxBlock are handled in maxBlock-sized pieces.
func NewFrameScheduler(in, out *RingBuffer, session *CodecSession, maxBlock int, stats *counters) *FrameScheduler {
	if stats == nil {
		stats = &counters{}
	}
	ch := in.Channels()
	return &FrameScheduler{
		in:       in,
		out:      out,
		session:  session,
		maxBlock: maxBlock,
		stats:    stats,
		frameIn:  makeBlock(ch, session.FrameSize()),
		frameOut: makeBlock(ch, session.FrameSize()),
		inView:   make([][]float32, ch),
		outView:  make([][]float32, ch),
	}
}

// Run processes one host block at bitrate and returns the number of frames
// transcoded. Only ErrUnrecoverable is returned; every other fault is
// clamped and counted.
func (s *FrameScheduler) Run(in, out [][]float32, bitrate int) (int, error) {
	n := blockLen(in)
	m := blockLen(out)
	frames := 0
	// in and out normally have the same length. Walk both in lockstep and
	// finish whichever is longer on its own.
	for off := 0; off < n || off < m; off += s.maxBlock {
		inEnd := min(off+s.maxBlock, n)
		outEnd := min(off+s.maxBlock, m)
		if off < n {
			for ch := range in {
				s.inView[ch] = in[ch][off:inEnd]
			}
			s.push(s.inView)
		}
		k, err := s.drainFrames(bitrate)
		frames += k
		if err != nil {
			return frames, err
		}
		if off < m {
			for ch := range out {
				s.outView[ch] = out[ch][off:outEnd]
			}
			s.pull(s.outView)
		}
	}
	return frames, nil
}

// push writes block into the input ring. Samples that do not fit are
// dropped.
func (s *FrameScheduler) push(block [][]float32) {
	err := s.in.Write(block)
	if err == nil {
		return
	}
	s.stats.overflows.Add(1)
	if debugAssertions {
		assertViolation("input ring overflow", err, "block", blockLen(block), "free", s.in.Free())
	}
	free := s.in.Free()
	for ch := range block {
		block[ch] = block[ch][:free]
	}
	_ = s.in.Write(block)
}

func (s *FrameScheduler) drainFrames(bitrate int) (int, error) {
	frameSize := s.session.FrameSize()
	frames := 0
	for s.in.Available() >= frameSize {
		_ = s.in.Read(s.frameIn)
		err := s.session.TranscodeFrame(s.frameIn, s.frameOut, bitrate)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnrecoverable):
			return frames, err
		case errors.Is(err, ErrDecode):
			s.stats.decodeRecoveries.Add(1)
			if debugAssertions {
				assertViolation("decoder desync", err, "cause", s.session.LastCause())
			}
		case errors.Is(err, ErrBitrateRejected):
			s.stats.bitrateRejects.Add(1)
		default:
			s.stats.encodeClamps.Add(1)
			if debugAssertions {
				assertViolation("encode failed", err, "cause", s.session.LastCause())
			}
		}
		if werr := s.out.Write(s.frameOut); werr != nil {
			s.stats.overflows.Add(1)
			if debugAssertions {
				assertViolation("output ring overflow", werr, "free", s.out.Free())
			}
		}
		frames++
		s.stats.frames.Add(1)
	}
	return frames, nil
}

// pull fills block from the output ring. A shortfall is zero-filled at the
// front of the block, which is what the host hears while the pipeline
// primes.
func (s *FrameScheduler) pull(block [][]float32) {
	n := blockLen(block)
	avail := s.out.Available()
	if avail >= n {
		_ = s.out.Read(block)
		return
	}
	s.stats.underflows.Add(1)
	if debugAssertions {
		assertViolation("output ring underflow", ErrUnderflow, "want", n, "have", avail)
	}
	gap := n - avail
	for ch := range block {
		clear(block[ch][:gap])
		block[ch] = block[ch][gap:n]
	}
	_ = s.out.Read(block)
}

func makeBlock(channels, n int) [][]float32 {
	b := make([][]float32, channels)
	for ch := range b {
		b[ch] = make([]float32, n)
	}
	return b
}
