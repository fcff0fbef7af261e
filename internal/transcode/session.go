package transcode

import (
	"errors"
	"fmt"

	"github.com/codecrush-lab/internal/codec"
)

var errShortDecode = errors.New("transcode: decoded frame length differs from encoded frame")

// CodecSession owns one codec instance and runs exactly one encode followed
// by one decode per frame. Encoder and decoder state survive bitrate
// changes; they are only reset when the decoder loses sync.
type CodecSession struct {
	codec     codec.Codec
	channels  int
	frameSize int

	interleaved []float32
	packet      []byte

	bitrate int
	resets  int
	// cause is the codec error behind the last recovery.
	cause error
}

// NewCodecSession wraps c for frames of frameSize samples per channel and
// applies the initial bitrate.
func NewCodecSession(c codec.Codec, channels, frameSize, bitrate int) (*CodecSession, error) {
	if !codec.IsLegalFrameSize(frameSize, codec.SampleRate) {
		return nil, fmt.Errorf("%w: %w: %d samples", ErrEncode, codec.ErrIllegalFrameSize, frameSize)
	}
	bitrate = codec.ClampBitrate(bitrate)
	if err := c.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("transcode: initial bitrate %d: %w", bitrate, err)
	}
	return &CodecSession{
		codec:       c,
		channels:    channels,
		frameSize:   frameSize,
		interleaved: make([]float32, frameSize*channels),
		packet:      make([]byte, codec.MaxPacketBytes),
		bitrate:     bitrate,
	}, nil
}

// FrameSize is the frame length in samples per channel.
func (s *CodecSession) FrameSize() int { return s.frameSize }

// Bitrate is the bitrate applied to the encoder.
func (s *CodecSession) Bitrate() int { return s.bitrate }

// Resets counts desync recoveries.
func (s *CodecSession) Resets() int { return s.resets }

// LastCause is the codec error that triggered the most recent recovery.
func (s *CodecSession) LastCause() error { return s.cause }

// Lookahead is the codec's algorithmic delay.
func (s *CodecSession) Lookahead() int { return s.codec.Lookahead() }

// TranscodeFrame encodes in at bitrate and decodes the resulting packet
// into out. in and out hold one slice per channel of exactly one frame.
//
// ErrBitrateRejected means the frame was transcoded at the previous bitrate
// because the codec refused the new one.
//
// An illegal frame length returns ErrEncode and leaves out untouched. A
// decoder desync, or an encoder failure, resets the codec, writes one frame
// of silence and returns the bare ErrDecode or ErrEncode; LastCause has the
// codec's error and the session stays usable. ErrUnrecoverable means the
// reset itself failed.
func (s *CodecSession) TranscodeFrame(in, out [][]float32, bitrate int) error {
	n := blockLen(in)
	if len(in) != s.channels || len(out) != s.channels || n != s.frameSize || blockLen(out) < n {
		return fmt.Errorf("%w: %w: %d samples", ErrEncode, codec.ErrIllegalFrameSize, n)
	}
	// Bitrate is updated in place; a failed update keeps the old value.
	bitrateRejected := false
	if bitrate = codec.ClampBitrate(bitrate); bitrate != s.bitrate {
		if err := s.codec.SetBitrate(bitrate); err != nil {
			bitrateRejected = true
		} else {
			s.bitrate = bitrate
		}
	}

	interleave(in, s.interleaved, n)
	size, err := s.codec.Encode(s.interleaved, s.packet)
	if err != nil {
		return s.resync(out, ErrEncode, err)
	}
	got, err := s.codec.Decode(s.packet[:size], s.interleaved)
	if err != nil {
		return s.resync(out, ErrDecode, err)
	}
	if got != n {
		return s.resync(out, ErrDecode, errShortDecode)
	}
	deinterleave(s.interleaved, out, n)
	if bitrateRejected {
		return ErrBitrateRejected
	}
	return nil
}

// resync resets both codec halves and emits one silent frame.
func (s *CodecSession) resync(out [][]float32, kind, cause error) error {
	for _, ch := range out {
		clear(ch[:s.frameSize])
	}
	s.resets++
	s.cause = cause
	if err := s.codec.Reset(); err != nil {
		return fmt.Errorf("%w: %w (after %w)", ErrUnrecoverable, err, cause)
	}
	// Reset may bring the encoder back to its default target.
	if err := s.codec.SetBitrate(s.bitrate); err != nil {
		return fmt.Errorf("%w: %w (after %w)", ErrUnrecoverable, err, cause)
	}
	return kind
}

// Close releases the codec.
func (s *CodecSession) Close() error {
	if s.codec == nil {
		return nil
	}
	err := s.codec.Close()
	s.codec = nil
	return err
}

func interleave(in [][]float32, dst []float32, n int) {
	if len(in) == 1 {
		copy(dst[:n], in[0][:n])
		return
	}
	ch := len(in)
	for c, src := range in {
		for i := 0; i < n; i++ {
			dst[i*ch+c] = src[i]
		}
	}
}

func deinterleave(src []float32, out [][]float32, n int) {
	if len(out) == 1 {
		copy(out[0][:n], src[:n])
		return
	}
	ch := len(out)
	for c, dst := range out {
		for i := 0; i < n; i++ {
			dst[i] = src[i*ch+c]
		}
	}
}
