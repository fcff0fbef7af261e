package transcode

import (
	"errors"
	"testing"

	"github.com/codecrush-lab/internal/codec"
	"github.com/codecrush-lab/internal/codec/codectest"
)

func newTestSession(t *testing.T, channels, frameSize, bitrate int) (*CodecSession, *codectest.Quantizer) {
	t.Helper()
	q := codectest.New(codec.Config{SampleRate: codec.SampleRate, Channels: channels, Bitrate: bitrate})
	s, err := NewCodecSession(q, channels, frameSize, bitrate)
	if err != nil {
		t.Fatalf("NewCodecSession: %v", err)
	}
	return s, q
}

func TestNewCodecSessionRejectsIllegalFrame(t *testing.T) {
	q := codectest.New(codec.Config{Channels: 1})
	if _, err := NewCodecSession(q, 1, 500, 64000); !errors.Is(err, codec.ErrIllegalFrameSize) {
		t.Fatalf("want ErrIllegalFrameSize, got %v", err)
	}
}

// TestTranscodeFrameRoundTrip checks one frame comes back close to the
// input at 8-bit quantization.
func TestTranscodeFrameRoundTrip(t *testing.T) {
	s, q := newTestSession(t, 1, 480, 64000)
	in := ramp(1, 480, 0)
	for i := range in[0] {
		in[0][i] = float32(i%97)/97 - 0.5
	}
	out := makeBlock(1, 480)
	if err := s.TranscodeFrame(in, out, 64000); err != nil {
		t.Fatalf("TranscodeFrame: %v", err)
	}
	for i := range out[0] {
		if d := out[0][i] - in[0][i]; d > 0.01 || d < -0.01 {
			t.Fatalf("sample %d: in=%v out=%v", i, in[0][i], out[0][i])
		}
	}
	if q.Encodes != 1 || q.Decodes != 1 {
		t.Fatalf("want exactly one encode and decode, got %d/%d", q.Encodes, q.Decodes)
	}
}

func TestTranscodeFrameWrongLengthLeavesOutput(t *testing.T) {
	s, _ := newTestSession(t, 1, 480, 64000)
	out := [][]float32{make([]float32, 480)}
	for i := range out[0] {
		out[0][i] = 0.25
	}
	err := s.TranscodeFrame(makeBlock(1, 479), out, 64000)
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("want ErrEncode, got %v", err)
	}
	if out[0][0] != 0.25 || out[0][479] != 0.25 {
		t.Fatalf("output modified on illegal frame")
	}
}

// TestTranscodeFrameBitrateInPlace checks a bitrate change reaches the codec
// without a reset.
func TestTranscodeFrameBitrateInPlace(t *testing.T) {
	s, q := newTestSession(t, 2, 240, 64000)
	in, out := makeBlock(2, 240), makeBlock(2, 240)
	if err := s.TranscodeFrame(in, out, 32000); err != nil {
		t.Fatalf("TranscodeFrame: %v", err)
	}
	if q.Bitrate() != 32000 || s.Bitrate() != 32000 {
		t.Fatalf("bitrate not applied: codec=%d session=%d", q.Bitrate(), s.Bitrate())
	}
	if q.Resets != 0 {
		t.Fatalf("bitrate change reset the codec")
	}
	_ = s.TranscodeFrame(in, out, 32000)
	if q.BitrateChanges != 2 {
		t.Fatalf("unchanged bitrate re-applied: %d changes", q.BitrateChanges)
	}
}

func TestTranscodeFrameBitrateRejected(t *testing.T) {
	s, q := newTestSession(t, 1, 120, 64000)
	q.FailBitrate = true
	in, out := ramp(1, 120, 0), makeBlock(1, 120)
	for i := range in[0] {
		in[0][i] = 0.5
	}
	if err := s.TranscodeFrame(in, out, 20000); !errors.Is(err, ErrBitrateRejected) {
		t.Fatalf("want ErrBitrateRejected, got %v", err)
	}
	if s.Bitrate() != 64000 {
		t.Fatalf("rejected bitrate recorded: %d", s.Bitrate())
	}
	if out[0][0] == 0 {
		t.Fatalf("frame not transcoded after bitrate rejection")
	}
}

// TestTranscodeFrameDesyncRecovers corrupts one packet and checks the
// session emits a silent frame, resets, and then keeps working.
func TestTranscodeFrameDesyncRecovers(t *testing.T) {
	s, q := newTestSession(t, 1, 120, 64000)
	in, out := makeBlock(1, 120), makeBlock(1, 120)
	for i := range in[0] {
		in[0][i] = 0.5
	}
	q.Corrupt()
	if err := s.TranscodeFrame(in, out, 64000); err != ErrDecode {
		t.Fatalf("want bare ErrDecode, got %v", err)
	}
	if !errors.Is(s.LastCause(), codectest.ErrDesync) {
		t.Fatalf("cause not kept: %v", s.LastCause())
	}
	for i, v := range out[0] {
		if v != 0 {
			t.Fatalf("recovery frame not silent at %d: %v", i, v)
		}
	}
	if s.Resets() != 1 || q.Resets != 1 {
		t.Fatalf("want one reset, session=%d codec=%d", s.Resets(), q.Resets)
	}
	if err := s.TranscodeFrame(in, out, 64000); err != nil {
		t.Fatalf("frame after recovery: %v", err)
	}
	if out[0][0] == 0 {
		t.Fatalf("frame after recovery is silent")
	}
}

func TestTranscodeFrameResetFailureIsUnrecoverable(t *testing.T) {
	s, q := newTestSession(t, 1, 120, 64000)
	q.FailReset = true
	q.Corrupt()
	err := s.TranscodeFrame(makeBlock(1, 120), makeBlock(1, 120), 64000)
	if !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("want ErrUnrecoverable, got %v", err)
	}
}

func TestInterleaveRoundTrip(t *testing.T) {
	in := ramp(2, 4, 1)
	buf := make([]float32, 8)
	interleave(in, buf, 4)
	if buf[0] != 1 || buf[1] != 1001 || buf[2] != 2 {
		t.Fatalf("interleave order wrong: %v", buf)
	}
	out := makeBlock(2, 4)
	deinterleave(buf, out, 4)
	for ch := range in {
		for i := range in[ch] {
			if in[ch][i] != out[ch][i] {
				t.Fatalf("ch%d[%d]: %v != %v", ch, i, in[ch][i], out[ch][i])
			}
		}
	}
}
