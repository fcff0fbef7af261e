package transcode

import (
	"errors"
	"testing"
)

func ramp(channels, n int, start float32) [][]float32 {
	b := makeBlock(channels, n)
	for ch := range b {
		for i := range b[ch] {
			b[ch][i] = start + float32(i) + float32(ch)*1000
		}
	}
	return b
}

// TestRingBufferWrapsAround pushes and pops across the end of the backing
// array and checks FIFO order is kept per channel.
func TestRingBufferWrapsAround(t *testing.T) {
	r := NewRingBuffer(2, 8)
	if err := r.Write(ramp(2, 6, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	dst := makeBlock(2, 5)
	if err := r.Read(dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := r.Write(ramp(2, 6, 6)); err != nil {
		t.Fatalf("Write across end: %v", err)
	}
	if r.Available() != 7 {
		t.Fatalf("Available: want=7 got=%d", r.Available())
	}
	dst = makeBlock(2, 7)
	if err := r.Read(dst); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for ch := 0; ch < 2; ch++ {
		for i, v := range dst[ch] {
			want := float32(5+i) + float32(ch)*1000
			if v != want {
				t.Fatalf("ch%d[%d]: want=%v got=%v", ch, i, want, v)
			}
		}
	}
	if r.Available() != 0 || r.Free() != 8 {
		t.Fatalf("ring not drained: available=%d free=%d", r.Available(), r.Free())
	}
}

// TestRingBufferOverflowWritesNothing checks a too-large write is refused
// whole.
func TestRingBufferOverflowWritesNothing(t *testing.T) {
	r := NewRingBuffer(1, 4)
	if err := r.Write(ramp(1, 3, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := r.Write(ramp(1, 2, 0)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("want ErrOverflow, got %v", err)
	}
	if r.Available() != 3 {
		t.Fatalf("overflow changed the ring: available=%d", r.Available())
	}
}

// TestRingBufferUnderflowReadsNothing checks a too-large read is refused
// and leaves dst untouched.
func TestRingBufferUnderflowReadsNothing(t *testing.T) {
	r := NewRingBuffer(1, 4)
	_ = r.Write(ramp(1, 2, 1))
	dst := [][]float32{{-1, -1, -1}}
	if err := r.Read(dst); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("want ErrUnderflow, got %v", err)
	}
	for i, v := range dst[0] {
		if v != -1 {
			t.Fatalf("dst[%d] modified on underflow: %v", i, v)
		}
	}
	if r.Available() != 2 {
		t.Fatalf("underflow changed the ring: available=%d", r.Available())
	}
}

func TestRingBufferShapeMismatch(t *testing.T) {
	r := NewRingBuffer(2, 4)
	if err := r.Write(ramp(1, 2, 0)); !errors.Is(err, ErrBlockShape) {
		t.Fatalf("Write mono into stereo ring: want ErrBlockShape, got %v", err)
	}
	if err := r.Read(makeBlock(3, 1)); !errors.Is(err, ErrBlockShape) {
		t.Fatalf("Read 3ch from stereo ring: want ErrBlockShape, got %v", err)
	}
}

// TestRingBufferSilenceAndZeroLength covers priming and empty blocks.
func TestRingBufferSilenceAndZeroLength(t *testing.T) {
	r := NewRingBuffer(1, 4)
	_ = r.Write(ramp(1, 3, 7))
	_ = r.Read(makeBlock(1, 3))
	if err := r.WriteSilence(4); err != nil {
		t.Fatalf("WriteSilence: %v", err)
	}
	if err := r.WriteSilence(1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("WriteSilence past capacity: want ErrOverflow, got %v", err)
	}
	dst := makeBlock(1, 4)
	_ = r.Read(dst)
	for i, v := range dst[0] {
		if v != 0 {
			t.Fatalf("silence[%d]=%v", i, v)
		}
	}
	if err := r.Write(makeBlock(1, 0)); err != nil {
		t.Fatalf("zero-length Write: %v", err)
	}
	if err := r.Read(makeBlock(1, 0)); err != nil {
		t.Fatalf("zero-length Read: %v", err)
	}
	r.Reset()
	if r.Available() != 0 {
		t.Fatalf("Reset left %d samples", r.Available())
	}
}
