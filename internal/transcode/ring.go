package transcode

// RingBuffer is a fixed-capacity single-producer/single-consumer FIFO of
// per-channel float32 samples. All channels advance together. It never
// allocates after construction and never blocks.
type RingBuffer struct {
	data     [][]float32
	capacity int
	read     int
	write    int
	count    int
}

// NewRingBuffer allocates capacity samples for each of channels.
func NewRingBuffer(channels, capacity int) *RingBuffer {
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, capacity)
	}
	return &RingBuffer{data: data, capacity: capacity}
}

// Channels is the number of channels the ring was built for.
func (r *RingBuffer) Channels() int { return len(r.data) }

// Capacity is the number of samples per channel the ring can hold.
func (r *RingBuffer) Capacity() int { return r.capacity }

// Available is the number of unread samples per channel.
func (r *RingBuffer) Available() int { return r.count }

// Free is the number of samples per channel that can still be written.
func (r *RingBuffer) Free() int { return r.capacity - r.count }

// Write appends len(block[0]) samples per channel. It writes nothing and
// returns ErrOverflow when that exceeds Free.
func (r *RingBuffer) Write(block [][]float32) error {
	if len(block) != len(r.data) {
		return ErrBlockShape
	}
	n := blockLen(block)
	if n == 0 {
		return nil
	}
	if n > r.Free() {
		return ErrOverflow
	}
	for ch, src := range block {
		dst := r.data[ch]
		first := copy(dst[r.write:], src[:n])
		copy(dst, src[first:n])
	}
	r.write = (r.write + n) % r.capacity
	r.count += n
	return nil
}

// WriteSilence appends n zero samples per channel.
func (r *RingBuffer) WriteSilence(n int) error {
	if n <= 0 {
		return nil
	}
	if n > r.Free() {
		return ErrOverflow
	}
	for _, dst := range r.data {
		first := clear32(dst[r.write:], n)
		clear32(dst, n-first)
	}
	r.write = (r.write + n) % r.capacity
	r.count += n
	return nil
}

// Read removes exactly len(dst[0]) samples per channel into dst. It reads
// nothing and returns ErrUnderflow when fewer are available.
func (r *RingBuffer) Read(dst [][]float32) error {
	if len(dst) != len(r.data) {
		return ErrBlockShape
	}
	n := blockLen(dst)
	if n == 0 {
		return nil
	}
	if n > r.count {
		return ErrUnderflow
	}
	for ch, out := range dst {
		src := r.data[ch]
		first := copy(out[:n], src[r.read:])
		copy(out[first:n], src)
	}
	r.read = (r.read + n) % r.capacity
	r.count -= n
	return nil
}

// Reset discards all buffered samples.
func (r *RingBuffer) Reset() {
	r.read, r.write, r.count = 0, 0, 0
}

func blockLen(block [][]float32) int {
	if len(block) == 0 {
		return 0
	}
	n := len(block[0])
	for _, b := range block[1:] {
		if len(b) < n {
			n = len(b)
		}
	}
	return n
}

// clear32 zeroes up to n leading samples of s and returns how many it did.
func clear32(s []float32, n int) int {
	if n > len(s) {
		n = len(s)
	}
	if n <= 0 {
		return 0
	}
	clear(s[:n])
	return n
}
