// Package codectest provides a deterministic lossy codec for tests and for
// builds without libopus. It quantizes each sample to a bitrate-dependent
// step, optionally delays the decoded signal, and can be told to corrupt a
// packet so the decoder loses sync.
package codectest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/codecrush-lab/internal/codec"
)

const headerBytes = 3

var (
	ErrDesync          = errors.New("codectest: packet sequence mismatch")
	ErrPacketTooSmall  = errors.New("codectest: packet buffer too small")
	ErrResetFailed     = errors.New("codectest: reset failed")
	ErrBitrateRejected = errors.New("codectest: bitrate rejected")
)

// Quantizer implements codec.Codec. Each packet carries a sequence number
// and the bit depth used, followed by one int8 code per sample.
type Quantizer struct {
	cfg   codec.Config
	delay int

	bitrate int
	encSeq  uint16
	decSeq  uint16
	// history holds the last delay decoded samples, interleaved.
	history []float32

	corruptNext bool
	FailReset   bool
	FailBitrate bool

	Encodes        int
	Decodes        int
	Resets         int
	BitrateChanges int
}

// New builds a Quantizer with no algorithmic delay.
func New(cfg codec.Config) *Quantizer {
	return NewWithDelay(cfg, 0)
}

// NewWithDelay builds a Quantizer whose decoder output lags its input by
// delay samples per channel.
func NewWithDelay(cfg codec.Config, delay int) *Quantizer {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = codec.SampleRate
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 64000
	}
	return &Quantizer{
		cfg:     cfg,
		delay:   delay,
		bitrate: codec.ClampBitrate(cfg.Bitrate),
		history: make([]float32, delay*cfg.Channels),
	}
}

// Corrupt makes the next encoded packet carry a wrong sequence number.
func (q *Quantizer) Corrupt() { q.corruptNext = true }

// Bitrate is the target currently applied to the encoder.
func (q *Quantizer) Bitrate() int { return q.bitrate }

// BitsPerSample is the quantizer depth used at bps for this channel count.
func (q *Quantizer) BitsPerSample(bps int) int {
	bits := bps / (q.cfg.Channels * 8000)
	if bits < 2 {
		bits = 2
	}
	if bits > 8 {
		bits = 8
	}
	return bits
}

func (q *Quantizer) Encode(pcm []float32, packet []byte) (int, error) {
	ch := q.cfg.Channels
	if len(pcm)%ch != 0 || !codec.IsLegalFrameSize(len(pcm)/ch, q.cfg.SampleRate) {
		return 0, fmt.Errorf("%w: %d samples", codec.ErrIllegalFrameSize, len(pcm)/ch)
	}
	need := headerBytes + len(pcm)
	if len(packet) < need {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrPacketTooSmall, need, len(packet))
	}
	bits := q.BitsPerSample(q.bitrate)
	scale := float64(int(1)<<(bits-1)) - 1
	seq := q.encSeq
	if q.corruptNext {
		seq++
		q.corruptNext = false
	}
	binary.BigEndian.PutUint16(packet[0:2], seq)
	packet[2] = byte(bits)
	for i, s := range pcm {
		v := math.Round(float64(s) * scale)
		if v > scale {
			v = scale
		}
		if v < -scale {
			v = -scale
		}
		packet[headerBytes+i] = byte(int8(v))
	}
	q.encSeq++
	q.Encodes++
	return need, nil
}

// Decode returns the bare ErrDesync on a bad packet so the recovery path
// stays allocation free.
func (q *Quantizer) Decode(packet []byte, pcm []float32) (int, error) {
	if len(packet) < headerBytes {
		return 0, ErrDesync
	}
	if seq := binary.BigEndian.Uint16(packet[0:2]); seq != q.decSeq {
		return 0, ErrDesync
	}
	codes := packet[headerBytes:]
	if len(codes) > len(pcm) {
		return 0, ErrDesync
	}
	bits := int(packet[2])
	scale := float32(int(1)<<(bits-1)) - 1
	n := len(codes)
	d := len(q.history)
	// out = history ++ decoded, keep the last d samples as new history.
	for i := 0; i < n; i++ {
		v := float32(int8(codes[i])) / scale
		if d == 0 {
			pcm[i] = v
			continue
		}
		if i < d {
			pcm[i] = q.history[i]
		} else {
			pcm[i] = float32(int8(codes[i-d])) / scale
		}
	}
	if d > 0 {
		if n >= d {
			for i := 0; i < d; i++ {
				q.history[i] = float32(int8(codes[n-d+i])) / scale
			}
		} else {
			copy(q.history, q.history[n:])
			for i := 0; i < n; i++ {
				q.history[d-n+i] = float32(int8(codes[i])) / scale
			}
		}
	}
	q.decSeq++
	q.Decodes++
	return n / q.cfg.Channels, nil
}

func (q *Quantizer) SetBitrate(bps int) error {
	if q.FailBitrate {
		return ErrBitrateRejected
	}
	q.bitrate = codec.ClampBitrate(bps)
	q.BitrateChanges++
	return nil
}

func (q *Quantizer) Reset() error {
	if q.FailReset {
		return ErrResetFailed
	}
	q.encSeq = 0
	q.decSeq = 0
	q.corruptNext = false
	for i := range q.history {
		q.history[i] = 0
	}
	q.Resets++
	return nil
}

func (q *Quantizer) Lookahead() int { return q.delay }

func (q *Quantizer) Close() error { return nil }

func init() {
	codec.Register("test", func(cfg codec.Config) (codec.Codec, error) {
		return New(cfg), nil
	})
}
