package codec

import (
	"fmt"

	"github.com/thesyncim/gopus"
)

// gopusCodec is a pure-Go Opus encoder/decoder pair. It needs no cgo, so it
// backs builds without libopus. Both halves reset in place.
type gopusCodec struct {
	cfg   Config
	enc   *gopus.Encoder
	dec   *gopus.Decoder
	frame int
}

// NewGopus builds a pure-Go Opus encoder/decoder pair for cfg.
func NewGopus(cfg Config) (Codec, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = SampleRate
	}
	enc, err := gopus.NewEncoder(gopus.EncoderConfig{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		Application: gopusApplication(cfg.Application),
	})
	if err != nil {
		return nil, fmt.Errorf("codec: create gopus encoder: %w", err)
	}
	if err := enc.SetComplexity(clampComplexity(cfg.Complexity)); err != nil {
		return nil, fmt.Errorf("codec: set gopus complexity: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(ClampBitrate(cfg.Bitrate)); err != nil {
			return nil, fmt.Errorf("codec: set gopus bitrate: %w", err)
		}
	}
	dec, err := gopus.NewDecoder(gopus.DefaultDecoderConfig(cfg.SampleRate, cfg.Channels))
	if err != nil {
		return nil, fmt.Errorf("codec: create gopus decoder: %w", err)
	}
	return &gopusCodec{cfg: cfg, enc: enc, dec: dec, frame: enc.FrameSize()}, nil
}

// Encode follows the frame length of pcm; the encoder is reconfigured only
// when it changes.
func (c *gopusCodec) Encode(pcm []float32, packet []byte) (int, error) {
	if frame := len(pcm) / c.cfg.Channels; frame != c.frame {
		if err := c.enc.SetFrameSize(frame); err != nil {
			return 0, fmt.Errorf("%w: %d samples: %w", ErrIllegalFrameSize, frame, err)
		}
		c.frame = frame
	}
	return c.enc.Encode(pcm, packet)
}

// Decode treats an empty packet, which the encoder emits while its
// lookahead fills, as one frame of silence.
func (c *gopusCodec) Decode(packet []byte, pcm []float32) (int, error) {
	if len(packet) == 0 {
		clear(pcm[:c.frame*c.cfg.Channels])
		return c.frame, nil
	}
	return c.dec.Decode(packet, pcm)
}

func (c *gopusCodec) SetBitrate(bps int) error {
	return c.enc.SetBitrate(ClampBitrate(bps))
}

func (c *gopusCodec) Reset() error {
	c.enc.Reset()
	c.dec.Reset()
	return nil
}

func (c *gopusCodec) Lookahead() int { return c.enc.Lookahead() }

func (c *gopusCodec) Close() error {
	c.enc = nil
	c.dec = nil
	return nil
}

func gopusApplication(a Application) gopus.Application {
	switch a {
	case Audio:
		return gopus.ApplicationAudio
	case VoIP:
		return gopus.ApplicationVoIP
	default:
		return gopus.ApplicationLowDelay
	}
}
