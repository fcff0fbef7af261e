//go:build opus
// +build opus

package codec

import (
	"fmt"

	"github.com/hraban/opus"
)

// DefaultBackend is the backend used when none is configured.
const DefaultBackend = "opus"

// opusCodec wraps a libopus encoder and decoder that share one stream. The
// decoder always receives exactly the packets this encoder produced.
//
// libopus decoders cannot be reset through the binding, so a fresh spare
// decoder is kept ready. Reset swaps it in and a background goroutine builds
// the next one off the audio goroutine.
type opusCodec struct {
	cfg     Config
	enc     *opus.Encoder
	dec     *opus.Decoder
	bitrate int

	spare  chan *opus.Decoder
	refill chan struct{}
	done   chan struct{}
}

// NewOpus builds an Opus encoder/decoder pair for cfg.
func NewOpus(cfg Config) (Codec, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = SampleRate
	}
	c := &opusCodec{
		cfg:    cfg,
		spare:  make(chan *opus.Decoder, 1),
		refill: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	spare, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create spare opus decoder: %w", err)
	}
	c.spare <- spare
	go c.refillSpare()
	return c, nil
}

func (c *opusCodec) refillSpare() {
	for {
		select {
		case <-c.done:
			return
		case <-c.refill:
		}
		dec, err := opus.NewDecoder(c.cfg.SampleRate, c.cfg.Channels)
		if err != nil {
			continue
		}
		select {
		case c.spare <- dec:
		case <-c.done:
			return
		}
	}
}

func (c *opusCodec) open() error {
	enc, err := opus.NewEncoder(c.cfg.SampleRate, c.cfg.Channels, opusApplication(c.cfg.Application))
	if err != nil {
		return fmt.Errorf("codec: create opus encoder: %w", err)
	}
	if err := enc.SetComplexity(clampComplexity(c.cfg.Complexity)); err != nil {
		return fmt.Errorf("codec: set opus complexity: %w", err)
	}
	bitrate := c.bitrate
	if bitrate == 0 {
		bitrate = c.cfg.Bitrate
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(ClampBitrate(bitrate)); err != nil {
			return fmt.Errorf("codec: set opus bitrate: %w", err)
		}
		c.bitrate = ClampBitrate(bitrate)
	}
	dec, err := opus.NewDecoder(c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return fmt.Errorf("codec: create opus decoder: %w", err)
	}
	c.enc = enc
	c.dec = dec
	return nil
}

func (c *opusCodec) Encode(pcm []float32, packet []byte) (int, error) {
	n, err := c.enc.EncodeFloat32(pcm, packet)
	if err != nil {
		return 0, fmt.Errorf("codec: opus encode: %w", err)
	}
	return n, nil
}

func (c *opusCodec) Decode(packet []byte, pcm []float32) (int, error) {
	n, err := c.dec.DecodeFloat32(packet, pcm)
	if err != nil {
		return 0, fmt.Errorf("codec: opus decode: %w", err)
	}
	return n, nil
}

func (c *opusCodec) SetBitrate(bps int) error {
	bps = ClampBitrate(bps)
	if err := c.enc.SetBitrate(bps); err != nil {
		return fmt.Errorf("codec: set opus bitrate: %w", err)
	}
	c.bitrate = bps
	return nil
}

// Reset resets the encoder in place and swaps in the spare decoder. Only when
// two resets arrive before the spare is rebuilt does it build a decoder on
// the calling goroutine.
func (c *opusCodec) Reset() error {
	if err := c.enc.Reset(); err != nil {
		return fmt.Errorf("codec: reset opus encoder: %w", err)
	}
	select {
	case dec := <-c.spare:
		c.dec = dec
		select {
		case c.refill <- struct{}{}:
		default:
		}
		return nil
	default:
	}
	dec, err := opus.NewDecoder(c.cfg.SampleRate, c.cfg.Channels)
	if err != nil {
		return fmt.Errorf("codec: create opus decoder: %w", err)
	}
	c.dec = dec
	return nil
}

// Lookahead mirrors libopus: Fs/400 of analysis delay, plus Fs/250 of delay
// compensation unless the encoder runs in restricted low-delay mode.
func (c *opusCodec) Lookahead() int {
	la := c.cfg.SampleRate / 400
	if c.cfg.Application != LowDelay {
		la += c.cfg.SampleRate / 250
	}
	return la
}

func (c *opusCodec) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.enc = nil
	c.dec = nil
	return nil
}

func opusApplication(a Application) opus.Application {
	switch a {
	case Audio:
		return opus.AppAudio
	case VoIP:
		return opus.AppVoIP
	default:
		return opus.AppRestrictedLowdelay
	}
}
