// Package hostio holds the hosts that drive a pipeline: a live duplex audio
// device and an offline renderer that streams a WAV file through Process in
// host-sized blocks.
package hostio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/codecrush-lab/internal/logging"
)

const bytesPerSample = 4

// Processor is the host boundary of a pipeline.
type Processor interface {
	Process(in, out [][]float32, sampleRate int) error
}

// DeviceOptions configures the live device.
type DeviceOptions struct {
	SampleRate int
	Channels   int
	// PeriodFrames is the requested callback size; the backend may choose
	// another.
	PeriodFrames int
	// MaxBlock bounds how many samples per channel are handed to Process
	// at once. Larger callbacks are split.
	MaxBlock int
}

// Device runs a Processor inside a malgo full-duplex callback.
type Device struct {
	opts DeviceOptions
	proc Processor

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	dev    *malgo.Device
	rate   int
	active atomic.Bool

	in, out       [][]float32
	inView        [][]float32
	outView       [][]float32
	callbacks     atomic.Uint64
	rejected      atomic.Uint64
	lastRejectErr atomic.Pointer[error]
}

// NewDevice pre-allocates the callback buffers. Nothing is opened until
// Start.
func NewDevice(proc Processor, opts DeviceOptions) *Device {
	if opts.MaxBlock <= 0 {
		opts.MaxBlock = 512
	}
	d := &Device{
		opts:    opts,
		proc:    proc,
		rate:    opts.SampleRate,
		in:      make([][]float32, opts.Channels),
		out:     make([][]float32, opts.Channels),
		inView:  make([][]float32, opts.Channels),
		outView: make([][]float32, opts.Channels),
	}
	for ch := 0; ch < opts.Channels; ch++ {
		d.in[ch] = make([]float32, opts.MaxBlock)
		d.out[ch] = make([]float32, opts.MaxBlock)
	}
	return d
}

// Start opens the default capture and playback devices and begins
// streaming.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active.Load() {
		return errors.New("hostio: device already running")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logging.Debugw("hostio: malgo", "msg", msg)
	})
	if err != nil {
		return fmt.Errorf("hostio: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(d.opts.Channels)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(d.opts.Channels)
	cfg.SampleRate = uint32(d.opts.SampleRate)
	if d.opts.PeriodFrames > 0 {
		cfg.PeriodSizeInFrames = uint32(d.opts.PeriodFrames)
	}
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("hostio: init duplex device: %w", err)
	}
	d.rate = int(dev.SampleRate())
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("hostio: start device: %w", err)
	}
	d.mctx = mctx
	d.dev = dev
	d.active.Store(true)
	logging.Infow("hostio: device started",
		"audio.sample_rate", d.rate,
		"audio.channels", d.opts.Channels,
		"period", d.opts.PeriodFrames,
		"max_block", d.opts.MaxBlock,
	)
	return nil
}

// Stop closes the device. It is safe to call more than once.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Stop()
	d.dev.Uninit()
	d.dev = nil
	if uerr := d.mctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	d.mctx.Free()
	d.mctx = nil
	d.active.Store(false)
	if err != nil {
		return fmt.Errorf("hostio: stop device: %w", err)
	}
	logging.Infow("hostio: device stopped", "callbacks", d.callbacks.Load(), "rejected", d.rejected.Load())
	return nil
}

// Active reports whether the device is streaming.
func (d *Device) Active() bool { return d.active.Load() }

// Callbacks counts data callbacks served.
func (d *Device) Callbacks() uint64 { return d.callbacks.Load() }

// Rejected counts blocks Process refused; their output was silence.
func (d *Device) Rejected() uint64 { return d.rejected.Load() }

// LastRejection is the most recent error Process returned, or nil.
func (d *Device) LastRejection() error {
	if p := d.lastRejectErr.Load(); p != nil {
		return *p
	}
	return nil
}

// onData is the realtime callback: interleaved float32 in and out.
func (d *Device) onData(output, input []byte, frames uint32) {
	d.callbacks.Add(1)
	ch := d.opts.Channels
	total := int(frames)
	for off := 0; off < total; off += d.opts.MaxBlock {
		n := min(d.opts.MaxBlock, total-off)
		for c := 0; c < ch; c++ {
			d.inView[c] = d.in[c][:n]
			d.outView[c] = d.out[c][:n]
		}
		deinterleaveBytes(input, d.inView, off, n)
		if err := d.proc.Process(d.inView, d.outView, d.rate); err != nil {
			d.rejected.Add(1)
			if d.LastRejection() != err {
				d.lastRejectErr.Store(&err)
			}
			for c := 0; c < ch; c++ {
				clear(d.outView[c])
			}
		}
		interleaveBytes(d.outView, output, off, n)
	}
}

func (d *Device) onStop() {
	d.active.Store(false)
	logging.Warnw("hostio: device stopped by backend")
}

// deinterleaveBytes decodes n native-endian float32 frames starting at
// frame off into dst. Missing input reads as silence.
func deinterleaveBytes(src []byte, dst [][]float32, off, n int) {
	ch := len(dst)
	for i := 0; i < n; i++ {
		for c := 0; c < ch; c++ {
			pos := ((off+i)*ch + c) * bytesPerSample
			if pos+bytesPerSample > len(src) {
				dst[c][i] = 0
				continue
			}
			dst[c][i] = math.Float32frombits(binary.NativeEndian.Uint32(src[pos:]))
		}
	}
}

// interleaveBytes encodes n frames of src into dst starting at frame off.
func interleaveBytes(src [][]float32, dst []byte, off, n int) {
	ch := len(src)
	for i := 0; i < n; i++ {
		for c := 0; c < ch; c++ {
			pos := ((off+i)*ch + c) * bytesPerSample
			if pos+bytesPerSample > len(dst) {
				return
			}
			binary.NativeEndian.PutUint32(dst[pos:], math.Float32bits(src[c][i]))
		}
	}
}
