// Package transcode is the real-time core: it round-trips a live audio
// stream through a lossy codec frame by frame, reconciling the host's block
// size with the codec's frame size, smoothing bitrate changes and reporting
// the resulting fixed latency.
package transcode

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codecrush-lab/internal/codec"
	"github.com/codecrush-lab/internal/logging"
)

// State is the pipeline lifecycle position.
type State int32

const (
	Uninitialized State = iota
	Ready
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults used when a Config field is zero.
const (
	DefaultChannels = 2
	DefaultMaxBlock = 512
	// DefaultFrameSize is 2.5 ms at 48 kHz, the lowest-latency frame.
	DefaultFrameSize = 120
	// ringMarginFrames is extra ring capacity, in frames, on top of the
	// computed worst case.
	ringMarginFrames = 1
)

// Config fixes everything a session needs at the Ready transition.
type Config struct {
	SampleRate int
	Channels   int
	// FrameSize is in samples per channel; illegal values are clamped to
	// the nearest legal frame length.
	FrameSize int
	// MaxBlock is the largest host block expected per Process call.
	MaxBlock int

	Application codec.Application
	Complexity  int

	Curve           Curve
	MaxStepFraction float64
	// Quality is the initial control value.
	Quality float64

	// NewCodec builds the codec. Defaults to the Opus backend.
	NewCodec func(codec.Config) (codec.Codec, error)
}

// DefaultConfig is stereo Opus at 48 kHz with 2.5 ms frames, transparent
// quality.
func DefaultConfig() Config {
	return Config{
		SampleRate:      codec.SampleRate,
		Channels:        DefaultChannels,
		FrameSize:       DefaultFrameSize,
		MaxBlock:        DefaultMaxBlock,
		Application:     codec.LowDelay,
		Complexity:      10,
		Curve:           DefaultCurve(),
		MaxStepFraction: DefaultMaxStepFraction,
		Quality:         DefaultQuality,
		NewCodec:        codec.NewDefault,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.FrameSize == 0 {
		c.FrameSize = d.FrameSize
	}
	if c.MaxBlock <= 0 {
		c.MaxBlock = d.MaxBlock
	}
	if c.Curve == (Curve{}) {
		c.Curve = d.Curve
	}
	if c.MaxStepFraction == 0 {
		c.MaxStepFraction = d.MaxStepFraction
	}
	if c.NewCodec == nil {
		c.NewCodec = d.NewCodec
	}
	return c
}

// Pipeline is one streaming session. Prepare, Process and Stop are called
// from the host's processing goroutine; SetQuality, Quality, Stats, State
// and Latency are safe from any goroutine.
type Pipeline struct {
	cfg   Config
	state atomic.Int32
	id    string

	smoother  *Smoother
	session   *CodecSession
	scheduler *FrameScheduler
	latency   LatencyReport

	stats counters
	// pending holds a control value set before Prepare built the smoother.
	pending atomic.Pointer[float64]
}

// New returns an Uninitialized pipeline for cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults()}
}

// Prepare performs the Uninitialized → Ready transition: it validates the
// format, builds the codec, allocates and primes every buffer and computes
// the latency. On error the pipeline stays Uninitialized.
func (p *Pipeline) Prepare() error {
	if st := p.State(); st != Uninitialized {
		return fmt.Errorf("%w: prepare from %s", ErrInvalidState, st)
	}
	cfg := p.cfg
	if cfg.SampleRate != codec.SampleRate {
		return fmt.Errorf("%w: %d Hz (only %d Hz)", ErrUnsupportedSampleRate, cfg.SampleRate, codec.SampleRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, cfg.Channels)
	}
	if !codec.IsLegalFrameSize(cfg.FrameSize, cfg.SampleRate) {
		legal := codec.NearestFrameSize(cfg.FrameSize, cfg.SampleRate)
		logging.Warnw("transcode: frame size is not a legal codec frame, clamping", "requested", cfg.FrameSize, "frame_samples", legal)
		cfg.FrameSize = legal
	}

	quality := cfg.Quality
	if q := p.pending.Load(); q != nil {
		quality = *q
	}
	smoother := NewSmoother(cfg.Curve, cfg.MaxStepFraction, quality)

	c, err := cfg.NewCodec(codec.Config{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		Application: cfg.Application,
		Complexity:  cfg.Complexity,
		Bitrate:     smoother.Effective(),
	})
	if err != nil {
		return fmt.Errorf("transcode: create codec: %w", err)
	}
	session, err := NewCodecSession(c, cfg.Channels, cfg.FrameSize, smoother.Effective())
	if err != nil {
		_ = c.Close()
		return err
	}

	f := cfg.FrameSize
	margin := ringMarginFrames * f
	in := NewRingBuffer(cfg.Channels, f+cfg.MaxBlock+margin)
	out := NewRingBuffer(cfg.Channels, 2*f+cfg.MaxBlock+margin)
	latency := ComputeLatency(f, session.Lookahead())
	if err := out.WriteSilence(latency.Priming()); err != nil {
		_ = session.Close()
		return fmt.Errorf("transcode: prime output: %w", err)
	}

	p.cfg = cfg
	p.smoother = smoother
	p.session = session
	p.scheduler = NewFrameScheduler(in, out, session, cfg.MaxBlock, &p.stats)
	p.latency = latency
	p.id = uuid.NewString()
	p.state.Store(int32(Ready))

	logging.Infow("transcode: pipeline ready", logging.With(
		logging.SessionFields(p.id),
		logging.FrameFields(cfg.SampleRate, cfg.Channels, f),
		[]interface{}{
			"latency_samples", latency.Total(),
			"codec_lookahead", latency.CodecLookahead,
			"bitrate", smoother.Effective(),
			"quality", smoother.Target(),
			"max_block", cfg.MaxBlock,
		},
	)...)
	return nil
}

// Process runs one host cycle: in holds the host's input block per channel
// and out receives the same number of processed samples per channel.
// sampleRate is the host's current rate.
//
// It returns nil, ErrNotRunning (never prepared, or stopped), ErrBlockShape
// or ErrUnsupportedSampleRate; in the last three cases no buffer is
// touched. An unrecoverable codec failure silences out, stops the pipeline
// and returns ErrNotRunning.
func (p *Pipeline) Process(in, out [][]float32, sampleRate int) (err error) {
	st := p.State()
	if st != Ready && st != Running {
		return ErrNotRunning
	}
	if sampleRate != p.cfg.SampleRate {
		return ErrUnsupportedSampleRate
	}
	if len(in) != p.cfg.Channels || len(out) != p.cfg.Channels {
		return ErrBlockShape
	}
	for ch := range in {
		if len(in[ch]) != len(in[0]) || len(out[ch]) != len(in[0]) {
			return ErrBlockShape
		}
	}
	if st == Ready {
		p.state.Store(int32(Running))
	}

	defer func() {
		if r := recover(); r != nil {
			silence(out)
			p.fail(fmt.Errorf("transcode: panic in process: %v", r))
			err = ErrNotRunning
		}
	}()

	bitrate := p.smoother.Step()
	if _, ferr := p.scheduler.Run(in, out, bitrate); ferr != nil {
		silence(out)
		p.fail(ferr)
		return ErrNotRunning
	}
	p.stats.cycles.Add(1)
	p.stats.samplesIn.Add(uint64(blockLen(in)))
	p.stats.samplesOut.Add(uint64(blockLen(out)))
	return nil
}

// fail moves a running pipeline to Stopped after an unrecoverable error.
func (p *Pipeline) fail(err error) {
	p.state.Store(int32(Stopped))
	if p.session != nil {
		_ = p.session.Close()
	}
	logging.Errorw("transcode: pipeline stopped after unrecoverable failure", append(logging.SessionFields(p.id), "err", err)...)
}

// Stop releases the codec and moves the pipeline to Stopped. Stopping an
// already stopped pipeline is a no-op. A stopped pipeline cannot be
// prepared again.
func (p *Pipeline) Stop() error {
	prev := State(p.state.Swap(int32(Stopped)))
	if prev == Stopped {
		return nil
	}
	if p.session == nil {
		return nil
	}
	if err := p.session.Close(); err != nil {
		return fmt.Errorf("transcode: close codec: %w", err)
	}
	logging.Infow("transcode: pipeline stopped", append(logging.SessionFields(p.id), "from", prev.String())...)
	return nil
}

// SetQuality publishes a new control value in [0, 1]. It never blocks and
// may be called before Prepare, in which case it replaces Config.Quality.
func (p *Pipeline) SetQuality(q float64) {
	if math.IsNaN(q) {
		return
	}
	if s := p.smootherIfReady(); s != nil {
		s.SetTarget(q)
		return
	}
	q = clampUnit(q)
	p.pending.Store(&q)
}

// Quality is the current control value.
func (p *Pipeline) Quality() float64 {
	if s := p.smootherIfReady(); s != nil {
		return s.Target()
	}
	if q := p.pending.Load(); q != nil {
		return *q
	}
	return clampUnit(p.cfg.Quality)
}

// Bitrate is the effective bitrate of the most recent cycle, or zero before
// Prepare.
func (p *Pipeline) Bitrate() int {
	if s := p.smootherIfReady(); s != nil {
		return s.Effective()
	}
	return 0
}

func (p *Pipeline) smootherIfReady() *Smoother {
	if p.State() == Uninitialized {
		return nil
	}
	return p.smoother
}

// Latency is the total output delay in samples. It is fixed at Prepare.
func (p *Pipeline) Latency() int { return p.latency.Total() }

// TailSamples is how long the effect keeps sounding after input stops.
func (p *Pipeline) TailSamples() int { return p.latency.Total() }

// LatencyReport is the breakdown behind Latency.
func (p *Pipeline) LatencyReport() LatencyReport { return p.latency }

// State is the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// ID is the session UUID assigned at Prepare.
func (p *Pipeline) ID() string {
	if p.State() == Uninitialized {
		return ""
	}
	return p.id
}

// Config is the configuration in effect, after defaults and clamping.
func (p *Pipeline) Config() Config { return p.cfg }

// Stats snapshots the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := p.stats.snapshot()
	s.Bitrate = p.Bitrate()
	s.Quality = p.Quality()
	return s
}

// IsLifecycleError reports whether err is one of the errors Process can
// return to a host.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrNotRunning) || errors.Is(err, ErrUnsupportedSampleRate) || errors.Is(err, ErrBlockShape)
}

func silence(block [][]float32) {
	for _, ch := range block {
		clear(ch)
	}
}
