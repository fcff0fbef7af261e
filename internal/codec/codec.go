// Package codec describes the lossy codec capability the transcoding
// pipeline round-trips audio through: a stateful encoder/decoder pair that
// works one fixed-length frame at a time and whose bitrate can be changed in
// place. Backends are looked up by name: "opus" is libopus and needs the
// `opus` build tag, "gopus" is a pure-Go Opus that is always available.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SampleRate is the only rate the codec runs at.
const SampleRate = 48000

// MaxPacketBytes bounds one compressed frame. It is the size libopus
// recommends for a single packet at any legal frame duration.
const MaxPacketBytes = 4000

// Bitrate limits accepted by the codec, in bits per second.
const (
	MinBitrate = 6000
	MaxBitrate = 510000
)

var (
	ErrIllegalFrameSize = errors.New("codec: illegal frame size")
	ErrUnavailable      = errors.New("codec: backend not compiled in")
	ErrUnknownBackend   = errors.New("codec: unknown backend")
)

// Application selects the codec's tuning. LowDelay disables the extra
// look-ahead used for speech/music analysis.
type Application int

const (
	LowDelay Application = iota
	Audio
	VoIP
)

func (a Application) String() string {
	switch a {
	case LowDelay:
		return "lowdelay"
	case Audio:
		return "audio"
	case VoIP:
		return "voip"
	default:
		return fmt.Sprintf("application(%d)", int(a))
	}
}

// ParseApplication accepts the names produced by Application.String.
func ParseApplication(s string) (Application, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lowdelay", "low-delay", "restricted-lowdelay":
		return LowDelay, nil
	case "audio", "music":
		return Audio, nil
	case "voip", "speech":
		return VoIP, nil
	}
	return LowDelay, fmt.Errorf("codec: unknown application %q", s)
}

// Config is what a backend needs to build an encoder/decoder pair.
type Config struct {
	SampleRate  int
	Channels    int
	Application Application
	// Complexity is the encoder effort, 0..10.
	Complexity int
	// Bitrate is the initial target in bits per second.
	Bitrate int
}

// Codec is one encoder plus one decoder with persistent internal state.
// PCM is interleaved float32. Implementations are not safe for concurrent
// use.
type Codec interface {
	// Encode compresses one frame into packet and returns the packet length.
	Encode(pcm []float32, packet []byte) (int, error)
	// Decode expands packet into pcm and returns samples per channel.
	Decode(packet []byte, pcm []float32) (int, error)
	// SetBitrate changes the encoder target without touching its state.
	SetBitrate(bps int) error
	// Reset returns both encoder and decoder to their initial state.
	Reset() error
	// Lookahead is the codec's algorithmic delay in samples per channel.
	Lookahead() int
	Close() error
}

// Constructor builds a backend.
type Constructor func(Config) (Codec, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register makes a backend available under name. Registering the same name
// twice replaces the previous constructor.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = c
}

// New builds the named backend.
func New(name string, cfg Config) (Codec, error) {
	registryMu.RLock()
	c, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return c(cfg)
}

// Backends lists registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ClampBitrate limits bps to what the codec accepts.
func ClampBitrate(bps int) int {
	if bps < MinBitrate {
		return MinBitrate
	}
	if bps > MaxBitrate {
		return MaxBitrate
	}
	return bps
}

// NewDefault builds DefaultBackend.
func NewDefault(cfg Config) (Codec, error) {
	return New(DefaultBackend, cfg)
}

func clampComplexity(c int) int {
	if c < 0 {
		return 0
	}
	if c > 10 {
		return 10
	}
	return c
}

func init() {
	Register("opus", NewOpus)
	Register("gopus", NewGopus)
}
