// Package config loads codecrush settings from defaults, an optional YAML
// file, CODECRUSH_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/codecrush-lab/internal/codec"
	"github.com/codecrush-lab/internal/transcode"
)

// EnvPrefix is prepended to every environment override, e.g.
// CODECRUSH_QUALITY_DEFAULT.
const EnvPrefix = "CODECRUSH"

type Settings struct {
	Log     LogSettings     `mapstructure:"log"`
	Audio   AudioSettings   `mapstructure:"audio"`
	Codec   CodecSettings   `mapstructure:"codec"`
	Quality QualitySettings `mapstructure:"quality"`
	Control ControlSettings `mapstructure:"control"`
	State   StateSettings   `mapstructure:"state"`
	Monitor MonitorSettings `mapstructure:"monitor"`
	Render  RenderSettings  `mapstructure:"render"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

type AudioSettings struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	// FrameMs is the codec frame duration; illegal values are clamped.
	FrameMs  float64 `mapstructure:"frame_ms"`
	MaxBlock int     `mapstructure:"max_block"`
	// Period is the preferred callback size of the live device, in samples.
	Period int `mapstructure:"period"`
}

type CodecSettings struct {
	Backend     string `mapstructure:"backend"`
	Application string `mapstructure:"application"`
	Complexity  int    `mapstructure:"complexity"`
}

type QualitySettings struct {
	Default         float64 `mapstructure:"default"`
	MinBitrate      int     `mapstructure:"min_bitrate"`
	MaxBitrate      int     `mapstructure:"max_bitrate"`
	MaxStepFraction float64 `mapstructure:"max_step_fraction"`
}

type ControlSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	// URL is where the quality command finds a running instance.
	URL string `mapstructure:"url"`
}

type StateSettings struct {
	Path string `mapstructure:"path"`
}

type MonitorSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RenderSettings struct {
	// Blocks is the host block pattern, repeated over the file.
	Blocks []int `mapstructure:"blocks"`
	// Compensate drops the leading latency from the rendered file.
	Compensate bool `mapstructure:"compensate"`
	Sidecar    bool `mapstructure:"sidecar"`
}

// setDefaults registers every key so environment variables bind even when
// no config file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("audio.sample_rate", codec.SampleRate)
	v.SetDefault("audio.channels", transcode.DefaultChannels)
	v.SetDefault("audio.frame_ms", 2.5)
	v.SetDefault("audio.max_block", transcode.DefaultMaxBlock)
	v.SetDefault("audio.period", 256)

	v.SetDefault("codec.backend", codec.DefaultBackend)
	v.SetDefault("codec.application", codec.LowDelay.String())
	v.SetDefault("codec.complexity", 10)

	v.SetDefault("quality.default", transcode.DefaultQuality)
	v.SetDefault("quality.min_bitrate", transcode.DefaultMinBitrate)
	v.SetDefault("quality.max_bitrate", transcode.DefaultMaxBitrate)
	v.SetDefault("quality.max_step_fraction", transcode.DefaultMaxStepFraction)

	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", ":9001")
	v.SetDefault("control.url", "ws://localhost:9001/mcp/ws")

	v.SetDefault("state.path", "")
	v.SetDefault("monitor.interval", 15*time.Second)

	v.SetDefault("render.blocks", []int{transcode.DefaultMaxBlock})
	v.SetDefault("render.compensate", true)
	v.SetDefault("render.sidecar", true)
}

// Loader wraps a private viper instance so tests and commands do not share
// global state.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares defaults and environment binding.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlags lets flags override file and environment values. A flag named
// "frame-ms" binds to key "audio.frame_ms" through the keys map; flags not
// listed bind under their own name.
func (l *Loader) BindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads path (if non-empty), then unmarshals and validates.
func (l *Loader) Load(path string) (*Settings, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	s := &Settings{}
	if err := l.v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Viper exposes the underlying instance for commands that need raw keys.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load is shorthand for NewLoader().Load(path).
func Load(path string) (*Settings, error) {
	return NewLoader().Load(path)
}

// FrameSize is the configured frame duration in samples per channel,
// clamped to a legal codec frame.
func (s *Settings) FrameSize() int {
	return codec.FrameSizeFromDuration(s.Audio.FrameMs, s.Audio.SampleRate)
}

// PipelineConfig builds the transcode configuration these settings
// describe.
func (s *Settings) PipelineConfig() (transcode.Config, error) {
	app, err := codec.ParseApplication(s.Codec.Application)
	if err != nil {
		return transcode.Config{}, err
	}
	backend := s.Codec.Backend
	return transcode.Config{
		SampleRate:  s.Audio.SampleRate,
		Channels:    s.Audio.Channels,
		FrameSize:   s.FrameSize(),
		MaxBlock:    s.Audio.MaxBlock,
		Application: app,
		Complexity:  s.Codec.Complexity,
		Curve: transcode.Curve{
			Min: s.Quality.MinBitrate,
			Max: s.Quality.MaxBitrate,
		},
		MaxStepFraction: s.Quality.MaxStepFraction,
		Quality:         s.Quality.Default,
		NewCodec: func(cfg codec.Config) (codec.Codec, error) {
			return codec.New(backend, cfg)
		},
	}, nil
}
