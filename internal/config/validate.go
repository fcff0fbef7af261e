package config

import (
	"fmt"
	"strings"

	"github.com/codecrush-lab/internal/codec"
)

// ValidationError collects every invalid setting found in one pass.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("config: invalid settings: %s", strings.Join(ve.Errors, "; "))
}

// Validate reports all invalid values at once.
func (s *Settings) Validate() error {
	ve := ValidationError{}
	add := func(format string, args ...interface{}) {
		ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
	}

	if s.Audio.SampleRate != codec.SampleRate {
		add("audio.sample_rate must be %d, got %d", codec.SampleRate, s.Audio.SampleRate)
	}
	if s.Audio.Channels < 1 || s.Audio.Channels > 2 {
		add("audio.channels must be 1 or 2, got %d", s.Audio.Channels)
	}
	if s.Audio.FrameMs <= 0 {
		add("audio.frame_ms must be positive, got %v", s.Audio.FrameMs)
	}
	if s.Audio.MaxBlock <= 0 {
		add("audio.max_block must be positive, got %d", s.Audio.MaxBlock)
	}
	if s.Audio.Period < 0 {
		add("audio.period must not be negative, got %d", s.Audio.Period)
	}
	if _, err := codec.ParseApplication(s.Codec.Application); err != nil {
		add("codec.application: %v", err)
	}
	if s.Codec.Complexity < 0 || s.Codec.Complexity > 10 {
		add("codec.complexity must be 0..10, got %d", s.Codec.Complexity)
	}
	if s.Quality.Default < 0 || s.Quality.Default > 1 {
		add("quality.default must be in [0, 1], got %v", s.Quality.Default)
	}
	if s.Quality.MinBitrate < codec.MinBitrate || s.Quality.MaxBitrate > codec.MaxBitrate {
		add("quality bitrates must lie in [%d, %d]", codec.MinBitrate, codec.MaxBitrate)
	}
	if s.Quality.MinBitrate > s.Quality.MaxBitrate {
		add("quality.min_bitrate %d exceeds quality.max_bitrate %d", s.Quality.MinBitrate, s.Quality.MaxBitrate)
	}
	if s.Quality.MaxStepFraction <= 0 || s.Quality.MaxStepFraction > 1 {
		add("quality.max_step_fraction must be in (0, 1], got %v", s.Quality.MaxStepFraction)
	}
	if s.Control.Enabled && s.Control.Listen == "" {
		add("control.listen is required when control is enabled")
	}
	if s.Monitor.Interval < 0 {
		add("monitor.interval must not be negative")
	}
	for _, b := range s.Render.Blocks {
		if b <= 0 {
			add("render.blocks entries must be positive, got %d", b)
			break
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
