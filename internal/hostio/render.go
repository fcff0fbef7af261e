package hostio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/codecrush-lab/internal/logging"
	"github.com/codecrush-lab/internal/state"
	"github.com/codecrush-lab/internal/transcode"
)

const renderBitDepth = 16

// Pipeline is what the renderer drives. *transcode.Pipeline implements it.
type Pipeline interface {
	Processor
	SetQuality(q float64)
	Bitrate() int
	Latency() int
	ID() string
	Stats() transcode.Stats
	Config() transcode.Config
}

// Ramp moves the quality control linearly across the file.
type Ramp struct {
	From float64
	To   float64
}

// RenderOptions control how the file is streamed.
type RenderOptions struct {
	// Blocks is the host block-size pattern, repeated until the input ends.
	// An empty pattern means one fixed block of the pipeline's MaxBlock.
	Blocks []int
	// Compensate drops the first Latency() output samples and flushes the
	// same amount of silence through, so output lines up with input.
	Compensate bool
	// Ramp, when set, automates the quality control.
	Ramp *Ramp
	// SidecarPath receives a JSON report. Empty skips it.
	SidecarPath string
}

// RenderReport summarizes one render and is what the sidecar holds.
type RenderReport struct {
	Session        string          `json:"session"`
	Input          string          `json:"input"`
	Output         string          `json:"output"`
	SampleRate     int             `json:"sample_rate"`
	Channels       int             `json:"channels"`
	FrameSize      int             `json:"frame_samples"`
	LatencySamples int             `json:"latency_samples"`
	Compensated    bool            `json:"compensated"`
	Samples        int             `json:"samples"`
	Blocks         int             `json:"blocks"`
	BitrateMin     int             `json:"bitrate_min"`
	BitrateMax     int             `json:"bitrate_max"`
	Stats          transcode.Stats `json:"stats"`
	StartedAt      time.Time       `json:"started_at"`
	Elapsed        string          `json:"elapsed"`
}

// Render streams inPath through p as a host would and writes the processed
// audio to outPath as 16-bit PCM. p must already be prepared. The input must
// be at the pipeline's sample rate; mono and stereo are adapted to the
// pipeline's channel count.
func Render(ctx context.Context, p Pipeline, inPath, outPath string, opts RenderOptions) (RenderReport, error) {
	started := time.Now()
	cfg := p.Config()
	src, err := readWAV(inPath, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return RenderReport{}, err
	}
	total := len(src[0])
	latency := p.Latency()
	pattern := opts.Blocks
	if len(pattern) == 0 {
		pattern = []int{cfg.MaxBlock}
	}
	for _, b := range pattern {
		if b <= 0 {
			return RenderReport{}, fmt.Errorf("hostio: block size %d must be positive", b)
		}
	}

	skip := 0
	if opts.Compensate {
		skip = latency
	}
	feed := total + skip
	dst := make([][]float32, cfg.Channels)
	for ch := range dst {
		dst[ch] = make([]float32, total)
	}

	largest := 0
	for _, b := range pattern {
		largest = max(largest, b)
	}
	in := make([][]float32, cfg.Channels)
	out := make([][]float32, cfg.Channels)
	inBuf := make([][]float32, cfg.Channels)
	outBuf := make([][]float32, cfg.Channels)
	for ch := range inBuf {
		inBuf[ch] = make([]float32, largest)
		outBuf[ch] = make([]float32, largest)
	}

	rep := RenderReport{
		Session:        p.ID(),
		Input:          inPath,
		Output:         outPath,
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		FrameSize:      cfg.FrameSize,
		LatencySamples: latency,
		Compensated:    opts.Compensate,
		Samples:        total,
		BitrateMin:     p.Bitrate(),
		BitrateMax:     p.Bitrate(),
		StartedAt:      started.UTC(),
	}

	pos := 0
	for i := 0; pos < feed; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n := min(pattern[i%len(pattern)], feed-pos)
		if opts.Ramp != nil && total > 0 {
			t := float64(min(pos, total)) / float64(total)
			p.SetQuality(opts.Ramp.From + (opts.Ramp.To-opts.Ramp.From)*t)
		}
		for ch := range in {
			in[ch] = inBuf[ch][:n]
			out[ch] = outBuf[ch][:n]
			avail := 0
			if pos < total {
				avail = copy(in[ch], src[ch][pos:])
			}
			clear(in[ch][avail:])
		}
		if err := p.Process(in, out, cfg.SampleRate); err != nil {
			return rep, fmt.Errorf("hostio: process block %d at sample %d: %w", i, pos, err)
		}
		b := p.Bitrate()
		rep.BitrateMin = min(rep.BitrateMin, b)
		rep.BitrateMax = max(rep.BitrateMax, b)
		// output sample pos+k lands at pos+k-skip in the file
		for ch := range out {
			for k := 0; k < n; k++ {
				j := pos + k - skip
				if j >= 0 && j < total {
					dst[ch][j] = out[ch][k]
				}
			}
		}
		pos += n
		rep.Blocks++
	}

	if err := writeWAV(outPath, dst, cfg.SampleRate); err != nil {
		return rep, err
	}
	rep.Stats = p.Stats()
	rep.Elapsed = time.Since(started).String()
	if opts.SidecarPath != "" {
		if err := writeSidecar(opts.SidecarPath, rep); err != nil {
			return rep, err
		}
	}
	logging.Infow("hostio: render finished", append(logging.SessionFields(rep.Session),
		"input", inPath,
		"output", outPath,
		"samples", total,
		"blocks", rep.Blocks,
		"latency_samples", latency,
		"elapsed", rep.Elapsed,
	)...)
	return rep, nil
}

// readWAV decodes a PCM WAV into per-channel float32 at rate, adapting mono
// and stereo to channels.
func readWAV(path string, rate, channels int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hostio: open input: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("hostio: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("hostio: decode %s: %w", path, err)
	}
	if int(dec.SampleRate) != rate {
		return nil, fmt.Errorf("%w: %s is %d Hz, pipeline runs at %d Hz", transcode.ErrUnsupportedSampleRate, path, dec.SampleRate, rate)
	}
	fileCh := int(dec.NumChans)
	if fileCh < 1 || fileCh > 2 {
		return nil, fmt.Errorf("hostio: %s has %d channels, want 1 or 2", path, fileCh)
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		return nil, fmt.Errorf("hostio: %s has unsupported bit depth %d", path, dec.BitDepth)
	}
	scale := float32(int64(1) << (dec.BitDepth - 1))

	frames := len(buf.Data) / fileCh
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			var v float32
			switch {
			case fileCh == channels:
				v = float32(buf.Data[i*fileCh+ch]) / scale
			case fileCh == 1:
				v = float32(buf.Data[i]) / scale
			default:
				// stereo file into a mono pipeline
				v = (float32(buf.Data[i*2]) + float32(buf.Data[i*2+1])) / (2 * scale)
			}
			out[ch][i] = v
		}
	}
	return out, nil
}

// writeWAV encodes per-channel float32 as 16-bit PCM.
func writeWAV(path string, src [][]float32, rate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hostio: create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("hostio: close output: %w", cerr)
		}
	}()

	channels := len(src)
	frames := 0
	if channels > 0 {
		frames = len(src[0])
	}
	const peak = float32(1<<(renderBitDepth-1) - 1)
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := src[ch][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			data[i*channels+ch] = int(v * peak)
		}
	}

	enc := wav.NewEncoder(f, rate, renderBitDepth, channels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: renderBitDepth,
	}); err != nil {
		return errors.Join(fmt.Errorf("hostio: encode output: %w", err), enc.Close())
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("hostio: finalize output: %w", err)
	}
	return nil
}

func writeSidecar(path string, rep RenderReport) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("hostio: encode sidecar: %w", err)
	}
	if err := state.SaveFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("hostio: write sidecar: %w", err)
	}
	return nil
}
