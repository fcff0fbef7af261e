package hostio

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/codecrush-lab/internal/codec"
	"github.com/codecrush-lab/internal/codec/codectest"
	"github.com/codecrush-lab/internal/transcode"
)

func newTestPipeline(t *testing.T, channels, frameSize, delay int) *transcode.Pipeline {
	t.Helper()
	p := transcode.New(transcode.Config{
		Channels:  channels,
		FrameSize: frameSize,
		MaxBlock:  512,
		Curve:     transcode.Curve{Min: 20000, Max: 64000 * channels},
		Quality:   1,
		NewCodec: func(c codec.Config) (codec.Codec, error) {
			return codectest.NewWithDelay(c, delay), nil
		},
	})
	if err := p.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func tone(i int) float64 {
	return 0.5 * math.Sin(2*math.Pi*330*float64(i)/codec.SampleRate)
}

func writeTone(t *testing.T, path string, channels, frames, rate int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = int(tone(i) * 32767)
		}
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	if err := enc.Write(&audio.IntBuffer{Data: data, Format: &audio.Format{SampleRate: rate, NumChannels: channels}, SourceBitDepth: 16}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func readBack(t *testing.T, path string) *audio.IntBuffer {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return buf
}

// TestRenderCompensatesLatency renders with an irregular block pattern and
// checks the output lines up sample for sample with the input.
func TestRenderCompensatesLatency(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	side := filepath.Join(dir, "out.json")
	const frames = 9000
	writeTone(t, in, 2, frames, codec.SampleRate)

	p := newTestPipeline(t, 2, 480, 25)
	rep, err := Render(context.Background(), p, in, out, RenderOptions{
		Blocks:      []int{1, 300, 512, 64},
		Compensate:  true,
		SidecarPath: side,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rep.LatencySamples != 505 || rep.Samples != frames {
		t.Fatalf("report: %+v", rep)
	}

	buf := readBack(t, out)
	if got := len(buf.Data) / 2; got != frames {
		t.Fatalf("output length: want=%d got=%d", frames, got)
	}
	for i := 0; i < frames; i++ {
		want := tone(i)
		got := float64(buf.Data[i*2]) / 32768
		if math.Abs(got-want) > 0.02 {
			t.Fatalf("sample %d: want=%.4f got=%.4f", i, want, got)
		}
	}

	b, err := os.ReadFile(side)
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	var sc RenderReport
	if err := json.Unmarshal(b, &sc); err != nil {
		t.Fatalf("sidecar json: %v", err)
	}
	if sc.Session != p.ID() || !sc.Compensated || sc.Stats.Underflows != 0 {
		t.Fatalf("sidecar: %+v", sc)
	}
}

// TestRenderWithoutCompensationIsDelayed checks the raw render keeps the
// pipeline's delay at the head of the file.
func TestRenderWithoutCompensationIsDelayed(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeTone(t, in, 1, 4000, codec.SampleRate)

	p := newTestPipeline(t, 1, 240, 0)
	if _, err := Render(context.Background(), p, in, out, RenderOptions{Blocks: []int{256}}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	buf := readBack(t, out)
	for i := 0; i < 240; i++ {
		if buf.Data[i] != 0 {
			t.Fatalf("sample %d inside latency window not silent: %d", i, buf.Data[i])
		}
	}
	if got := float64(buf.Data[240+100]) / 32768; math.Abs(got-tone(100)) > 0.02 {
		t.Fatalf("delayed sample: want=%.4f got=%.4f", tone(100), got)
	}
}

func TestRenderRampAndMonoToStereo(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeTone(t, in, 1, 48000, codec.SampleRate)

	p := newTestPipeline(t, 2, 960, 0)
	rep, err := Render(context.Background(), p, in, out, RenderOptions{
		Blocks:     []int{480},
		Compensate: true,
		Ramp:       &Ramp{From: 1, To: 0},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rep.BitrateMax != 128000 || rep.BitrateMin >= 40000 {
		t.Fatalf("bitrate range: min=%d max=%d", rep.BitrateMin, rep.BitrateMax)
	}
	if buf := readBack(t, out); buf.Format.NumChannels != 2 {
		t.Fatalf("channels: %d", buf.Format.NumChannels)
	}
}

func TestRenderRejectsSampleRate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	writeTone(t, in, 1, 1000, 44100)
	p := newTestPipeline(t, 1, 120, 0)
	_, err := Render(context.Background(), p, in, filepath.Join(dir, "out.wav"), RenderOptions{})
	if !errors.Is(err, transcode.ErrUnsupportedSampleRate) {
		t.Fatalf("want ErrUnsupportedSampleRate, got %v", err)
	}
}

func TestRenderStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	writeTone(t, in, 1, 1000, codec.SampleRate)
	p := newTestPipeline(t, 1, 120, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Render(ctx, p, in, filepath.Join(dir, "out.wav"), RenderOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
