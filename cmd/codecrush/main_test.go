package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/codecrush-lab/internal/codec"
	"github.com/codecrush-lab/internal/codec/codectest"
	"github.com/codecrush-lab/internal/control"
	"github.com/codecrush-lab/internal/hostio"
	"github.com/codecrush-lab/internal/transcode"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseQuality(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0", 0, false},
		{"0.25", 0.25, false},
		{" 1 ", 1, false},
		{"40%", 0.4, false},
		{"100 %", 1, false},
		{"1.5", 0, true},
		{"-0.1", 0, true},
		{"120%", 0, true},
		{"loud", 0, true},
	}
	for _, c := range cases {
		got, err := parseQuality(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("parseQuality(%q): err=%v wantErr=%v", c.in, err, c.wantErr)
			continue
		}
		if !c.wantErr && math.Abs(got-c.want) > 1e-12 {
			t.Errorf("parseQuality(%q): want=%v got=%v", c.in, c.want, got)
		}
	}
}

func TestParseRamp(t *testing.T) {
	r, err := parseRamp("")
	if err != nil || r != nil {
		t.Fatalf("empty ramp: %v %v", r, err)
	}
	r, err = parseRamp("1:25%")
	if err != nil {
		t.Fatalf("parseRamp: %v", err)
	}
	if *r != (hostio.Ramp{From: 1, To: 0.25}) {
		t.Fatalf("ramp: %+v", *r)
	}
	for _, bad := range []string{"0.5", "a:1", "0:2"} {
		if _, err := parseRamp(bad); err == nil {
			t.Errorf("parseRamp(%q) accepted", bad)
		}
	}
}

func writeInput(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	data := make([]int, frames)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/codec.SampleRate))
	}
	enc := wav.NewEncoder(f, codec.SampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: codec.SampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeInput(t, in, 4800)

	stdout, err := execute(t, "render", in, out,
		"--backend", "test",
		"--channels", "1",
		"--blocks", "100,37",
		"--ramp", "1:0",
	)
	if err != nil {
		t.Fatalf("render: %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, "4800 samples") {
		t.Fatalf("summary: %q", stdout)
	}

	b, err := os.ReadFile(out + ".json")
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	var rep hostio.RenderReport
	if err := json.Unmarshal(b, &rep); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if rep.Channels != 1 || rep.Samples != 4800 || !rep.Compensated {
		t.Fatalf("report: %+v", rep)
	}
	if rep.BitrateMin >= rep.BitrateMax {
		t.Fatalf("ramp did not move the bitrate: %d..%d", rep.BitrateMin, rep.BitrateMax)
	}
}

func TestRenderRejectsBadSettings(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "render", filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav"), "--channels", "3"); err == nil {
		t.Fatalf("3 channels accepted")
	}
	if _, err := execute(t, "render", "only-one.wav"); err == nil {
		t.Fatalf("missing output argument accepted")
	}
}

func TestQualityCommands(t *testing.T) {
	p := transcode.New(transcode.Config{
		Channels:  1,
		FrameSize: 120,
		MaxBlock:  120,
		NewCodec: func(c codec.Config) (codec.Codec, error) {
			return codectest.New(c), nil
		},
	})
	if err := p.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer func() { _ = p.Stop() }()
	s := control.NewServer(p, control.Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer func() { _ = s.Close() }()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mcp/ws"

	stdout, err := execute(t, "quality", "set", "40%", "--url", url)
	if err != nil {
		t.Fatalf("quality set: %v", err)
	}
	var st control.Status
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if math.Abs(st.Quality-0.4) > 1e-12 || math.Abs(p.Quality()-0.4) > 1e-12 {
		t.Fatalf("quality not applied: status %v pipeline %v", st.Quality, p.Quality())
	}

	stdout, err = execute(t, "quality", "get", "--url", url)
	if err != nil {
		t.Fatalf("quality get: %v", err)
	}
	if !strings.Contains(stdout, `"session": "`+p.ID()+`"`) {
		t.Fatalf("status output: %s", stdout)
	}

	if _, err := execute(t, "quality", "set", "2", "--url", url); err == nil {
		t.Fatalf("out-of-range quality accepted")
	}
}

type fakeStats struct{ n int }

func (f *fakeStats) ID() string { return "s" }
func (f *fakeStats) Stats() transcode.Stats {
	f.n++
	return transcode.Stats{Cycles: uint64(f.n)}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	src := &fakeStats{}
	go func() {
		runMonitor(ctx, src, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("monitor did not stop")
	}
}
