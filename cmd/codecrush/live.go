package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/codecrush-lab/internal/config"
	"github.com/codecrush-lab/internal/control"
	"github.com/codecrush-lab/internal/hostio"
	"github.com/codecrush-lab/internal/logging"
	"github.com/codecrush-lab/internal/metrics"
	"github.com/codecrush-lab/internal/state"
	"github.com/codecrush-lab/internal/transcode"
)

func liveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Process the default capture device into the default playback device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context(), a.settings)
		},
	}
	addPipelineFlags(cmd)
	f := cmd.Flags()
	f.Int("period", 256, "requested device period in samples")
	f.Bool("control", true, "serve the control endpoint")
	f.String("listen", ":9001", "control listen address")
	f.String("state", "", "preset file holding the quality control between runs")
	f.Duration("monitor", 15*time.Second, "stats log interval, 0 disables")
	return cmd
}

func runLive(ctx context.Context, s *config.Settings) error {
	pcfg, err := s.PipelineConfig()
	if err != nil {
		return err
	}
	p := transcode.New(pcfg)
	if s.State.Path != "" {
		preset, err := state.Load(s.State.Path)
		switch {
		case err == nil:
			p.SetQuality(preset.Quality)
			logging.Infow("live: preset restored", "path", s.State.Path, "quality", preset.Quality)
		case errors.Is(err, os.ErrNotExist):
			logging.Debugw("live: no preset yet", "path", s.State.Path)
		default:
			logging.Warnw("live: ignoring preset", "path", s.State.Path, "err", err)
		}
	}
	if err := p.Prepare(); err != nil {
		return fmt.Errorf("prepare pipeline: %w", err)
	}
	defer func() {
		_ = p.Stop()
		savePreset(s.State.Path, p.Quality())
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if _, err := metrics.NewPipelineMetrics(reg, p); err != nil {
		return err
	}

	dev := hostio.NewDevice(p, hostio.DeviceOptions{
		SampleRate:   s.Audio.SampleRate,
		Channels:     s.Audio.Channels,
		PeriodFrames: s.Audio.Period,
		MaxBlock:     s.Audio.MaxBlock,
	})
	if err := dev.Start(); err != nil {
		return err
	}
	logging.Infow("live: running", logging.With(
		logging.SessionFields(p.ID()),
		logging.FrameFields(pcfg.SampleRate, pcfg.Channels, p.Config().FrameSize),
		[]interface{}{"latency_samples", p.Latency(), "quality", p.Quality()},
	)...)

	g, ctx := errgroup.WithContext(ctx)
	if s.Control.Enabled {
		srv := control.NewServer(p, control.Options{Version: version, Gatherer: reg})
		g.Go(func() error {
			return srv.Run(ctx, s.Control.Listen)
		})
	}
	if s.Monitor.Interval > 0 {
		g.Go(func() error {
			runMonitor(ctx, p, s.Monitor.Interval)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logging.Infow("live: shutting down")
		if err := dev.Stop(); err != nil {
			return err
		}
		if n := dev.Rejected(); n > 0 {
			logging.Warnw("live: blocks were silenced", "rejected", n, "last", dev.LastRejection())
		}
		return nil
	})
	return g.Wait()
}

func savePreset(path string, q float64) {
	if path == "" {
		return
	}
	if err := state.Save(path, state.Preset{Quality: q}); err != nil {
		logging.Warnw("live: saving preset", "path", path, "err", err)
		return
	}
	logging.Infow("live: preset saved", "path", path, "quality", q)
}
