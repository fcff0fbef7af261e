package main

import (
	"context"
	"time"

	"github.com/codecrush-lab/internal/logging"
	"github.com/codecrush-lab/internal/transcode"
)

type statsSource interface {
	ID() string
	Stats() transcode.Stats
}

// runMonitor logs how the counters moved every interval until ctx ends.
func runMonitor(ctx context.Context, src statsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prev := src.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := src.Stats()
			logDelta(src.ID(), cur.Sub(prev))
			prev = cur
		}
	}
}

func logDelta(session string, d transcode.Stats) {
	fields := logging.With(
		logging.SessionFields(session),
		logging.StatsFields(d.Counters()),
		[]interface{}{"bitrate", d.Bitrate, "quality", transcode.FormatQuality(d.Quality)},
	)
	switch {
	case d.Faults() > 0:
		logging.Warnw("monitor: faults since last report", fields...)
	case d.Cycles == 0:
		logging.Debugw("monitor: idle", fields...)
	default:
		logging.Infow("monitor: stats", fields...)
	}
}
