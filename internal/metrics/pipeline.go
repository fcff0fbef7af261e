// Package metrics exposes pipeline counters to Prometheus. Values are read
// from a stats snapshot at scrape time, so the audio goroutine does no extra
// work.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codecrush-lab/internal/transcode"
)

// Source is what the collector scrapes. *transcode.Pipeline implements it.
type Source interface {
	Stats() transcode.Stats
	Latency() int
	ID() string
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(transcode.Stats) uint64
}

// PipelineMetrics is a prometheus.Collector over one pipeline.
type PipelineMetrics struct {
	src Source

	counters []counterDesc
	bitrate  *prometheus.Desc
	quality  *prometheus.Desc
	latency  *prometheus.Desc
}

// NewPipelineMetrics creates the collector and registers it.
func NewPipelineMetrics(registry prometheus.Registerer, src Source) (*PipelineMetrics, error) {
	m := newPipelineMetrics(src)
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newPipelineMetrics(src Source) *PipelineMetrics {
	labels := []string{"session"}
	counter := func(name, help string, value func(transcode.Stats) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc("codecrush_"+name, help, labels, nil),
			value: value,
		}
	}
	return &PipelineMetrics{
		src: src,
		counters: []counterDesc{
			counter("cycles_total", "Host processing cycles completed",
				func(s transcode.Stats) uint64 { return s.Cycles }),
			counter("frames_total", "Codec frames transcoded",
				func(s transcode.Stats) uint64 { return s.Frames }),
			counter("samples_in_total", "Samples per channel received from the host",
				func(s transcode.Stats) uint64 { return s.SamplesIn }),
			counter("samples_out_total", "Samples per channel delivered to the host",
				func(s transcode.Stats) uint64 { return s.SamplesOut }),
			counter("decode_recoveries_total", "Decoder desyncs recovered by a codec reset",
				func(s transcode.Stats) uint64 { return s.DecodeRecoveries }),
			counter("encode_clamps_total", "Frames replaced by silence after an encoder failure",
				func(s transcode.Stats) uint64 { return s.EncodeClamps }),
			counter("bitrate_rejects_total", "Bitrate changes refused by the codec",
				func(s transcode.Stats) uint64 { return s.BitrateRejects }),
			counter("overflows_total", "Ring buffer overflows",
				func(s transcode.Stats) uint64 { return s.Overflows }),
			counter("underflows_total", "Ring buffer underflows",
				func(s transcode.Stats) uint64 { return s.Underflows }),
		},
		bitrate: prometheus.NewDesc("codecrush_bitrate_bps", "Effective codec bitrate", labels, nil),
		quality: prometheus.NewDesc("codecrush_quality", "Target quality control value, 0..1", labels, nil),
		latency: prometheus.NewDesc("codecrush_latency_samples", "Reported pipeline latency", labels, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.counters {
		ch <- c.desc
	}
	ch <- m.bitrate
	ch <- m.quality
	ch <- m.latency
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	st := m.src.Stats()
	id := m.src.ID()
	for _, c := range m.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(st)), id)
	}
	ch <- prometheus.MustNewConstMetric(m.bitrate, prometheus.GaugeValue, float64(st.Bitrate), id)
	ch <- prometheus.MustNewConstMetric(m.quality, prometheus.GaugeValue, st.Quality, id)
	ch <- prometheus.MustNewConstMetric(m.latency, prometheus.GaugeValue, float64(m.src.Latency()), id)
}
