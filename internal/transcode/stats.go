package transcode

import "sync/atomic"

// Stats is a point-in-time copy of a pipeline's counters.
type Stats struct {
	Cycles           uint64  `json:"cycles"`
	SamplesIn        uint64  `json:"samples_in"`
	SamplesOut       uint64  `json:"samples_out"`
	Frames           uint64  `json:"frames"`
	DecodeRecoveries uint64  `json:"decode_recoveries"`
	EncodeClamps     uint64  `json:"encode_clamps"`
	BitrateRejects   uint64  `json:"bitrate_rejects"`
	Overflows        uint64  `json:"overflows"`
	Underflows       uint64  `json:"underflows"`
	Bitrate          int     `json:"bitrate"`
	Quality          float64 `json:"quality"`
}

// counters are bumped on the audio goroutine and read from anywhere.
type counters struct {
	cycles           atomic.Uint64
	samplesIn        atomic.Uint64
	samplesOut       atomic.Uint64
	frames           atomic.Uint64
	decodeRecoveries atomic.Uint64
	encodeClamps     atomic.Uint64
	bitrateRejects   atomic.Uint64
	overflows        atomic.Uint64
	underflows       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Cycles:           c.cycles.Load(),
		SamplesIn:        c.samplesIn.Load(),
		SamplesOut:       c.samplesOut.Load(),
		Frames:           c.frames.Load(),
		DecodeRecoveries: c.decodeRecoveries.Load(),
		EncodeClamps:     c.encodeClamps.Load(),
		BitrateRejects:   c.bitrateRejects.Load(),
		Overflows:        c.overflows.Load(),
		Underflows:       c.underflows.Load(),
	}
}

// Faults sums the counters that indicate something went wrong.
func (s Stats) Faults() uint64 {
	return s.DecodeRecoveries + s.EncodeClamps + s.BitrateRejects + s.Overflows + s.Underflows
}

// Sub returns the counter growth since prev. Bitrate and Quality are kept
// from s.
func (s Stats) Sub(prev Stats) Stats {
	d := s
	d.Cycles -= prev.Cycles
	d.SamplesIn -= prev.SamplesIn
	d.SamplesOut -= prev.SamplesOut
	d.Frames -= prev.Frames
	d.DecodeRecoveries -= prev.DecodeRecoveries
	d.EncodeClamps -= prev.EncodeClamps
	d.BitrateRejects -= prev.BitrateRejects
	d.Overflows -= prev.Overflows
	d.Underflows -= prev.Underflows
	return d
}

// Counters names every counter, keyed like the JSON form.
func (s Stats) Counters() map[string]uint64 {
	return map[string]uint64{
		"cycles":            s.Cycles,
		"samples_in":        s.SamplesIn,
		"samples_out":       s.SamplesOut,
		"frames":            s.Frames,
		"decode_recoveries": s.DecodeRecoveries,
		"encode_clamps":     s.EncodeClamps,
		"bitrate_rejects":   s.BitrateRejects,
		"overflows":         s.Overflows,
		"underflows":        s.Underflows,
	}
}
