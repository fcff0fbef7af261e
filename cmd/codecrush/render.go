package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codecrush-lab/internal/config"
	"github.com/codecrush-lab/internal/hostio"
	"github.com/codecrush-lab/internal/transcode"
)

func renderCommand(a *app) *cobra.Command {
	var ramp string
	cmd := &cobra.Command{
		Use:   "render <in.wav> <out.wav>",
		Short: "Stream a WAV file through the pipeline",
		Long: `Render feeds the input through the pipeline in host-sized blocks, exactly
as a live host would, and writes 16-bit PCM. With compensation the output is
aligned to the input; a JSON report is written next to the output.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRamp(ramp)
			if err != nil {
				return err
			}
			rep, err := runRender(cmd, a.settings, args[0], args[1], r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d samples, %d blocks, latency %d samples, bitrate %d..%d\n",
				rep.Output, rep.Samples, rep.Blocks, rep.LatencySamples, rep.BitrateMin, rep.BitrateMax)
			return nil
		},
	}
	addPipelineFlags(cmd)
	f := cmd.Flags()
	f.IntSlice("blocks", []int{transcode.DefaultMaxBlock}, "host block-size pattern, repeated over the file")
	f.Bool("compensate", true, "remove the pipeline latency from the output")
	f.Bool("sidecar", true, "write <out>.json with the render report")
	f.StringVar(&ramp, "ramp", "", "automate quality across the file, as from:to (e.g. 1:0)")
	return cmd
}

func runRender(cmd *cobra.Command, s *config.Settings, in, out string, ramp *hostio.Ramp) (hostio.RenderReport, error) {
	pcfg, err := s.PipelineConfig()
	if err != nil {
		return hostio.RenderReport{}, err
	}
	p := transcode.New(pcfg)
	if ramp != nil {
		p.SetQuality(ramp.From)
	}
	if err := p.Prepare(); err != nil {
		return hostio.RenderReport{}, fmt.Errorf("prepare pipeline: %w", err)
	}
	defer func() { _ = p.Stop() }()

	opts := hostio.RenderOptions{
		Blocks:     s.Render.Blocks,
		Compensate: s.Render.Compensate,
		Ramp:       ramp,
	}
	if s.Render.Sidecar {
		opts.SidecarPath = out + ".json"
	}
	return hostio.Render(cmd.Context(), p, in, out, opts)
}

// parseRamp reads "from:to". An empty string means no ramp.
func parseRamp(s string) (*hostio.Ramp, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("ramp %q: want from:to", s)
	}
	r := &hostio.Ramp{}
	for _, v := range []struct {
		text string
		dst  *float64
	}{{from, &r.From}, {to, &r.To}} {
		q, err := parseQuality(v.text)
		if err != nil {
			return nil, fmt.Errorf("ramp %q: %w", s, err)
		}
		*v.dst = q
	}
	return r, nil
}

// parseQuality accepts 0..1 or a percentage such as "40%".
func parseQuality(s string) (float64, error) {
	s = strings.TrimSpace(s)
	scale := 1.0
	if rest, ok := strings.CutSuffix(s, "%"); ok {
		s, scale = strings.TrimSpace(rest), 100
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("quality %q is not a number", s)
	}
	q /= scale
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quality %v outside [0, 1]", q)
	}
	return q, nil
}
