package main

import (
	"github.com/spf13/cobra"

	"github.com/codecrush-lab/internal/codec"
	_ "github.com/codecrush-lab/internal/codec/codectest"
	"github.com/codecrush-lab/internal/config"
	"github.com/codecrush-lab/internal/logging"
)

// flagKeys maps command-line flags onto settings keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"channels":   "audio.channels",
	"frame-ms":   "audio.frame_ms",
	"max-block":  "audio.max_block",
	"period":     "audio.period",
	"backend":    "codec.backend",
	"complexity": "codec.complexity",
	"quality":    "quality.default",
	"listen":     "control.listen",
	"control":    "control.enabled",
	"url":        "control.url",
	"state":      "state.path",
	"monitor":    "monitor.interval",
	"blocks":     "render.blocks",
	"compensate": "render.compensate",
	"sidecar":    "render.sidecar",
}

// app carries what the root command resolves for its subcommands.
type app struct {
	configPath string
	settings   *config.Settings
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "codecrush",
		Short:         "Real-time lo-fi codec degradation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML settings file")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		l := config.NewLoader()
		if err := l.BindFlags(cmd.Flags(), flagKeys); err != nil {
			return err
		}
		s, err := l.Load(a.configPath)
		if err != nil {
			return err
		}
		a.settings = s
		logging.Init(s.Log.Level)
		return nil
	}

	root.AddCommand(
		liveCommand(a),
		renderCommand(a),
		qualityCommand(a),
	)
	return root
}

// addPipelineFlags registers the flags every pipeline-building command
// shares.
func addPipelineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("channels", 2, "channel count, 1 or 2")
	f.Float64("frame-ms", 2.5, "codec frame duration in ms; illegal values snap to the nearest legal frame")
	f.Int("max-block", 512, "largest host block in samples per channel")
	f.String("backend", codec.DefaultBackend, "codec backend")
	f.Int("complexity", 10, "encoder complexity 0..10")
	f.Float64("quality", 1, "initial quality, 0 (most degraded) to 1 (transparent)")
}
