// Command codecrush runs the lo-fi codec pipeline live on an audio device,
// renders WAV files through it, and adjusts a running instance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codecrush-lab/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "codecrush:", err)
		os.Exit(1)
	}
}
