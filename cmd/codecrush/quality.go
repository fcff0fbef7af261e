package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecrush-lab/internal/control"
)

const controlTimeout = 10 * time.Second

func qualityCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Read or change the quality of a running live instance",
	}
	cmd.PersistentFlags().String("url", "ws://localhost:9001/mcp/ws", "control endpoint of the live instance")

	set := &cobra.Command{
		Use:   "set <quality>",
		Short: "Set quality, 0..1 or a percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuality(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), a.settings.Control.URL, cmd.OutOrStdout(), func(ctx context.Context, c *control.Client) (control.Status, error) {
				return c.SetQuality(ctx, q)
			})
		},
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the status of the live instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), a.settings.Control.URL, cmd.OutOrStdout(), func(ctx context.Context, c *control.Client) (control.Status, error) {
				return c.Status(ctx)
			})
		},
	}
	cmd.AddCommand(set, get)
	return cmd
}

func withClient(ctx context.Context, url string, w io.Writer, call func(context.Context, *control.Client) (control.Status, error)) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	c := control.NewClient("codecrush-cli", version)
	if err := c.ConnectWebSocket(ctx, url); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	st, err := call(ctx, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("print status: %w", err)
	}
	return nil
}
