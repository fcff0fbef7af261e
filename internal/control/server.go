// Package control exposes a running pipeline to other processes: an MCP
// server reachable over websocket with tools to set and read the quality
// control, plus plain HTTP health and Prometheus endpoints.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codecrush-lab/internal/logging"
	"github.com/codecrush-lab/internal/transcode"
)

// Tool names served on /mcp/ws.
const (
	ToolSetQuality = "set_quality"
	ToolGetStatus  = "get_status"
)

const shutdownTimeout = 5 * time.Second

// Pipeline is the part of *transcode.Pipeline the control surface uses.
type Pipeline interface {
	SetQuality(q float64)
	Quality() float64
	Bitrate() int
	Latency() int
	ID() string
	State() transcode.State
	Stats() transcode.Stats
	Config() transcode.Config
}

// Status is the get_status payload.
type Status struct {
	Session        string          `json:"session"`
	State          string          `json:"state"`
	Quality        float64         `json:"quality"`
	QualityText    string          `json:"quality_text"`
	Bitrate        int             `json:"bitrate"`
	TargetBitrate  int             `json:"target_bitrate"`
	LatencySamples int             `json:"latency_samples"`
	LatencyMs      float64         `json:"latency_ms"`
	Stats          transcode.Stats `json:"stats"`
}

// StatusOf snapshots p.
func StatusOf(p Pipeline) Status {
	cfg := p.Config()
	q := p.Quality()
	st := Status{
		Session:        p.ID(),
		State:          p.State().String(),
		Quality:        q,
		QualityText:    transcode.FormatQuality(q),
		Bitrate:        p.Bitrate(),
		TargetBitrate:  cfg.Curve.Bitrate(q),
		LatencySamples: p.Latency(),
		Stats:          p.Stats(),
	}
	if cfg.SampleRate > 0 {
		st.LatencyMs = float64(st.LatencySamples) * 1000 / float64(cfg.SampleRate)
	}
	return st
}

type setQualityArgs struct {
	Quality float64 `json:"quality" jsonschema:"target quality from 0 (most degraded) to 1 (transparent)"`
}

type getStatusArgs struct{}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
	// OnQuality is called after set_quality applied a value.
	OnQuality func(q float64)
}

// Server bridges websocket connections to MCP sessions over one pipeline.
type Server struct {
	p    Pipeline
	opts Options
	mcp  *sdk.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*sdk.ServerSession]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewServer registers the control tools for p.
func NewServer(p Pipeline, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "codecrush"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		p:        p,
		opts:     opts,
		mcp:      sdk.NewServer(&sdk.Implementation{Name: opts.Name, Version: opts.Version}, nil),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[*sdk.ServerSession]struct{}),
	}

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        ToolSetQuality,
		Description: "Set the degradation control. 1 is transparent, 0 is the most degraded. The bitrate ramps to the new value.",
	}, s.setQuality)
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        ToolGetStatus,
		Description: "Report session, quality, effective bitrate, latency and fault counters.",
	}, s.getStatus)
	return s
}

func (s *Server) setQuality(ctx context.Context, req *sdk.CallToolRequest, args setQualityArgs) (*sdk.CallToolResult, any, error) {
	s.p.SetQuality(args.Quality)
	q := s.p.Quality()
	logging.Infow("control: quality set", append(logging.SessionFields(s.p.ID()), "requested", args.Quality, "quality", q)...)
	if s.opts.OnQuality != nil {
		s.opts.OnQuality(q)
	}
	return statusResult(StatusOf(s.p))
}

func (s *Server) getStatus(ctx context.Context, req *sdk.CallToolRequest, args getStatusArgs) (*sdk.CallToolResult, any, error) {
	return statusResult(StatusOf(s.p))
}

func statusResult(st Status) (*sdk.CallToolResult, any, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, nil, fmt.Errorf("control: encode status: %w", err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(b)}},
	}, nil, nil
}

// Handler serves /health, /metrics and /mcp/ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.p.State() == transcode.Stopped {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/mcp/ws", s.serveWebSocket)
	return mux
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("control: websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		session, err := s.mcp.Connect(context.Background(), newWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("control: mcp connect failed", "err", err, "remote", r.RemoteAddr)
			_ = conn.Close()
			return
		}
		s.track(session, true)
		defer s.track(session, false)
		if err := session.Wait(); err != nil {
			logging.Debugw("control: mcp session ended", "err", err, "remote", r.RemoteAddr)
		}
	}()
}

func (s *Server) track(session *sdk.ServerSession, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.sessions, session)
		return
	}
	if s.closed {
		_ = session.Close()
		return
	}
	s.sessions[session] = struct{}{}
}

// Close ends every open MCP session and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var errs []error
	for session := range s.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return errors.Join(errs...)
}

// Run serves on addr until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logging.Infow("control: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	if cerr := s.Close(); cerr != nil {
		logging.Warnw("control: closing sessions", "err", cerr)
	}
	if err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	logging.Infow("control: stopped")
	return nil
}
