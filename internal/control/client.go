package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codecrush-lab/internal/logging"
)

const keepaliveInterval = 30 * time.Second

var ErrNotConnected = errors.New("control: client not connected")

// Client connects to a control Server over websocket and manages the
// session lifecycle.
type Client struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

// NewClient creates a client that identifies itself as name/version.
func NewClient(name, version string) *Client {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &Client{client: sdk.NewClient(impl, nil)}
}

// ConnectWebSocket dials rawurl and opens an MCP session. http and https
// URLs are rewritten to ws and wss.
func (c *Client) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("control: dial %s: %w", u, err)
	}
	sess, err := c.client.Connect(ctx, newWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("control: connect: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
	kaCtx, cancel := context.WithCancel(context.Background())
	if prev := c.keepaliveCancel; prev != nil {
		prev()
	}
	c.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(kaCtx, nil)
			}
		}
	}()
	logging.Debugw("control: client connected", "url", u.String())
	return nil
}

// SetQuality sets the remote control value and returns the resulting
// status.
func (c *Client) SetQuality(ctx context.Context, q float64) (Status, error) {
	return c.call(ctx, ToolSetQuality, map[string]any{"quality": q})
}

// Status fetches the remote pipeline status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	return c.call(ctx, ToolGetStatus, map[string]any{})
}

func (c *Client) call(ctx context.Context, tool string, args map[string]any) (Status, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return Status{}, ErrNotConnected
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return Status{}, fmt.Errorf("control: %s: %w", tool, err)
	}
	text := resultText(res)
	if res.IsError {
		return Status{}, fmt.Errorf("control: %s failed: %s", tool, text)
	}
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		return Status{}, fmt.Errorf("control: %s: decode status: %w", tool, err)
	}
	return st, nil
}

func resultText(res *sdk.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if t, ok := c.(*sdk.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Close stops the keepalive and ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
