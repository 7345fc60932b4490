package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
)

// ErrClientClosed is returned when the client has been closed.
var ErrClientClosed = errors.New("mcp client closed")

// ToolError is a tool-level failure reported by the server, such as a
// rejected question.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string { return "ask_coach: " + e.Message }

// Option configures optional client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation   sdkmcp.Implementation
	logger           *slog.Logger
	args             []string
	env              []string
	keepAlive        time.Duration
	terminateTimeout time.Duration
	httpClient       *http.Client
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithCommandArgs configures arguments for a stdio server command.
func WithCommandArgs(args ...string) Option {
	return func(cfg *clientConfig) {
		cfg.args = append(cfg.args, args...)
	}
}

// WithCommandEnv appends environment variables for a stdio server command.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) {
		cfg.env = append(cfg.env, env...)
	}
}

// WithKeepAlive configures periodic pings to keep the session healthy.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.keepAlive = interval
	}
}

// WithTerminateTimeout sets how long to wait for a stdio server to exit.
func WithTerminateTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.terminateTimeout = d
	}
}

// WithHTTPClient supplies a custom HTTP client for the streamable transport.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// Client calls the ask_coach tool on a remote server.
type Client struct {
	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to a server over the streamable HTTP transport.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}
	cfg := newConfig(opts)
	transport := &sdkmcp.StreamableClientTransport{Endpoint: endpoint}
	if cfg.httpClient != nil {
		transport.HTTPClient = cfg.httpClient
	}
	return connect(ctx, transport, cfg)
}

// Spawn launches command as a stdio server and connects to it.
func Spawn(ctx context.Context, command string, opts ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("mcp: command cannot be empty")
	}
	cfg := newConfig(opts)
	cmd := exec.Command(command, cfg.args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	cmd.Stderr = logWriter{logger: cfg.logger}
	return connect(ctx, &sdkmcp.CommandTransport{
		Command:           cmd,
		TerminateDuration: cfg.terminateTimeout,
	}, cfg)
}

func newConfig(opts []Option) clientConfig {
	cfg := clientConfig{
		implementation: sdkmcp.Implementation{Name: "coach-qa-client", Version: "0.1.0"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = logging.Or(cfg.logger, "mcp-client")
	return cfg
}

func connect(ctx context.Context, transport sdkmcp.Transport, cfg clientConfig) (*Client, error) {
	c := &Client{logger: cfg.logger}
	c.sdkClient = sdkmcp.NewClient(&cfg.implementation, &sdkmcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				c.logger.Debug("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: cfg.keepAlive,
	})
	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	c.session = session
	return c, nil
}

// Ask calls ask_coach. A rejected question is returned as *ToolError.
func (c *Client) Ask(ctx context.Context, req answer.Request) (*answer.Package, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}

	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name: ToolName,
		Arguments: AskArgs{
			Question: req.Question,
			CoachID:  req.CoachID,
			UserID:   req.UserID,
			Mode:     string(req.Mode),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: call %s: %w", ToolName, err)
	}
	if res.IsError {
		return nil, &ToolError{Message: textOf(res)}
	}
	if res.StructuredContent == nil {
		return nil, fmt.Errorf("mcp: %s returned no structured content", ToolName)
	}
	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode structured content: %w", err)
	}
	var pkg answer.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("mcp: decode answer package: %w", err)
	}
	return &pkg, nil
}

func textOf(res *sdkmcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close terminates the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.session.Close(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		return err
	}
	return nil
}

type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("mcp server stderr", "line", msg)
	}
	return len(p), nil
}
