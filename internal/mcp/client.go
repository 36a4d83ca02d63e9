package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	// defaultRequestTimeout bounds how long a request may wait for its
	// response line before the exchange is abandoned.
	defaultRequestTimeout = 30 * time.Second

	// shutdownGrace is how long Disconnect waits after SIGTERM before
	// killing the child outright.
	shutdownGrace = 5 * time.Second

	// maxLineSize caps a single response line. Tool results can embed
	// large payloads (file contents, base64 images), so be generous.
	maxLineSize = 10 * 1024 * 1024

	protocolVersion = "2024-11-05"
	clientName      = "livebridge"
	clientVersion   = "0.1.0"
)

// ErrTimeout is returned (wrapped) when a request receives no response
// within the client's timeout.
var ErrTimeout = errors.New("request timeout")

// ErrNotConnected is returned by operations that require a live server.
var ErrNotConnected = errors.New("not connected")

// Client talks to a single tool server process over its stdio pipes.
// At most one request is in flight at a time; concurrent callers queue.
type Client struct {
	cfg     ServerConfig
	timeout time.Duration
	log     *slog.Logger

	nextID atomic.Int64

	// reqMu serializes full request/response exchanges so that response
	// correlation never has to match across interleaved requests.
	reqMu sync.Mutex

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	lines     chan []byte
	connected bool
	tools     []ToolDescriptor
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client for the given server. The process is not
// spawned until Connect.
func NewClient(cfg ServerConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:     cfg,
		timeout: defaultRequestTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("server", cfg.Name)
	return c
}

// Connect spawns the server process and performs the initialize handshake.
// On any failure the process is torn down and the client is left
// disconnected with no partial state.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("server %q: already connected", c.cfg.Name)
	}
	c.mu.Unlock()

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("server %q: stdin pipe: %w", c.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("server %q: stdout pipe: %w", c.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("server %q: start %s: %w", c.cfg.Name, c.cfg.Command, err)
	}

	c.attach(stdin, stdout)
	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		_ = c.Disconnect()
		return fmt.Errorf("server %q: %w", c.cfg.Name, err)
	}
	return nil
}

// attach wires the client to an already-open pipe pair and starts the
// reader. Used by Connect and directly by tests.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	lines := make(chan []byte, 16)
	go readLines(stdout, lines)

	c.mu.Lock()
	c.stdin = stdin
	c.lines = lines
	c.mu.Unlock()
}

// readLines feeds non-empty stdout lines into ch until EOF, then closes it.
func readLines(r io.Reader, ch chan<- []byte) {
	defer close(ch)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		ch <- buf
	}
}

// handshake runs initialize, acknowledges with the initialized
// notification, and fetches the initial tool catalogue.
func (c *Client) handshake(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize rejected: %w", resp.Error)
	}
	var init initializeResult
	if err := json.Unmarshal(resp.Result, &init); err != nil {
		return fmt.Errorf("initialize result: %w", err)
	}
	c.log.Info("tool server initialized",
		"name", init.ServerInfo.Name,
		"protocol", init.ProtocolVersion)

	if err := c.sendNotification("notifications/initialized", nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if err := c.refreshTools(ctx); err != nil {
		// A server with an empty or broken catalogue is still connected.
		c.log.Error("tool listing failed", "error", err)
	}
	return nil
}

// refreshTools fetches tools/list and replaces the cached catalogue. On any
// failure the catalogue is cleared rather than left stale.
func (c *Client) refreshTools(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, "tools/list", nil)
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	var listed struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err == nil {
		err = json.Unmarshal(resp.Result, &listed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.tools = nil
		return fmt.Errorf("tools/list: %w", err)
	}
	c.tools = listed.Tools
	return nil
}

// ExecuteTool invokes tools/call and reports the outcome as a uniform
// envelope. It never returns a Go error: every failure arrives as
// Success=false with a populated Error field.
func (c *Client) ExecuteTool(ctx context.Context, tool string, args map[string]any) Result {
	res := Result{Server: c.cfg.Name, Tool: tool}
	if !c.Connected() {
		res.Error = ErrNotConnected.Error()
		return res
	}
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.sendRequest(ctx, "tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if resp.Error != nil {
		res.Error = resp.Error.Message
		return res
	}
	res.Success = true
	res.Data = resp.Result
	return res
}

// sendRequest writes one request line and waits for the matching response.
// IDs are strictly increasing over the client's lifetime and never reused,
// even across failed exchanges.
func (c *Client) sendRequest(ctx context.Context, method string, params any) (*response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	id := c.nextID.Add(1)
	if err := c.writeLine(request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	lines := c.lines
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil, fmt.Errorf("%s: server closed its output stream", method)
			}
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				// A line that is not JSON at all means the server's
				// output stream is broken; waiting further would only
				// run out the timeout.
				return nil, fmt.Errorf("%s: parse response: %w", method, err)
			}
			if resp.ID == 0 {
				// Server-initiated notifications are not responses.
				// Skip them.
				continue
			}
			if resp.ID != id {
				c.log.Warn("discarding stale response", "want", id, "got", resp.ID)
				continue
			}
			return &resp, nil
		case <-timer.C:
			return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// sendNotification writes one notification line without waiting.
func (c *Client) sendNotification(method string, params any) error {
	return c.writeLine(notification{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
	})
}

func (c *Client) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin == nil {
		return ErrNotConnected
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to server: %w", err)
	}
	return nil
}

// Disconnect closes the server's stdin, sends SIGTERM, and escalates to
// SIGKILL if the process has not exited within the grace period. Safe to
// call multiple times and on a never-connected client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	c.cmd = nil
	c.stdin = nil
	c.connected = false
	c.tools = nil
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		c.log.Warn("tool server ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-done
	}
	c.log.Info("tool server stopped")
	return nil
}

// Connected reports whether the handshake has completed and the server has
// not been disconnected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Tools returns a copy of the cached tool catalogue.
func (c *Client) Tools() []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// Status reports the server's liveness and tool names.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	return Status{
		Server:    c.cfg.Name,
		Connected: c.connected,
		ToolCount: len(c.tools),
		Tools:     names,
	}
}
