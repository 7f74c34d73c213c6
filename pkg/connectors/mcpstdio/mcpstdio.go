// Package mcpstdio implements PROCESS_STDIO connectors: a long-lived MCP tool
// server launched as a child process and spoken to over stdin/stdout.
package mcpstdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	pingTimeout             = time.Second
	clientName              = "opsgate"
	clientVersion           = "1.0.0"
)

// Transport opens a fresh MCP transport for each (re)launch.
type Transport func() (mcp.Transport, error)

type Config struct {
	ID      string
	Command string
	Args    []string
	// Env is appended to the gateway's own environment.
	Env              []string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Connector owns one MCP session. The session is dialed lazily on first use
// and relaunched on the next call after the process dies. Timed-out calls are
// abandoned but the session is kept.
type Connector struct {
	id        string
	transport Transport
	handshake time.Duration
	log       *slog.Logger
	health    *connectors.Health

	mu      sync.Mutex
	session *mcp.ClientSession
	cancel  context.CancelFunc
}

// New creates a connector that launches cfg.Command.
func New(cfg Config) (*Connector, error) {
	if cfg.ID == "" {
		return nil, errors.New("mcpstdio.New: id is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("mcpstdio.New %s: command is required", cfg.ID)
	}
	transport := func() (mcp.Transport, error) {
		// Not CommandContext: the process must outlive the call that started it.
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = append(os.Environ(), cfg.Env...)
		return &mcp.CommandTransport{Command: cmd}, nil
	}
	return NewWithTransport(cfg.ID, transport, cfg.HandshakeTimeout, cfg.Logger), nil
}

// NewWithTransport creates a connector over an arbitrary transport factory.
func NewWithTransport(id string, transport Transport, handshake time.Duration, log *slog.Logger) *Connector {
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		id:        id,
		transport: transport,
		handshake: handshake,
		log:       log,
		health:    connectors.NewHealth(id, connectors.KindProcessStdio),
	}
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Kind() connectors.Kind { return connectors.KindProcessStdio }

func (c *Connector) Health() connectors.Snapshot { return c.health.Snapshot() }

// Invoke calls the MCP tool named call.Operation.
func (c *Connector) Invoke(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: call.Operation, Arguments: args})
	if err != nil {
		return nil, c.callFailed(ctx, sess, err)
	}
	if res == nil {
		err := connectors.Fail(c.id, connectors.FailureMalformed, errors.New("nil tool result"))
		c.health.Degraded(err)
		return nil, err
	}
	if res.IsError {
		err := connectors.Fail(c.id, connectors.FailureRemote, errors.New(joinText(res.Content)))
		c.health.Degraded(err)
		return nil, err
	}

	out, err := decodeResult(c.id, res)
	if err != nil {
		c.health.Degraded(err)
		return nil, err
	}
	c.health.Ready()
	return out, nil
}

// CheckHealth dials the server if needed and pings it.
func (c *Connector) CheckHealth(ctx context.Context) error {
	sess, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := sess.Ping(ctx, nil); err != nil {
		c.drop(sess)
		c.health.Failed(err)
		return fmt.Errorf("mcpstdio.CheckHealth %s: %w", c.id, err)
	}
	c.health.Ready()
	return nil
}

// Close terminates the session and the server process.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.Closed()
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return err
}

// connect returns the live session, dialing under the lock when there is none.
func (c *Connector) connect(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.health.IsClosed() {
		return nil, connectors.Fail(c.id, connectors.FailureClosed, connectors.ErrClosed)
	}
	if c.session != nil {
		return c.session, nil
	}

	c.health.Connecting()
	transport, err := c.transport()
	if err != nil {
		ferr := connectors.Fail(c.id, connectors.FailureLaunch, err)
		c.health.Failed(ferr)
		return nil, ferr
	}

	// The session outlives ctx, so it gets its own context; ctx and the
	// handshake timeout only bound the dial.
	sessCtx, cancel := context.WithCancel(context.Background())
	hsCtx, hsCancel := context.WithTimeout(ctx, c.handshake)
	defer hsCancel()
	stop := context.AfterFunc(hsCtx, cancel)

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	sess, err := client.Connect(sessCtx, transport, nil)
	stopped := stop()
	if err != nil || !stopped {
		cancel()
		if err == nil {
			_ = sess.Close()
			err = hsCtx.Err()
		}
		kind := connectors.FailureLaunch
		if hsCtx.Err() != nil {
			kind = connectors.FailureHandshake
		}
		ferr := connectors.Fail(c.id, kind, err)
		c.health.Failed(ferr)
		c.log.WarnContext(ctx, "mcp server connect failed", "connector", c.id, "kind", kind, "error", err)
		return nil, ferr
	}

	c.session = sess
	c.cancel = cancel
	c.health.Ready()
	c.log.InfoContext(ctx, "mcp server connected", "connector", c.id)
	return sess, nil
}

// callFailed classifies a CallTool error. A call abandoned at its deadline
// leaves the session in place; any other transport error is checked with a
// ping and the session is dropped if the server no longer answers.
func (c *Connector) callFailed(ctx context.Context, sess *mcp.ClientSession, err error) error {
	if ctx.Err() != nil {
		ferr := connectors.FromContext(c.id, ctx)
		c.health.Degraded(ferr)
		return ferr
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if perr := sess.Ping(pingCtx, nil); perr == nil {
		ferr := connectors.Fail(c.id, connectors.FailureRemote, err)
		c.health.Degraded(ferr)
		return ferr
	}

	c.drop(sess)
	ferr := connectors.Fail(c.id, connectors.FailureProcessExit, err)
	c.health.Degraded(ferr)
	c.log.Warn("mcp server lost, will relaunch on next call", "connector", c.id, "error", err)
	return ferr
}

// drop discards sess if it is still the current session.
func (c *Connector) drop(sess *mcp.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}
	_ = c.session.Close()
	c.session = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// decodeResult prefers structured content, then text that parses as JSON,
// then plain text.
func decodeResult(id string, res *mcp.CallToolResult) (*connectors.RawResult, error) {
	out := &connectors.RawResult{Connector: id}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, connectors.Fail(id, connectors.FailureMalformed, fmt.Errorf("structured content: %w", err))
		}
		out.JSON = raw
		return out, nil
	}
	text := joinText(res.Content)
	if trimmed := strings.TrimSpace(text); trimmed != "" && json.Valid([]byte(trimmed)) {
		out.JSON = json.RawMessage(trimmed)
		return out, nil
	}
	out.Text = text
	return out, nil
}

func joinText(content []mcp.Content) string {
	var parts []string
	for _, part := range content {
		if txt, ok := part.(*mcp.TextContent); ok {
			parts = append(parts, txt.Text)
		}
	}
	return strings.Join(parts, "\n")
}
