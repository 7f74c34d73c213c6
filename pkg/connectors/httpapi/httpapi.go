// Package httpapi implements HTTP_API connectors that speak the /exec
// sidecar protocol.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

const maxResponseBytes = 4 << 20

// Config configures one sidecar connector.
type Config struct {
	ID            string
	BaseURL       string
	InternalToken string
	// RatePerSec paces outbound calls. Zero disables pacing.
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
}

// Connector calls POST {BaseURL}/exec. It holds no per-call state, so
// concurrent Invoke calls share one http.Client.
type Connector struct {
	id      string
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	health  *connectors.Health
}

// New creates a sidecar connector.
func New(cfg Config) (*Connector, error) {
	if cfg.ID == "" {
		return nil, errors.New("httpapi.New: id is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpapi.New %s: base url is required", cfg.ID)
	}
	client := cfg.HTTPClient
	if client == nil {
		// Deadlines come from the call context; the client timeout is a backstop.
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	c := &Connector{
		id:      cfg.ID,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.InternalToken,
		client:  client,
		health:  connectors.NewHealth(cfg.ID, connectors.KindHTTPAPI),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c, nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Kind() connectors.Kind { return connectors.KindHTTPAPI }

func (c *Connector) Health() connectors.Snapshot { return c.health.Snapshot() }

// Invoke sends the call to the sidecar and returns its output_json.
func (c *Connector) Invoke(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	if c.health.IsClosed() {
		return nil, connectors.Fail(c.id, connectors.FailureClosed, connectors.ErrClosed)
	}
	res, err := c.exec(ctx, call)
	if err != nil {
		c.health.Degraded(err)
		return nil, err
	}
	c.health.Ready()
	return res, nil
}

func (c *Connector) exec(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, connectors.FromContext(c.id, ctx)
			}
			// Wait fails early when the deadline cannot accommodate the next token.
			return nil, connectors.Fail(c.id, connectors.FailureRateLimit, err)
		}
	}

	params, err := json.Marshal(call.Args)
	if err != nil {
		return nil, connectors.Fail(c.id, connectors.FailureUnavailable, fmt.Errorf("marshal params: %w", err))
	}
	body, err := json.Marshal(connectors.ExecRequest{
		RequestID: call.RequestID,
		Tool:      call.Tool,
		Operation: call.Operation,
		Params:    params,
	})
	if err != nil {
		return nil, connectors.Fail(c.id, connectors.FailureUnavailable, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return nil, connectors.Fail(c.id, connectors.FailureUnavailable, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, connectors.FromContext(c.id, ctx)
		}
		return nil, connectors.Fail(c.id, connectors.FailureNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, connectors.FromContext(c.id, ctx)
		}
		return nil, connectors.Fail(c.id, connectors.FailureNetwork, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, connectors.FailStatus(c.id, resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(respBody)))
	}

	var execResp connectors.ExecResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, connectors.Fail(c.id, connectors.FailureMalformed, fmt.Errorf("decode response: %w", err))
	}
	if execResp.Status != "success" {
		kind := connectors.FailureRemote
		if execResp.ErrorKind != "" {
			kind = connectors.FailureKind(execResp.ErrorKind)
		}
		return nil, connectors.Fail(c.id, kind, errors.New(execResp.Error))
	}
	return &connectors.RawResult{Connector: c.id, JSON: execResp.OutputJSON}, nil
}

// CheckHealth checks GET {BaseURL}/healthz and updates health.
func (c *Connector) CheckHealth(ctx context.Context) error {
	if c.health.IsClosed() {
		return connectors.ErrClosed
	}
	c.health.Connecting()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.health.Failed(err)
		return fmt.Errorf("httpapi.CheckHealth new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.health.Failed(err)
		return fmt.Errorf("httpapi.CheckHealth %s: %w", c.id, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("httpapi.CheckHealth %s: status %d", c.id, resp.StatusCode)
		c.health.Failed(err)
		return err
	}
	c.health.Ready()
	return nil
}

// Close marks the connector closed and drops idle connections.
func (c *Connector) Close() error {
	c.health.Closed()
	c.client.CloseIdleConnections()
	return nil
}
