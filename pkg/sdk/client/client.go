// Package client is a Go client for the OpsGate HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/types"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke calls one tool. Tool failures come back inside the envelope; the
// error is only set when the gateway could not be reached or refused the
// request itself.
func (c *Client) Invoke(ctx context.Context, req types.Request) (*types.ResultEnvelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var env types.ResultEnvelope
	if err := c.doJSON(httpReq, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Tools lists the gateway's tool catalogue.
func (c *Client) Tools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tools", http.NoBody)
	if err != nil {
		return nil, err
	}
	var tools []registry.ToolDescriptor
	if err := c.doJSON(httpReq, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// Connectors lists connector health.
func (c *Client) Connectors(ctx context.Context) ([]connectors.Snapshot, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/connectors", http.NoBody)
	if err != nil {
		return nil, err
	}
	var snaps []connectors.Snapshot
	if err := c.doJSON(httpReq, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("api error %s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
