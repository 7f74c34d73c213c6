// Package inproc implements SDK_CALL connectors whose operations run as
// in-process functions rather than over a transport.
package inproc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

// HandlerFunc executes one operation. It must honor ctx and be safe for
// concurrent use.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Connector dispatches operations to a fixed handler table.
type Connector struct {
	id       string
	handlers map[string]HandlerFunc
	health   *connectors.Health
}

// New creates a connector. The handler map is copied; it cannot change after
// construction.
func New(id string, handlers map[string]HandlerFunc) *Connector {
	table := make(map[string]HandlerFunc, len(handlers))
	for op, h := range handlers {
		table[op] = h
	}
	c := &Connector{id: id, handlers: table, health: connectors.NewHealth(id, connectors.KindSDKCall)}
	c.health.Ready()
	return c
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Kind() connectors.Kind { return connectors.KindSDKCall }

func (c *Connector) Health() connectors.Snapshot { return c.health.Snapshot() }

// Operations lists the registered operation names.
func (c *Connector) Operations() []string {
	out := make([]string, 0, len(c.handlers))
	for op := range c.handlers {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the handler for call.Operation.
func (c *Connector) Invoke(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	if c.health.IsClosed() {
		return nil, connectors.Fail(c.id, connectors.FailureClosed, connectors.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, connectors.FromContext(c.id, ctx)
	}
	h, ok := c.handlers[call.Operation]
	if !ok {
		return nil, connectors.Fail(c.id, connectors.FailureRemote, fmt.Errorf("unknown operation %q", call.Operation))
	}

	out, err := h(ctx, call.Args)
	if err != nil {
		c.health.Degraded(err)
		if ctx.Err() != nil {
			return nil, connectors.FromContext(c.id, ctx)
		}
		return nil, connectors.Fail(c.id, connectors.FailureRemote, err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		c.health.Degraded(err)
		return nil, connectors.Fail(c.id, connectors.FailureMalformed, err)
	}
	c.health.Ready()
	return &connectors.RawResult{Connector: c.id, JSON: raw}, nil
}

// Close marks the connector closed.
func (c *Connector) Close() error {
	c.health.Closed()
	return nil
}
