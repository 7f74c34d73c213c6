// Package gateway is the inbound entry point. Invoke takes an agent request
// through lookup, argument validation, the safety gate and dispatch, and
// always returns exactly one ResultEnvelope.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bturcanu/OpsGate/pkg/aggregate"
	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/fallback"
	"github.com/bturcanu/OpsGate/pkg/metrics"
	"github.com/bturcanu/OpsGate/pkg/normalize"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/safety"
	"github.com/bturcanu/OpsGate/pkg/types"
)

var tracer = otel.Tracer("github.com/bturcanu/OpsGate/pkg/gateway")

const (
	DefaultDeadline = 30 * time.Second
	MaxDeadline     = 2 * time.Minute
)

// Options wires a Gateway. Registry and Connectors are required; the rest
// default to their package constructors.
type Options struct {
	Registry        *registry.Registry
	Connectors      *connectors.Set
	Gate            *safety.Gate
	Executor        *fallback.Manager
	Aggregator      *aggregate.Aggregator
	Logger          *slog.Logger
	DefaultDeadline time.Duration
	MaxDeadline     time.Duration
}

// Gateway dispatches tool invocations. It is safe for concurrent use.
type Gateway struct {
	registry        *registry.Registry
	connectors      *connectors.Set
	gate            *safety.Gate
	exec            *fallback.Manager
	agg             *aggregate.Aggregator
	log             *slog.Logger
	defaultDeadline time.Duration
	maxDeadline     time.Duration
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, errors.New("gateway.New: registry is required")
	}
	if opts.Connectors == nil {
		return nil, errors.New("gateway.New: connector set is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		registry:        opts.Registry,
		connectors:      opts.Connectors,
		gate:            opts.Gate,
		exec:            opts.Executor,
		agg:             opts.Aggregator,
		log:             log,
		defaultDeadline: opts.DefaultDeadline,
		maxDeadline:     opts.MaxDeadline,
	}
	if g.gate == nil {
		g.gate = safety.NewGate(nil, log)
	}
	if g.exec == nil {
		g.exec = fallback.NewManager(nil, log)
	}
	if g.agg == nil {
		g.agg = aggregate.New(g.exec, g.gate, log)
	}
	if g.defaultDeadline <= 0 {
		g.defaultDeadline = DefaultDeadline
	}
	if g.maxDeadline <= 0 {
		g.maxDeadline = MaxDeadline
	}
	if g.defaultDeadline > g.maxDeadline {
		g.defaultDeadline = g.maxDeadline
	}
	return g, nil
}

// Tools returns the catalogue sorted by name.
func (g *Gateway) Tools() []*registry.ToolDescriptor { return g.registry.List() }

// Connectors returns a health snapshot of every connector.
func (g *Gateway) Connectors() []connectors.Snapshot { return g.connectors.Snapshots() }

// Ready reports whether the gateway can serve: the registry is loaded and no
// connector has been closed.
func (g *Gateway) Ready() bool {
	if g.registry.Len() == 0 {
		return false
	}
	for _, s := range g.connectors.Snapshots() {
		if s.State == connectors.StateClosed.String() {
			return false
		}
	}
	return true
}

// Close shuts down every connector.
func (g *Gateway) Close() error { return g.connectors.CloseAll() }

// Invoke runs one request end to end. It never returns an error: every
// outcome, including rejections and backend failures, is an envelope.
func (g *Gateway) Invoke(ctx context.Context, req types.Request) types.ResultEnvelope {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "gateway.Invoke")
	defer span.End()

	env := g.invoke(ctx, requestID, start, req)
	env.DurationMS = time.Since(start).Milliseconds()

	label := env.Tool
	if env.Error != nil && env.Error.Kind == types.KindNotFound {
		label = "unknown"
	}
	if label == "" {
		label = "invalid"
	}
	metrics.InvocationsTotal.WithLabelValues(label, string(env.Status), string(env.DataSource)).Inc()
	metrics.InvocationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("opsgate.request_id", requestID),
		attribute.String("opsgate.tool", env.Tool),
		attribute.String("opsgate.status", string(env.Status)),
		attribute.String("opsgate.data_source", string(env.DataSource)),
	)

	attrs := []any{
		"request_id", requestID,
		"tool", env.Tool,
		"status", env.Status,
		"data_source", env.DataSource,
		"backend_id", env.BackendID,
		"duration_ms", env.DurationMS,
		"args_digest", normalize.Digest(req.Arguments),
	}
	if env.Error != nil {
		attrs = append(attrs, "error_kind", env.Error.Kind)
	}
	g.log.InfoContext(ctx, "tool invocation", attrs...)
	return env
}

func (g *Gateway) invoke(ctx context.Context, requestID string, now time.Time, req types.Request) types.ResultEnvelope {
	if err := req.Validate(); err != nil {
		info := types.NewErrorInfo(types.KindInvalidRequest, err.Error())
		return types.Rejection(requestID, req.Tool, info, now)
	}

	d, err := g.registry.Lookup(req.Tool)
	if err != nil {
		info := types.NewErrorInfo(types.KindNotFound, err.Error())
		info.Remediation = "Use a tool name from the gateway's tool catalogue."
		return types.Rejection(requestID, req.Tool, info, now)
	}

	args, err := d.ResolveArgs(req.Arguments)
	if err != nil {
		info := types.NewErrorInfo(types.KindSchemaError, err.Error())
		info.Remediation = "Correct the arguments to match the declared schema of " + d.Name + "."
		return types.Rejection(requestID, d.Name, info, now)
	}

	inv := types.Invocation{
		RequestID:  requestID,
		Tool:       d.Name,
		Args:       args,
		Consent:    req.Consent,
		SourceText: req.SourceText,
		Deadline:   g.deadline(ctx, now, req.TimeoutMS),
	}

	if dec := g.gate.Authorize(ctx, inv, d); !dec.Allow {
		return types.Rejection(requestID, d.Name, dec.ErrorInfo(), now)
	}

	if !d.Composite {
		return g.exec.Execute(ctx, inv, d, g.connector(d.Backend))
	}

	subs := make([]aggregate.Sub, 0, len(d.Components))
	for _, name := range d.Components {
		sd, err := g.registry.Lookup(name)
		if err != nil {
			continue
		}
		subs = append(subs, aggregate.Sub{Descriptor: sd, Connector: g.connector(sd.Backend)})
	}
	env, err := g.agg.ExecuteComposite(ctx, inv, d, subs)
	if err != nil {
		info := types.NewErrorInfo(types.KindInvalidRequest, err.Error())
		return types.Rejection(requestID, d.Name, info, now)
	}
	return env
}

// connector returns the connector bound to id, or nil when none is
// configured. The fallback manager turns a nil connector into an
// unavailable envelope.
func (g *Gateway) connector(id string) connectors.Connector {
	if c, ok := g.connectors.Get(id); ok {
		return c
	}
	return nil
}

// deadline resolves the invocation deadline: the caller's timeout clamped to
// the maximum, or the default, and never later than ctx's own deadline.
func (g *Gateway) deadline(ctx context.Context, now time.Time, timeoutMS int64) time.Time {
	budget := g.defaultDeadline
	if timeoutMS > 0 {
		budget = time.Duration(timeoutMS) * time.Millisecond
		if budget > g.maxDeadline {
			budget = g.maxDeadline
		}
	}
	deadline := now.Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}
