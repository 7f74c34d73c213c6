// Package fallback wraps every connector call so that it returns within its
// deadline and always yields a provenance-stamped envelope.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/metrics"
	"github.com/bturcanu/OpsGate/pkg/normalize"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/types"
)

var tracer = otel.Tracer("github.com/bturcanu/OpsGate/pkg/fallback")

// Manager executes single connector calls.
type Manager struct {
	normalizer *normalize.Normalizer
	log        *slog.Logger
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. A nil normalizer uses normalize.New().
func NewManager(n *normalize.Normalizer, log *slog.Logger, opts ...Option) *Manager {
	if n == nil {
		n = normalize.New()
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{normalizer: n, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type outcome struct {
	raw *connectors.RawResult
	err error
}

// Execute calls c for inv and returns exactly one envelope. The call is
// bounded by the earlier of inv.Deadline and the descriptor's timeout; when
// that passes the call is abandoned and a fallback envelope is returned.
func (m *Manager) Execute(ctx context.Context, inv types.Invocation, d *registry.ToolDescriptor, c connectors.Connector) types.ResultEnvelope {
	start := m.now()
	backendID := d.Backend
	if c != nil {
		backendID = c.ID()
	}

	ctx, span := tracer.Start(ctx, "fallback.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("opsgate.tool", d.Name),
		attribute.String("opsgate.backend", backendID),
	)

	if c == nil {
		err := connectors.Fail(backendID, connectors.FailureUnavailable, errors.New("connector not configured"))
		return m.fallback(ctx, inv, d, backendID, err, start, span)
	}

	deadline := inv.Deadline
	if d.Timeout > 0 {
		if limit := time.Now().Add(d.Timeout); deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: connectors.Fail(backendID, connectors.FailureUnavailable, fmt.Errorf("connector panic: %v", r))}
			}
		}()
		raw, err := c.Invoke(callCtx, connectors.Call{
			RequestID: inv.RequestID,
			Tool:      d.Name,
			Operation: d.Operation(),
			Args:      inv.Args,
		})
		done <- outcome{raw: raw, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		// The connector ignored its context; stop waiting for it.
		out = outcome{err: connectors.FromContext(backendID, callCtx)}
	}
	if out.err != nil {
		return m.fallback(ctx, inv, d, backendID, out.err, start, span)
	}

	data, err := m.normalizer.Normalize(d.Name, out.raw)
	if err != nil {
		ferr := connectors.Fail(backendID, connectors.FailureMalformed, err)
		return m.fallback(ctx, inv, d, backendID, ferr, start, span)
	}

	now := m.now()
	return types.ResultEnvelope{
		RequestID:  inv.RequestID,
		Tool:       d.Name,
		Status:     types.StatusSuccess,
		Data:       data,
		DataSource: types.SourceLive,
		BackendID:  backendID,
		Timestamp:  now.UTC(),
		DurationMS: now.Sub(start).Milliseconds(),
	}
}

func (m *Manager) fallback(ctx context.Context, inv types.Invocation, d *registry.ToolDescriptor, backendID string, err error, start time.Time, span trace.Span) types.ResultEnvelope {
	kind := connectors.KindOf(err)
	metrics.ConnectorFailures.WithLabelValues(backendID, string(kind)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	m.log.WarnContext(ctx, "connector call failed, returning fallback",
		"request_id", inv.RequestID,
		"tool", d.Name,
		"backend", backendID,
		"kind", kind,
		"error", err,
	)

	now := m.now()
	return types.ResultEnvelope{
		RequestID:  inv.RequestID,
		Tool:       d.Name,
		Status:     types.StatusError,
		Data:       Placeholder(d, backendID),
		DataSource: types.SourceFallback,
		BackendID:  backendID,
		Timestamp:  now.UTC(),
		Error:      types.NewErrorInfo(kind.ErrorKind(), err.Error()),
		DurationMS: now.Sub(start).Milliseconds(),
	}
}

// Placeholder returns the deterministic fallback payload for d. It is a
// fresh copy on every call.
func Placeholder(d *registry.ToolDescriptor, backendID string) map[string]any {
	data := registry.CloneData(d.Fallback)
	data["notice"] = fmt.Sprintf("%s did not answer; this is placeholder data, not a live result.", backendID)
	return data
}
