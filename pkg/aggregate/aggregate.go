// Package aggregate runs composite tools: it fans sub-invocations out
// concurrently, each through the fallback manager, and merges the results.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/fallback"
	"github.com/bturcanu/OpsGate/pkg/metrics"
	"github.com/bturcanu/OpsGate/pkg/normalize"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/safety"
	"github.com/bturcanu/OpsGate/pkg/types"
)

var tracer = otel.Tracer("github.com/bturcanu/OpsGate/pkg/aggregate")

// ErrNoSubInvocations is returned for a composite call with nothing to run.
var ErrNoSubInvocations = errors.New("composite call has no sub-invocations")

const maxReserve = 500 * time.Millisecond

// Sub is one component of a composite call.
type Sub struct {
	Descriptor *registry.ToolDescriptor
	Connector  connectors.Connector
}

// Aggregator executes composite tools. Every sub-invocation is authorized
// by gate on its own descriptor before it reaches a connector.
type Aggregator struct {
	exec *fallback.Manager
	gate *safety.Gate
	log  *slog.Logger
	now  func() time.Time
}

// New creates an Aggregator on top of exec. A nil gate uses the default
// vocabulary.
func New(exec *fallback.Manager, gate *safety.Gate, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	if gate == nil {
		gate = safety.NewGate(nil, log)
	}
	return &Aggregator{exec: exec, gate: gate, log: log, now: time.Now}
}

// ExecuteComposite runs every sub concurrently and merges their envelopes.
// It waits for all subs; none can outlive its slice of the deadline.
func (a *Aggregator) ExecuteComposite(ctx context.Context, inv types.Invocation, d *registry.ToolDescriptor, subs []Sub) (types.ResultEnvelope, error) {
	if len(subs) == 0 {
		return types.ResultEnvelope{}, fmt.Errorf("aggregate.ExecuteComposite %s: %w", d.Name, ErrNoSubInvocations)
	}
	start := a.now()

	ctx, span := tracer.Start(ctx, "aggregate.ExecuteComposite")
	defer span.End()
	span.SetAttributes(
		attribute.String("opsgate.tool", d.Name),
		attribute.Int("opsgate.subcalls", len(subs)),
	)

	results := make([]types.ResultEnvelope, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub Sub) {
			defer wg.Done()
			results[i] = a.runSub(ctx, inv, sub)
		}(i, sub)
	}
	wg.Wait()

	for _, r := range results {
		outcome := "fallback"
		if r.Live() && r.Status == types.StatusSuccess {
			outcome = "live"
		}
		metrics.CompositeSubcalls.WithLabelValues(d.Name, outcome).Inc()
	}

	env := Merge(inv.RequestID, d, results)
	now := a.now()
	env.Timestamp = now.UTC()
	env.DurationMS = now.Sub(start).Milliseconds()
	span.SetAttributes(attribute.String("opsgate.status", string(env.Status)))
	return env, nil
}

// runSub resolves the sub's arguments, authorizes the sub and executes it
// within its deadline slice. A denied sub never reaches its connector.
func (a *Aggregator) runSub(ctx context.Context, inv types.Invocation, sub Sub) types.ResultEnvelope {
	sd := sub.Descriptor
	args, err := sd.ResolveArgs(sd.FilterArgs(inv.Args))
	if err != nil {
		info := types.NewErrorInfo(types.KindSchemaError, err.Error())
		return types.ResultEnvelope{
			RequestID:  inv.RequestID,
			Tool:       sd.Name,
			Status:     types.StatusError,
			Data:       fallback.Placeholder(sd, sd.Backend),
			DataSource: types.SourceFallback,
			BackendID:  sd.Backend,
			Timestamp:  a.now().UTC(),
			Error:      info,
		}
	}

	subInv := types.Invocation{
		RequestID:  inv.RequestID,
		Tool:       sd.Name,
		Args:       args,
		Consent:    inv.Consent,
		SourceText: inv.SourceText,
		Deadline:   SubDeadline(time.Now(), inv.Deadline, sd.Timeout),
	}
	if dec := a.gate.Authorize(ctx, subInv, sd); !dec.Allow {
		env := types.Rejection(inv.RequestID, sd.Name, dec.ErrorInfo(), a.now())
		env.BackendID = sd.Backend
		return env
	}
	return a.exec.Execute(ctx, subInv, sd, sub.Connector)
}

// SubDeadline divides the composite budget: a reserve is held back for the
// merge (a tenth of the budget, at most 500ms) and each sub gets the rest,
// capped by its own timeout.
func SubDeadline(now, deadline time.Time, subTimeout time.Duration) time.Time {
	budget := deadline.Sub(now)
	if budget <= 0 {
		return deadline
	}
	reserve := budget / 10
	if reserve > maxReserve {
		reserve = maxReserve
	}
	slice := budget - reserve
	if subTimeout > 0 && subTimeout < slice {
		slice = subTimeout
	}
	return now.Add(slice)
}

// Merge combines sub envelopes into the composite envelope. It depends only
// on the set of results, not their order.
func Merge(requestID string, d *registry.ToolDescriptor, results []types.ResultEnvelope) types.ResultEnvelope {
	sorted := append([]types.ResultEnvelope(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tool < sorted[j].Tool })

	var live, failed []types.ResultEnvelope
	backends := make(map[string]bool)
	for _, r := range sorted {
		backends[r.BackendID] = true
		if r.Status == types.StatusSuccess && r.Live() {
			live = append(live, r)
		} else {
			failed = append(failed, r)
		}
	}
	ids := make([]string, 0, len(backends))
	for id := range backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	backendID := strings.Join(ids, ",")

	env := types.ResultEnvelope{
		RequestID: requestID,
		Tool:      d.Name,
		BackendID: backendID,
	}

	switch {
	case len(failed) == 0:
		env.Status = types.StatusSuccess
	case len(live) == 0:
		env.Status = types.StatusError
	default:
		env.Status = types.StatusPartial
	}

	if len(live) == 0 {
		env.DataSource = types.SourceFallback
		env.Data = fallback.Placeholder(d, backendID)
	} else {
		env.DataSource = types.SourceLive
		env.Data = mergeFindings(live)
	}
	env.Data["sources"] = sourcesData(sorted)

	if len(failed) > 0 {
		parts := make([]string, 0, len(failed))
		names := make([]any, 0, len(failed))
		for _, f := range failed {
			kind := "unknown"
			if f.Error != nil {
				kind = string(f.Error.Kind)
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", f.Tool, kind))
			names = append(names, f.Tool)
		}
		env.Data["failed_sources"] = names
		kind := types.KindCompositePartial
		if len(live) == 0 {
			kind = commonKind(failed)
		}
		env.Error = types.NewErrorInfo(kind,
			fmt.Sprintf("%d of %d sources failed: %s", len(failed), len(sorted), strings.Join(parts, ", ")))
	}
	return env
}

// commonKind is the error kind shared by every failed sub, or
// ConnectorUnavailable when they disagree.
func commonKind(failed []types.ResultEnvelope) types.ErrorKind {
	var kind types.ErrorKind
	for _, f := range failed {
		if f.Error == nil {
			return types.KindConnectorUnavailable
		}
		if kind == "" {
			kind = f.Error.Kind
		} else if kind != f.Error.Kind {
			return types.KindConnectorUnavailable
		}
	}
	if kind == "" {
		return types.KindConnectorUnavailable
	}
	return kind
}

func sourcesData(results []types.ResultEnvelope) map[string]any {
	out := make(map[string]any, len(results))
	for _, r := range results {
		s := map[string]any{
			"status":      string(r.Status),
			"data_source": string(r.DataSource),
			"backend_id":  r.BackendID,
		}
		if r.Error != nil {
			s["error_kind"] = string(r.Error.Kind)
		}
		if r.Live() {
			if score, ok := normalize.ScoreOf(r.Data); ok {
				s["score"] = score
			}
		}
		out[r.Tool] = s
	}
	return out
}
