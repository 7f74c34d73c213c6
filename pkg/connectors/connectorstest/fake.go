// Package connectorstest provides a scriptable in-memory connector for tests.
package connectorstest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

// Fake is a Connector whose behaviour is set per test. The zero behaviour
// returns an empty JSON object.
type Fake struct {
	id     string
	kind   connectors.Kind
	health *connectors.Health
	calls  atomic.Int64

	mu      sync.Mutex
	respond func(ctx context.Context, call connectors.Call) (*connectors.RawResult, error)
	last    connectors.Call
}

// New creates a healthy fake.
func New(id string) *Fake {
	f := &Fake{id: id, kind: connectors.KindSDKCall, health: connectors.NewHealth(id, connectors.KindSDKCall)}
	f.health.Ready()
	return f
}

// Returning makes every call succeed with body marshaled as JSON.
func (f *Fake) Returning(body any) *Fake {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return f.Func(func(context.Context, connectors.Call) (*connectors.RawResult, error) {
		return &connectors.RawResult{Connector: f.id, JSON: raw}, nil
	})
}

// Failing makes every call fail with the given kind and puts the fake into
// FAILED.
func (f *Fake) Failing(kind connectors.FailureKind) *Fake {
	err := connectors.Fail(f.id, kind, nil)
	f.health.Failed(err)
	return f.Func(func(context.Context, connectors.Call) (*connectors.RawResult, error) {
		return nil, err
	})
}

// Hanging makes every call block until release is closed, ignoring ctx.
func (f *Fake) Hanging(release <-chan struct{}) *Fake {
	return f.Func(func(context.Context, connectors.Call) (*connectors.RawResult, error) {
		<-release
		return &connectors.RawResult{Connector: f.id, JSON: json.RawMessage(`{}`)}, nil
	})
}

// Func installs an arbitrary behaviour.
func (f *Fake) Func(fn func(ctx context.Context, call connectors.Call) (*connectors.RawResult, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
	return f
}

// Calls returns how many times Invoke was called.
func (f *Fake) Calls() int64 { return f.calls.Load() }

// LastCall returns the most recent call.
func (f *Fake) LastCall() connectors.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *Fake) ID() string { return f.id }

func (f *Fake) Kind() connectors.Kind { return f.kind }

func (f *Fake) Health() connectors.Snapshot { return f.health.Snapshot() }

func (f *Fake) Invoke(ctx context.Context, call connectors.Call) (*connectors.RawResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = call
	fn := f.respond
	f.mu.Unlock()
	if fn == nil {
		return &connectors.RawResult{Connector: f.id, JSON: json.RawMessage(`{}`)}, nil
	}
	return fn(ctx, call)
}

func (f *Fake) Close() error {
	f.health.Closed()
	return nil
}
