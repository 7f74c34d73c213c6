package fallback

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/connectors/connectorstest"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/types"
)

func pricingTool() *registry.ToolDescriptor {
	return &registry.ToolDescriptor{
		Name:        "get_pricing",
		SafetyClass: registry.SafetySafe,
		Backend:     "aws-pricing",
		Timeout:     5 * time.Second,
		Fallback: map[string]any{
			"message":                "Live pricing is unavailable.",
			"pricing_calculator_url": "https://calculator.aws/",
		},
	}
}

func invocation(timeout time.Duration) types.Invocation {
	return types.Invocation{
		RequestID: "req-1",
		Tool:      "get_pricing",
		Args:      map[string]any{"service_code": "AmazonEC2"},
		Deadline:  time.Now().Add(timeout),
	}
}

func TestExecuteLive(t *testing.T) {
	m := NewManager(nil, nil)
	fake := connectorstest.New("aws-pricing").Returning(map[string]any{"prices": []any{}})

	env := m.Execute(context.Background(), invocation(time.Second), pricingTool(), fake)
	if env.Status != types.StatusSuccess || env.DataSource != types.SourceLive {
		t.Fatalf("expected live success, got %+v", env)
	}
	if env.BackendID != "aws-pricing" || env.RequestID != "req-1" || env.Error != nil {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
	call := fake.LastCall()
	if call.Operation != "get_pricing" || call.Args["service_code"] != "AmazonEC2" {
		t.Errorf("unexpected call: %+v", call)
	}
}

func TestExecuteFallbackKinds(t *testing.T) {
	tests := []struct {
		failure connectors.FailureKind
		want    types.ErrorKind
	}{
		{connectors.FailureTimeout, types.KindConnectorTimeout},
		{connectors.FailureAuth, types.KindConnectorAuthFailure},
		{connectors.FailureRateLimit, types.KindConnectorRateLimited},
		{connectors.FailureMalformed, types.KindMalformedResponse},
		{connectors.FailureHandshake, types.KindConnectorUnavailable},
		{connectors.FailureLaunch, types.KindConnectorUnavailable},
		{connectors.FailureProcessExit, types.KindConnectorUnavailable},
		{connectors.FailureHTTP, types.KindConnectorUnavailable},
	}
	m := NewManager(nil, nil)
	for _, tt := range tests {
		t.Run(string(tt.failure), func(t *testing.T) {
			fake := connectorstest.New("aws-pricing").Failing(tt.failure)
			env := m.Execute(context.Background(), invocation(time.Second), pricingTool(), fake)
			if env.DataSource != types.SourceFallback {
				t.Fatalf("expected fallback, got %s", env.DataSource)
			}
			if env.Status != types.StatusError || env.Error == nil || env.Error.Kind != tt.want {
				t.Fatalf("expected error kind %s, got %+v", tt.want, env.Error)
			}
			if env.Data["pricing_calculator_url"] != "https://calculator.aws/" {
				t.Errorf("placeholder missing: %+v", env.Data)
			}
			if _, ok := env.Data["notice"]; !ok {
				t.Error("placeholder should carry a notice")
			}
		})
	}
}

func TestExecuteHangingConnectorReturnsByDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewManager(nil, nil)
	fake := connectorstest.New("aws-pricing").Hanging(release)

	const deadline = 100 * time.Millisecond
	start := time.Now()
	env := m.Execute(context.Background(), invocation(deadline), pricingTool(), fake)
	elapsed := time.Since(start)

	if elapsed > deadline+250*time.Millisecond {
		t.Errorf("returned after %s, deadline was %s", elapsed, deadline)
	}
	if env.DataSource != types.SourceFallback || env.Error.Kind != types.KindConnectorTimeout {
		t.Errorf("expected timeout fallback, got %+v", env)
	}
}

func TestExecuteDescriptorTimeoutCapsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewManager(nil, nil)
	d := pricingTool()
	d.Timeout = 50 * time.Millisecond

	start := time.Now()
	env := m.Execute(context.Background(), invocation(10*time.Second), d, connectorstest.New("aws-pricing").Hanging(release))
	if time.Since(start) > time.Second {
		t.Errorf("descriptor timeout was not applied")
	}
	if env.Error == nil || env.Error.Kind != types.KindConnectorTimeout {
		t.Errorf("expected timeout, got %+v", env.Error)
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	m := NewManager(nil, nil)
	fake := connectorstest.New("aws-pricing").Func(func(context.Context, connectors.Call) (*connectors.RawResult, error) {
		panic("nil map")
	})
	env := m.Execute(context.Background(), invocation(time.Second), pricingTool(), fake)
	if env.DataSource != types.SourceFallback || env.Error.Kind != types.KindConnectorUnavailable {
		t.Errorf("expected unavailable fallback, got %+v", env)
	}
}

func TestExecuteMalformedPayload(t *testing.T) {
	m := NewManager(nil, nil)
	fake := connectorstest.New("aws-pricing").Func(func(context.Context, connectors.Call) (*connectors.RawResult, error) {
		return &connectors.RawResult{}, nil
	})
	env := m.Execute(context.Background(), invocation(time.Second), pricingTool(), fake)
	if env.Error == nil || env.Error.Kind != types.KindMalformedResponse {
		t.Errorf("expected MalformedBackendResponse, got %+v", env.Error)
	}
}

func TestExecuteWithoutConnector(t *testing.T) {
	m := NewManager(nil, nil)
	env := m.Execute(context.Background(), invocation(time.Second), pricingTool(), nil)
	if env.DataSource != types.SourceFallback || env.BackendID != "aws-pricing" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestPlaceholderIsDeterministicCopy(t *testing.T) {
	d := pricingTool()
	a := Placeholder(d, "aws-pricing")
	b := Placeholder(d, "aws-pricing")
	if !reflect.DeepEqual(a, b) {
		t.Error("placeholder should be deterministic")
	}
	a["message"] = "changed"
	if d.Fallback["message"] != "Live pricing is unavailable." {
		t.Error("placeholder shares memory with the descriptor")
	}
}

func TestExecuteUsesClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManager(nil, nil, WithClock(func() time.Time { return fixed }))
	env := m.Execute(context.Background(), invocation(time.Hour), pricingTool(), connectorstest.New("aws-pricing"))
	if !env.Timestamp.Equal(fixed) || env.DurationMS != 0 {
		t.Errorf("clock not used: %s %d", env.Timestamp, env.DurationMS)
	}
}
