package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/connectors/sdk"
)

func newSidecar(t *testing.T, exec sdk.ExecutorFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", sdk.Handler(exec, sdk.Config{InternalToken: "tok"}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeSuccess(t *testing.T) {
	var seen connectors.ExecRequest
	srv := newSidecar(t, func(_ context.Context, req connectors.ExecRequest) connectors.ExecResponse {
		seen = req
		return sdk.Success(map[string]any{"findings": []any{}})
	})

	c, err := New(Config{ID: "security-hub", BaseURL: srv.URL + "/", InternalToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Invoke(context.Background(), connectors.Call{
		RequestID: "r1",
		Tool:      "security_hub_findings",
		Operation: "security_hub_findings",
		Args:      map[string]any{"region": "eu-west-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Connector != "security-hub" || len(res.JSON) == 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if seen.RequestID != "r1" || seen.Operation != "security_hub_findings" {
		t.Errorf("unexpected request: %+v", seen)
	}
	var params map[string]any
	_ = json.Unmarshal(seen.Params, &params)
	if params["region"] != "eu-west-1" {
		t.Errorf("params not forwarded: %s", seen.Params)
	}
	if c.Health().State != "READY" {
		t.Errorf("expected READY, got %s", c.Health().State)
	}
}

func TestInvokeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    connectors.FailureKind
	}{
		{"unauthorized", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, connectors.FailureAuth},
		{"throttled", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, connectors.FailureRateLimit},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, connectors.FailureHTTP},
		{"malformed", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}, connectors.FailureMalformed},
		{"remote error", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(connectors.ExecResponse{Status: "error", Error: "no such region"})
		}, connectors.FailureRemote},
		{"remote auth", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(connectors.ExecResponse{Status: "error", Error: "expired", ErrorKind: "auth"})
		}, connectors.FailureAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, _ := New(Config{ID: "x", BaseURL: srv.URL})
			_, err := c.Invoke(context.Background(), connectors.Call{Operation: "op"})
			if got := connectors.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
			if c.Health().State != "DEGRADED" {
				t.Errorf("expected DEGRADED, got %s", c.Health().State)
			}
		})
	}
}

func TestInvokeHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(Config{ID: "slow", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Invoke(ctx, connectors.Call{Operation: "op"})
	if connectors.KindOf(err) != connectors.FailureTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("invoke took %s", elapsed)
	}
}

func TestInvokeRecoversAfterDegraded(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(sdk.Success(map[string]any{"ok": true}))
	}))
	defer srv.Close()

	c, _ := New(Config{ID: "flaky", BaseURL: srv.URL})
	if _, err := c.Invoke(context.Background(), connectors.Call{Operation: "op"}); err == nil {
		t.Fatal("expected failure")
	}
	fail.Store(false)
	if _, err := c.Invoke(context.Background(), connectors.Call{Operation: "op"}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if c.Health().State != "READY" {
		t.Errorf("expected READY, got %s", c.Health().State)
	}
}

func TestCheckHealthAndClose(t *testing.T) {
	srv := newSidecar(t, func(context.Context, connectors.ExecRequest) connectors.ExecResponse {
		return sdk.Success(nil)
	})
	c, _ := New(Config{ID: "sidecar", BaseURL: srv.URL})
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Fatalf("check health: %v", err)
	}
	_ = c.Close()
	if _, err := c.Invoke(context.Background(), connectors.Call{}); connectors.KindOf(err) != connectors.FailureClosed {
		t.Errorf("expected closed failure, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := New(Config{ID: "x"}); err == nil {
		t.Error("expected error for missing base url")
	}
}
