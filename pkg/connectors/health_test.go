package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bturcanu/OpsGate/pkg/types"
)

func TestHealthTransitions(t *testing.T) {
	h := NewHealth("pricing", KindProcessStdio)
	if h.State() != StateUninitialized {
		t.Fatalf("expected UNINITIALIZED, got %s", h.State())
	}

	h.Connecting()
	h.Ready()
	if h.State() != StateReady {
		t.Fatalf("expected READY, got %s", h.State())
	}

	h.Degraded(errors.New("boom"))
	snap := h.Snapshot()
	if snap.State != "DEGRADED" || snap.LastError != "boom" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	h.Ready()
	if h.Snapshot().LastError != "" {
		t.Error("ready should clear last error")
	}
}

func TestHealthClosedIsTerminal(t *testing.T) {
	h := NewHealth("github", KindHTTPAPI)
	h.Closed()
	h.Ready()
	h.Degraded(errors.New("late"))
	if !h.IsClosed() {
		t.Fatalf("expected CLOSED to stick, got %s", h.State())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"classified", Fail("c", FailureAuth, nil), FailureAuth},
		{"wrapped classified", fmt.Errorf("outer: %w", Fail("c", FailureMalformed, nil)), FailureMalformed},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"closed", ErrClosed, FailureClosed},
		{"other", errors.New("x"), FailureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusKind(t *testing.T) {
	tests := map[int]FailureKind{
		http.StatusUnauthorized:        FailureAuth,
		http.StatusForbidden:           FailureAuth,
		http.StatusTooManyRequests:     FailureRateLimit,
		http.StatusGatewayTimeout:      FailureTimeout,
		http.StatusInternalServerError: FailureHTTP,
		http.StatusNotFound:            FailureHTTP,
	}
	for code, want := range tests {
		if got := StatusKind(code); got != want {
			t.Errorf("StatusKind(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestFailureKindMapsToEnvelopeKind(t *testing.T) {
	tests := map[FailureKind]types.ErrorKind{
		FailureTimeout:     types.KindConnectorTimeout,
		FailureAuth:        types.KindConnectorAuthFailure,
		FailureRateLimit:   types.KindConnectorRateLimited,
		FailureMalformed:   types.KindMalformedResponse,
		FailureLaunch:      types.KindConnectorUnavailable,
		FailureHandshake:   types.KindConnectorUnavailable,
		FailureProcessExit: types.KindConnectorUnavailable,
		FailureHTTP:        types.KindConnectorUnavailable,
	}
	for fk, want := range tests {
		if got := fk.ErrorKind(); got != want {
			t.Errorf("%s.ErrorKind() = %s, want %s", fk, got, want)
		}
	}
}

type stubConnector struct {
	id     string
	closed bool
}

func (s *stubConnector) ID() string { return s.id }

func (s *stubConnector) Kind() Kind { return KindSDKCall }

func (s *stubConnector) Invoke(context.Context, Call) (*RawResult, error) {
	return &RawResult{Connector: s.id}, nil
}

func (s *stubConnector) Health() Snapshot {
	return Snapshot{ID: s.id, Kind: KindSDKCall, State: "READY"}
}

func (s *stubConnector) Close() error {
	s.closed = true
	return nil
}

func TestSetRejectsDuplicates(t *testing.T) {
	set := NewSet()
	if err := set.Add(&stubConnector{id: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := set.Add(&stubConnector{id: "a"}); !errors.Is(err, ErrConnectorExists) {
		t.Fatalf("expected ErrConnectorExists, got %v", err)
	}
	if err := set.Add(&stubConnector{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSetSnapshotsSortedAndCloseAll(t *testing.T) {
	set := NewSet()
	b, a := &stubConnector{id: "b"}, &stubConnector{id: "a"}
	_ = set.Add(b)
	_ = set.Add(a)

	snaps := set.Snapshots()
	if len(snaps) != 2 || snaps[0].ID != "a" || snaps[1].ID != "b" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
	if err := set.CloseAll(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected all connectors closed")
	}
}
