package connectors

import (
	"sync"
	"time"

	"github.com/bturcanu/OpsGate/pkg/metrics"
)

// State is a connector's health state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateDegraded:
		return "DEGRADED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a point-in-time view of a connector's health.
type Snapshot struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	State     string    `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Health tracks the state of one connector. DEGRADED and FAILED are not
// terminal: the next Invoke re-checks. CLOSED is terminal.
type Health struct {
	id   string
	kind Kind

	mu      sync.Mutex
	state   State
	lastErr error
	since   time.Time
}

// NewHealth creates a tracker in UNINITIALIZED.
func NewHealth(id string, kind Kind) *Health {
	h := &Health{id: id, kind: kind, since: time.Now().UTC()}
	metrics.ConnectorHealth.WithLabelValues(id).Set(float64(StateUninitialized))
	return h
}

// State returns the current state.
func (h *Health) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot returns the current state and last error.
func (h *Health) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{ID: h.id, Kind: h.kind, State: h.state.String(), Since: h.since}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}

// Connecting marks a connect or handshake attempt in progress.
func (h *Health) Connecting() { h.set(StateConnecting, nil) }

// Ready marks a successful health check or call.
func (h *Health) Ready() { h.set(StateReady, nil) }

// Degraded records a failed call; the connector stays eligible.
func (h *Health) Degraded(err error) { h.set(StateDegraded, err) }

// Failed records a failed connect or health check.
func (h *Health) Failed(err error) { h.set(StateFailed, err) }

// Closed is terminal.
func (h *Health) Closed() { h.set(StateClosed, nil) }

// IsClosed reports whether the connector was shut down.
func (h *Health) IsClosed() bool { return h.State() == StateClosed }

func (h *Health) set(to State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return
	}
	if err != nil {
		h.lastErr = err
	} else if to == StateReady {
		h.lastErr = nil
	}
	if h.state != to {
		h.state = to
		h.since = time.Now().UTC()
		metrics.ConnectorHealth.WithLabelValues(h.id).Set(float64(to))
	}
}
