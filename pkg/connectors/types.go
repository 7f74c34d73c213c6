// Package connectors defines the uniform contract every backend connector
// presents to the gateway, plus the health and failure model they share.
package connectors

import (
	"context"
	"encoding/json"
)

// Kind is the transport family of a connector.
type Kind string

const (
	KindProcessStdio Kind = "process_stdio"
	KindHTTPAPI      Kind = "http_api"
	KindSDKCall      Kind = "sdk_call"
)

// Connector executes operations on one external provider.
//
// Contract:
//   - Invoke must be safe for concurrent use; implementations are either
//     stateless per call or serialize access to their handle internally.
//   - Invoke must honor ctx cancellation and deadlines.
//   - Failures are returned as *Error so callers can read the FailureKind.
type Connector interface {
	ID() string
	Kind() Kind
	Invoke(ctx context.Context, call Call) (*RawResult, error)
	Health() Snapshot
	Close() error
}

// Call is one operation request as seen by a connector.
type Call struct {
	RequestID string
	Tool      string // gateway-facing tool name
	Operation string // backend-native operation name
	Args      map[string]any
}

// RawResult is the backend-native payload before normalization. JSON holds
// any structured body; Text holds free-form output when the backend returns
// text content.
type RawResult struct {
	Connector string
	JSON      json.RawMessage
	Text      string
}

// ──────────────────────────────────────────────────────────────────────────────
// Sidecar wire protocol: POST {base}/exec
// ──────────────────────────────────────────────────────────────────────────────

// ExecRequest is the payload sent from the gateway to a sidecar connector.
type ExecRequest struct {
	RequestID string          `json:"request_id"`
	Tool      string          `json:"tool"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params"`
}

// ExecResponse is what the sidecar returns.
type ExecResponse struct {
	Status     string          `json:"status"` // "success" | "error"
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
}
