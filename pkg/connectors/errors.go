package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bturcanu/OpsGate/pkg/types"
)

// ErrClosed is returned by connectors invoked after Close.
var ErrClosed = errors.New("connector closed")

// FailureKind is the connector-level failure class.
type FailureKind string

const (
	// process-based servers
	FailureLaunch      FailureKind = "launch"
	FailureHandshake   FailureKind = "handshake"
	FailureMalformed   FailureKind = "malformed"
	FailureProcessExit FailureKind = "process_exit"

	// HTTP / SDK providers
	FailureAuth      FailureKind = "auth"
	FailureRateLimit FailureKind = "rate_limit"
	FailureNetwork   FailureKind = "network"
	FailureHTTP      FailureKind = "http_status"

	// shared
	FailureTimeout     FailureKind = "timeout"
	FailureRemote      FailureKind = "remote_error"
	FailureUnavailable FailureKind = "unavailable"
	FailureClosed      FailureKind = "closed"
)

// ErrorKind maps the failure onto the envelope taxonomy.
func (k FailureKind) ErrorKind() types.ErrorKind {
	switch k {
	case FailureTimeout:
		return types.KindConnectorTimeout
	case FailureAuth:
		return types.KindConnectorAuthFailure
	case FailureRateLimit:
		return types.KindConnectorRateLimited
	case FailureMalformed:
		return types.KindMalformedResponse
	default:
		return types.KindConnectorUnavailable
	}
}

// Error is a classified connector failure.
type Error struct {
	Connector  string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connector %s: %s (status %d): %v", e.Connector, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connector %s: %s: %v", e.Connector, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail builds a classified connector error.
func Fail(connector string, kind FailureKind, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Connector: connector, Kind: kind, Err: err}
}

// FailStatus classifies a non-2xx HTTP response.
func FailStatus(connector string, code int, err error) *Error {
	e := Fail(connector, StatusKind(code), err)
	e.StatusCode = code
	return e
}

// StatusKind maps an HTTP status code to a failure kind.
func StatusKind(code int) FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FailureAuth
	case code == http.StatusTooManyRequests:
		return FailureRateLimit
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return FailureTimeout
	default:
		return FailureHTTP
	}
}

// KindOf extracts the failure kind from any error a connector returned.
// Unclassified context errors are mapped by their cause.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrClosed):
		return FailureClosed
	default:
		return FailureUnavailable
	}
}

// FromContext classifies a failure caused by ctx ending.
func FromContext(connector string, ctx context.Context) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Fail(connector, FailureTimeout, ctx.Err())
	}
	return Fail(connector, FailureUnavailable, ctx.Err())
}
