package types

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// Error kinds carried inside a ResultEnvelope
// ──────────────────────────────────────────────────────────────────────────────

// ErrorKind is the machine-readable failure class an agent can branch on.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindSchemaError          ErrorKind = "SchemaError"
	KindConsentRequired      ErrorKind = "ConsentRequired"
	KindConnectorUnavailable ErrorKind = "ConnectorUnavailable"
	KindConnectorTimeout     ErrorKind = "ConnectorTimeout"
	KindConnectorAuthFailure ErrorKind = "ConnectorAuthFailure"
	KindConnectorRateLimited ErrorKind = "ConnectorRateLimited"
	KindMalformedResponse    ErrorKind = "MalformedBackendResponse"
	KindCompositePartial     ErrorKind = "CompositePartialFailure"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
)

// Retryable reports whether a fresh invocation with the same arguments may
// succeed without the caller changing anything.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnectorUnavailable, KindConnectorTimeout, KindConnectorRateLimited, KindCompositePartial:
		return true
	default:
		return false
	}
}

// ErrorInfo is the structured error attached to an envelope.
type ErrorInfo struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	Retryable   bool      `json:"retryable"`
}

// NewErrorInfo builds an ErrorInfo with Retryable derived from the kind.
func NewErrorInfo(kind ErrorKind, msg string) *ErrorInfo {
	return &ErrorInfo{Kind: kind, Message: msg, Retryable: kind.Retryable()}
}

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (returned during argument resolution)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// APIError is a transport-level error for the HTTP surface. Tool outcomes never
// use it; they always travel inside a ResultEnvelope.
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

func ErrBadRequest(msg string) *APIError {
	return &APIError{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}
