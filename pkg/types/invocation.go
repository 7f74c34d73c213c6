// Package types defines the invocation and result-envelope schema shared by
// every layer of the gateway.
package types

import (
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxToolNameBytes   = 128
	MaxSourceTextBytes = 16 * 1024
	MaxArguments       = 64
)

// ──────────────────────────────────────────────────────────────────────────────
// Request is what the agent layer hands to the gateway.
// ──────────────────────────────────────────────────────────────────────────────

type Request struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Consent    bool           `json:"consent"`
	SourceText string         `json:"source_text,omitempty"`
	TimeoutMS  int64          `json:"timeout_ms,omitempty"`
}

// Normalize trims and lowercases the tool name.
func (r *Request) Normalize() {
	r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
}

// Validate enforces the structural limits of a request. Argument schemas are
// checked later against the tool descriptor.
func (r *Request) Validate() error {
	r.Normalize()
	if r.Tool == "" {
		return &ValidationError{Field: "tool", Reason: "required"}
	}
	if len(r.Tool) > MaxToolNameBytes {
		return &ValidationError{Field: "tool", Reason: "too long"}
	}
	if len(r.Arguments) > MaxArguments {
		return &ValidationError{Field: "arguments", Reason: "too many entries"}
	}
	if len(r.SourceText) > MaxSourceTextBytes {
		return &ValidationError{Field: "source_text", Reason: "too long"}
	}
	if r.TimeoutMS < 0 {
		return &ValidationError{Field: "timeout_ms", Reason: "must not be negative"}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Invocation is a validated request bound to an id and a deadline. Lives only
// for the duration of one Invoke call.
// ──────────────────────────────────────────────────────────────────────────────

type Invocation struct {
	RequestID  string
	Tool       string
	Args       map[string]any
	Consent    bool
	SourceText string
	Deadline   time.Time
}
