package types

import "time"

// Status is the outcome class of an envelope.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// DataSource is the provenance marker on every envelope.
type DataSource string

const (
	SourceLive     DataSource = "live"
	SourceFallback DataSource = "fallback"
)

// ResultEnvelope is the single shape returned to the agent layer.
type ResultEnvelope struct {
	RequestID  string         `json:"request_id"`
	Tool       string         `json:"tool"`
	Status     Status         `json:"status"`
	Data       map[string]any `json:"data"`
	DataSource DataSource     `json:"data_source"`
	BackendID  string         `json:"backend_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Live reports whether the envelope carries backend data.
func (e *ResultEnvelope) Live() bool {
	return e.DataSource == SourceLive
}

// Rejection builds the envelope for an invocation refused before any
// connector was touched. Rejections carry no backend data, so they are
// stamped as fallback.
func Rejection(requestID, tool string, info *ErrorInfo, now time.Time) ResultEnvelope {
	data := map[string]any{"tool": tool}
	if info != nil && info.Remediation != "" {
		data["remediation"] = info.Remediation
	}
	return ResultEnvelope{
		RequestID:  requestID,
		Tool:       tool,
		Status:     StatusError,
		Data:       data,
		DataSource: SourceFallback,
		Timestamp:  now.UTC(),
		Error:      info,
	}
}
