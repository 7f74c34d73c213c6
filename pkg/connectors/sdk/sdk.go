// Package sdk is the sidecar side of the /exec protocol: it lets a provider
// process expose operations to the gateway's httpapi connector.
package sdk

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/OpsGate/pkg/connectors"
)

const maxBodyBytes = 1 << 20

// Executor runs one operation.
type Executor interface {
	Exec(context.Context, connectors.ExecRequest) connectors.ExecResponse
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(context.Context, connectors.ExecRequest) connectors.ExecResponse

func (f ExecutorFunc) Exec(ctx context.Context, req connectors.ExecRequest) connectors.ExecResponse {
	return f(ctx, req)
}

type Config struct {
	InternalToken string
	Logger        *slog.Logger
	// ExecTimeout bounds a single Exec. Defaults to 15s.
	ExecTimeout time.Duration
}

// Handler serves POST /exec.
func Handler(executor Executor, cfg Config) http.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ExecTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if cfg.InternalToken != "" && r.Header.Get("X-Internal-Token") != cfg.InternalToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req connectors.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		resp := executor.Exec(ctx, req)
		if resp.Status == "" {
			resp.Status = "success"
		}
		log.DebugContext(ctx, "exec handled", "request_id", req.RequestID, "operation", req.Operation, "status", resp.Status)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("encode response failed", "error", err)
		}
	}
}

// Success marshals output into a success response.
func Success(output any) connectors.ExecResponse {
	raw, err := json.Marshal(output)
	if err != nil {
		return Failure(connectors.FailureMalformed, err.Error())
	}
	return connectors.ExecResponse{Status: "success", OutputJSON: raw}
}

// Failure builds an error response carrying a failure kind.
func Failure(kind connectors.FailureKind, msg string) connectors.ExecResponse {
	return connectors.ExecResponse{Status: "error", Error: msg, ErrorKind: string(kind)}
}
