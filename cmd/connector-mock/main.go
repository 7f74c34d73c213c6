// Connector-mock is a local development sidecar. It serves deterministic
// security payloads over the /exec protocol so the gateway's security tools
// can run without AWS credentials.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bturcanu/OpsGate/pkg/config"
	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/connectors/sdk"
)

type mockConnector struct {
	// failing lists operations that always answer with an error.
	failing map[string]bool
}

func newMockConnector(failing string) mockConnector {
	m := mockConnector{failing: make(map[string]bool)}
	for _, op := range strings.Split(failing, ",") {
		if op = strings.TrimSpace(op); op != "" {
			m.failing[op] = true
		}
	}
	return m
}

func (m mockConnector) Exec(_ context.Context, req connectors.ExecRequest) connectors.ExecResponse {
	if m.failing[req.Operation] {
		return sdk.Failure(connectors.FailureUnavailable, req.Operation+" is configured to fail")
	}
	var params struct {
		Region string `json:"region"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return sdk.Failure(connectors.FailureRemote, "invalid params: "+err.Error())
		}
	}
	if params.Region == "" {
		params.Region = "us-east-1"
	}

	switch req.Operation {
	case "security_hub_findings":
		return sdk.Success(securityHubFindings(params.Region))
	case "config_compliance":
		return sdk.Success(configEvaluations())
	case "inspector_findings":
		return sdk.Success(inspectorFindings(params.Region))
	case "trusted_advisor_checks":
		return sdk.Success(trustedAdvisorChecks())
	default:
		return sdk.Failure(connectors.FailureRemote, "unknown operation "+req.Operation)
	}
}

func securityHubFindings(region string) map[string]any {
	return map[string]any{"Findings": []any{
		map[string]any{
			"Id":        "arn:aws:securityhub:" + region + ":123456789012:finding/iam-root-mfa",
			"Title":     "Root account MFA is not enabled",
			"Severity":  map[string]any{"Label": "CRITICAL"},
			"Resources": []any{map[string]any{"Id": "arn:aws:iam::123456789012:root"}},
		},
		map[string]any{
			"Id":        "arn:aws:securityhub:" + region + ":123456789012:finding/s3-public-read",
			"Title":     "S3 bucket allows public read access",
			"Severity":  map[string]any{"Label": "HIGH"},
			"Resources": []any{map[string]any{"Id": "arn:aws:s3:::static-assets"}},
		},
	}}
}

func configEvaluations() map[string]any {
	return map[string]any{"evaluations": []any{
		map[string]any{"rule": "s3-bucket-server-side-encryption-enabled", "resource_id": "static-assets", "compliance_type": "NON_COMPLIANT"},
		map[string]any{"rule": "s3-bucket-server-side-encryption-enabled", "resource_id": "audit-logs", "compliance_type": "COMPLIANT"},
		map[string]any{"rule": "ec2-ebs-encryption-by-default", "resource_id": "account", "compliance_type": "COMPLIANT"},
		map[string]any{"rule": "rds-storage-encrypted", "resource_id": "orders-db", "compliance_type": "COMPLIANT"},
	}}
}

func inspectorFindings(region string) map[string]any {
	return map[string]any{"findings": []any{
		map[string]any{
			"findingArn": "arn:aws:inspector2:" + region + ":123456789012:finding/openssl",
			"title":      "CVE-2024-5535 - openssl",
			"severity":   "MEDIUM",
			"resources":  []any{map[string]any{"id": "i-0abc123def4567890"}},
		},
	}}
}

func trustedAdvisorChecks() map[string]any {
	return map[string]any{"checks": []any{
		map[string]any{"id": "HCP4007jGY", "name": "Security Groups - Specific Ports Unrestricted", "category": "security", "status": "warning", "flagged_resources": 3},
		map[string]any{"id": "Pfx0RwqBli", "name": "Amazon S3 Bucket Permissions", "category": "security", "status": "ok", "flagged_resources": 0},
	}}
}

func routes(m mockConnector, token string, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/exec", sdk.Handler(m, sdk.Config{
		InternalToken: token,
		Logger:        log,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	config.LoadDotEnv()
	addr := config.EnvOr("CONNECTOR_MOCK_ADDR", ":8090")
	m := newMockConnector(os.Getenv("CONNECTOR_MOCK_FAIL"))

	log.Info("connector-mock starting", "addr", addr)
	if err := http.ListenAndServe(addr, routes(m, os.Getenv("INTERNAL_AUTH_TOKEN"), log)); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
