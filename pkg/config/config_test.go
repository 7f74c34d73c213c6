package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("OG_INT", "7")
	t.Setenv("OG_BAD_INT", "seven")
	t.Setenv("OG_BOOL", "true")
	t.Setenv("OG_DUR", "250ms")
	t.Setenv("OG_BAD_DUR", "-1s")

	if got := EnvOr("OG_MISSING", "x"); got != "x" {
		t.Errorf("EnvOr = %q", got)
	}
	if got := EnvOrInt("OG_INT", 1); got != 7 {
		t.Errorf("EnvOrInt = %d", got)
	}
	if got := EnvOrInt("OG_BAD_INT", 1); got != 1 {
		t.Errorf("EnvOrInt bad = %d", got)
	}
	if !EnvOrBool("OG_BOOL", false) {
		t.Error("EnvOrBool = false")
	}
	if got := EnvOrDuration("OG_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("EnvOrDuration = %s", got)
	}
	if got := EnvOrDuration("OG_BAD_DUR", time.Second); got != time.Second {
		t.Errorf("EnvOrDuration bad = %s", got)
	}
}

func TestLoadGatewayDefaults(t *testing.T) {
	for _, k := range []string{"GATEWAY_ADDR", "DEFAULT_DEADLINE", "MAX_DEADLINE", "MCP_PRICING_COMMAND", "OTEL_SERVICE_NAME", "OTEL_METRICS_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg := LoadGateway()
	if cfg.Addr != ":8080" || cfg.DefaultDeadline != 30*time.Second || cfg.MaxDeadline != 2*time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Pricing.Command != "uvx" || len(cfg.Pricing.Args) != 1 || cfg.Pricing.Args[0] != "awslabs.aws-pricing-mcp-server@latest" {
		t.Errorf("pricing command = %+v", cfg.Pricing)
	}
	if cfg.ServiceName != "opsgate" || !cfg.MetricsEnabled {
		t.Errorf("otel defaults: service %q metrics %v", cfg.ServiceName, cfg.MetricsEnabled)
	}
}

func TestStdioServerOverrides(t *testing.T) {
	t.Setenv("MCP_TERRAFORM_COMMAND", "off")
	t.Setenv("MCP_CDK_COMMAND", "OFF")
	t.Setenv("MCP_COST_EXPLORER_COMMAND", "  /usr/local/bin/ce-server --stdio  ")
	cfg := LoadGateway()
	if cfg.Terraform.Enabled() {
		t.Error("terraform should be disabled")
	}
	if cfg.CDK.Enabled() {
		t.Error("off should be case-insensitive")
	}
	if cfg.CostExplorer.Command != "/usr/local/bin/ce-server" || cfg.CostExplorer.Args[0] != "--stdio" {
		t.Errorf("cost explorer = %+v", cfg.CostExplorer)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OG_FROM_DOTENV=yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd) //nolint:errcheck
	t.Setenv("OPSGATE_ENV", "")
	t.Setenv("OG_FROM_DOTENV", "")
	os.Unsetenv("OG_FROM_DOTENV")

	LoadDotEnv()
	if got := os.Getenv("OG_FROM_DOTENV"); got != "yes" {
		t.Errorf("OG_FROM_DOTENV = %q", got)
	}
}
