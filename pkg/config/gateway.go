package config

import (
	"os"
	"strings"
	"time"
)

// StdioServer is the command line of a process-based tool server.
type StdioServer struct {
	Command string
	Args    []string
}

// Enabled reports whether a command is configured.
func (s StdioServer) Enabled() bool { return s.Command != "" }

// Gateway is the gateway's startup configuration.
type Gateway struct {
	Addr         string
	MetricsAddr  string
	RegistryPath string

	DefaultDeadline  time.Duration
	MaxDeadline      time.Duration
	HandshakeTimeout time.Duration

	APIKeys           string
	RateLimitPerAgent int

	Pricing      StdioServer
	CostExplorer StdioServer
	Terraform    StdioServer
	CDK          StdioServer

	SecurityURL      string
	SecurityRate     int
	InternalToken    string
	GitHubToken      string
	GitHubAPIURL     string
	GitHubRatePerSec int

	AWSRegion  string
	AWSProfile string

	OTLPEndpoint   string
	ServiceName    string
	MetricsEnabled bool
}

// LoadGateway reads the gateway configuration from the environment.
func LoadGateway() Gateway {
	return Gateway{
		Addr:              EnvOr("GATEWAY_ADDR", ":8080"),
		MetricsAddr:       EnvOr("METRICS_ADDR", "127.0.0.1:9090"),
		RegistryPath:      os.Getenv("TOOL_REGISTRY_PATH"),
		DefaultDeadline:   EnvOrDuration("DEFAULT_DEADLINE", 30*time.Second),
		MaxDeadline:       EnvOrDuration("MAX_DEADLINE", 2*time.Minute),
		HandshakeTimeout:  EnvOrDuration("MCP_HANDSHAKE_TIMEOUT", 20*time.Second),
		APIKeys:           os.Getenv("API_KEYS"),
		RateLimitPerAgent: EnvOrInt("RATE_LIMIT_PER_AGENT", 50),
		Pricing:           stdioServer("MCP_PRICING_COMMAND", "uvx awslabs.aws-pricing-mcp-server@latest"),
		CostExplorer:      stdioServer("MCP_COST_EXPLORER_COMMAND", "uvx awslabs.cost-explorer-mcp-server@latest"),
		Terraform:         stdioServer("MCP_TERRAFORM_COMMAND", "uvx awslabs.terraform-mcp-server@latest"),
		CDK:               stdioServer("MCP_CDK_COMMAND", "uvx awslabs.cdk-mcp-server@latest"),
		SecurityURL:       EnvOr("CONNECTOR_SECURITY_URL", "http://localhost:8090"),
		SecurityRate:      EnvOrInt("CONNECTOR_SECURITY_RPS", 10),
		InternalToken:     os.Getenv("INTERNAL_AUTH_TOKEN"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
		GitHubAPIURL:      EnvOr("GITHUB_API_URL", "https://api.github.com"),
		GitHubRatePerSec:  EnvOrInt("GITHUB_RPS", 5),
		AWSRegion:         EnvOr("AWS_REGION", "us-east-1"),
		AWSProfile:        EnvOr("AWS_PROFILE", "default"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:       EnvOr("OTEL_SERVICE_NAME", "opsgate"),
		MetricsEnabled:    EnvOrBool("OTEL_METRICS_ENABLED", true),
	}
}

// AWSEnv returns the variables passed to process-based AWS tool servers.
func (g Gateway) AWSEnv() []string {
	return []string{
		"AWS_REGION=" + g.AWSRegion,
		"AWS_PROFILE=" + g.AWSProfile,
		"FASTMCP_LOG_LEVEL=ERROR",
	}
}

// stdioServer splits a command line on whitespace. Setting the variable to
// "off" disables the server.
func stdioServer(key, fallback string) StdioServer {
	v := strings.TrimSpace(EnvOr(key, fallback))
	if strings.EqualFold(v, "off") {
		return StdioServer{}
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return StdioServer{}
	}
	return StdioServer{Command: fields[0], Args: fields[1:]}
}
