// Gateway is the single entrypoint for agent tool invocations. It validates,
// applies the consent gate, routes to connectors and returns provenance-
// stamped envelopes.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bturcanu/OpsGate/pkg/auth"
	"github.com/bturcanu/OpsGate/pkg/config"
	"github.com/bturcanu/OpsGate/pkg/connectors"
	"github.com/bturcanu/OpsGate/pkg/connectors/github"
	"github.com/bturcanu/OpsGate/pkg/connectors/httpapi"
	"github.com/bturcanu/OpsGate/pkg/connectors/inproc"
	"github.com/bturcanu/OpsGate/pkg/connectors/mcpstdio"
	"github.com/bturcanu/OpsGate/pkg/gateway"
	ogOtel "github.com/bturcanu/OpsGate/pkg/otel"
	"github.com/bturcanu/OpsGate/pkg/registry"
	"github.com/bturcanu/OpsGate/pkg/types"
)

const (
	maxBodyBytes    = 1 << 20 // 1 MB
	maxRateLimiters = 10_000
)

// knownConnectors is every backend id the catalogue may bind to. A backend
// that is not configured still validates; its tools fall back at call time.
var knownConnectors = []string{
	"aws-pricing", "aws-cost-explorer", "terraform", "cdk",
	"security-hub", "aws-config", "inspector", "trusted-advisor",
	"github", "local",
}

var securitySidecars = []string{"security-hub", "aws-config", "inspector", "trusted-advisor"}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	config.LoadDotEnv()
	cfg := config.LoadGateway()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelShutdown, err := ogOtel.Setup(ctx, ogOtel.Config{
		ServiceName:    cfg.ServiceName,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		MetricsEnabled: cfg.MetricsEnabled,
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Connectors + registry ────────────────────────────────────────────
	set, err := buildConnectors(cfg, log)
	if err != nil {
		log.Error("connector setup failed", "error", err)
		os.Exit(1)
	}
	reg, err := loadRegistry(cfg.RegistryPath)
	if err != nil {
		log.Error("tool registry invalid", "error", err)
		os.Exit(1)
	}
	gw, err := gateway.New(gateway.Options{
		Registry:        reg,
		Connectors:      set,
		Logger:          log,
		DefaultDeadline: cfg.DefaultDeadline,
		MaxDeadline:     cfg.MaxDeadline,
	})
	if err != nil {
		log.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}
	log.Info("tool registry loaded", "tools", reg.Len(), "connectors", set.IDs())
	go warmUp(ctx, set, cfg.HandshakeTimeout, log)

	srv := newServer(gw, auth.NewKeyStore(cfg.APIKeys), cfg.RateLimitPerAgent, log)

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(cfg.MaxDeadline + 5*time.Second),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.MaxDeadline + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info("gateway starting", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
	if err := gw.Close(); err != nil {
		log.Error("connector shutdown error", "error", err)
	}
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.LoadDefault(knownConnectors)
	}
	return registry.LoadFile(path, knownConnectors)
}

// buildConnectors creates one connector per configured backend.
func buildConnectors(cfg config.Gateway, log *slog.Logger) (*connectors.Set, error) {
	set := connectors.NewSet()

	stdio := []struct {
		id     string
		server config.StdioServer
	}{
		{"aws-pricing", cfg.Pricing},
		{"aws-cost-explorer", cfg.CostExplorer},
		{"terraform", cfg.Terraform},
		{"cdk", cfg.CDK},
	}
	for _, s := range stdio {
		if !s.server.Enabled() {
			log.Warn("stdio server disabled, its tools will return fallback data", "connector", s.id)
			continue
		}
		c, err := mcpstdio.New(mcpstdio.Config{
			ID:               s.id,
			Command:          s.server.Command,
			Args:             s.server.Args,
			Env:              cfg.AWSEnv(),
			HandshakeTimeout: cfg.HandshakeTimeout,
			Logger:           log,
		})
		if err != nil {
			return nil, err
		}
		if err := set.Add(c); err != nil {
			return nil, err
		}
	}

	for _, id := range securitySidecars {
		c, err := httpapi.New(httpapi.Config{
			ID:            id,
			BaseURL:       cfg.SecurityURL,
			InternalToken: cfg.InternalToken,
			RatePerSec:    float64(cfg.SecurityRate),
			Burst:         cfg.SecurityRate,
		})
		if err != nil {
			return nil, err
		}
		if err := set.Add(c); err != nil {
			return nil, err
		}
	}

	gh := github.New(github.Config{
		BaseURL:    cfg.GitHubAPIURL,
		Token:      cfg.GitHubToken,
		RatePerSec: float64(cfg.GitHubRatePerSec),
	})
	if err := set.Add(gh); err != nil {
		return nil, err
	}

	local := inproc.New("local", map[string]inproc.HandlerFunc{
		"reserved_instance_savings": inproc.ReservedInstanceSavings,
	})
	if err := set.Add(local); err != nil {
		return nil, err
	}
	return set, nil
}

type healthChecker interface {
	CheckHealth(ctx context.Context) error
}

// warmUp checks every connector that supports it so health reflects reality
// before the first call. Failures only mark health; calls still retry.
func warmUp(ctx context.Context, set *connectors.Set, timeout time.Duration, log *slog.Logger) {
	var wg sync.WaitGroup
	for _, id := range set.IDs() {
		c, _ := set.Get(id)
		p, ok := c.(healthChecker)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id string, p healthChecker) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := p.CheckHealth(pctx); err != nil {
				log.Warn("connector warm-up failed", "connector", id, "error", err)
			}
		}(id, p)
	}
	wg.Wait()
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP surface
// ──────────────────────────────────────────────────────────────────────────────

type server struct {
	gw            *gateway.Gateway
	keys          *auth.KeyStore
	log           *slog.Logger
	rateLimiters  map[string]*rate.Limiter
	rlOrder       []string
	rlMu          sync.Mutex
	perAgentLimit int
}

func newServer(gw *gateway.Gateway, keys *auth.KeyStore, perAgentLimit int, log *slog.Logger) *server {
	return &server{
		gw:            gw,
		keys:          keys,
		log:           log,
		rateLimiters:  make(map[string]*rate.Limiter),
		perAgentLimit: perAgentLimit,
	}
}

func (s *server) routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(auth.APIKeyAuth(s.keys))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.gw.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Post("/v1/invoke", s.handleInvoke)
	r.Get("/v1/tools", s.handleTools)
	r.Get("/v1/connectors", s.handleConnectors)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		types.ErrNotFound("no route for " + req.Method + " " + req.URL.Path).WriteJSON(w)
	})
	return r
}

// handleInvoke is POST /v1/invoke. Every tool outcome, including denials and
// fallbacks, is a 200 with an envelope; non-200s are transport errors only.
func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agent := auth.AgentFromContext(ctx)
	if !s.allowRate(agent) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	env := s.gw.Invoke(ctx, req)
	s.writeJSON(ctx, w, env)
}

// handleTools is GET /v1/tools
func (s *server) handleTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, s.gw.Tools())
}

// handleConnectors is GET /v1/connectors
func (s *server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, s.gw.Connectors())
}

func (s *server) writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.ErrorContext(ctx, "response encode failed", "error", err)
		types.ErrInternal("response could not be encoded").WriteJSON(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (bounded map with eviction)
// ──────────────────────────────────────────────────────────────────────────────

func (s *server) allowRate(agentID string) bool {
	if s.perAgentLimit <= 0 {
		return true
	}
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	lim, ok := s.rateLimiters[agentID]
	if ok {
		// Move to end of LRU order.
		for i, k := range s.rlOrder {
			if k == agentID {
				s.rlOrder = append(s.rlOrder[:i], s.rlOrder[i+1:]...)
				break
			}
		}
		s.rlOrder = append(s.rlOrder, agentID)
		return lim.Allow()
	}

	if len(s.rateLimiters) >= maxRateLimiters {
		oldest := s.rlOrder[0]
		s.rlOrder = s.rlOrder[1:]
		delete(s.rateLimiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(s.perAgentLimit), s.perAgentLimit*2)
	s.rateLimiters[agentID] = lim
	s.rlOrder = append(s.rlOrder, agentID)
	return lim.Allow()
}
