// Package httpapi implements the chi-based HTTP surface: the sidecar/
// gateway entrypoints listed in spec.md §6, wrapping a safeai.Engine.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/capability"
	"github.com/safeai-run/safeai/pkg/config"
	"github.com/safeai-run/safeai/pkg/ratelimit"
	"github.com/safeai-run/safeai/pkg/safeai"
)

// Mode selects sidecar (no inter-service auth) or gateway (bearer-auth
// plus source/destination agent binding on tool interception) operation.
type Mode string

const (
	ModeSidecar Mode = "sidecar"
	ModeGateway Mode = "gateway"
)

// Config configures Server construction.
type Config struct {
	Mode            Mode
	UpstreamBaseURL string // gateway-mode default for /v1/proxy/forward
	TokenManager    *TokenManager
	ConfigPath      string // policy/contract/identity/memory/alert document root for reload
	FilePatterns    config.FilePatterns
}

// Server wraps a safeai.Engine with the HTTP surface.
type Server struct {
	engine      *safeai.Engine
	cfg         Config
	router      chi.Router
	forwardRate *ratelimit.Limiter
}

// NewServer builds the chi router for engine under cfg.
func NewServer(engine *safeai.Engine, cfg Config) *Server {
	if cfg.Mode == "" {
		cfg.Mode = ModeSidecar
	}
	if len(cfg.FilePatterns.Policies) == 0 {
		cfg.FilePatterns = config.DefaultPatterns()
	}
	s := &Server{engine: engine, cfg: cfg, forwardRate: ratelimit.New(5, 10)}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/metrics", s.handleMetrics)

	api := chi.NewRouter()
	if s.cfg.Mode == ModeGateway && s.cfg.TokenManager != nil {
		api.Use(RequireBearerAuth(s.cfg.TokenManager))
	}

	api.Post("/scan/input", s.handleScanInput)
	api.Post("/scan/structured", s.handleScanStructured)
	api.Post("/scan/file", s.handleScanFile)
	api.Post("/guard/output", s.handleGuardOutput)
	api.Post("/intercept/tool", s.handleInterceptTool)
	api.Post("/intercept/agent-message", s.handleInterceptAgentMessage)
	api.Post("/memory/write", s.handleMemoryWrite)
	api.Post("/memory/read", s.handleMemoryRead)
	api.Post("/memory/resolve-handle", s.handleMemoryResolveHandle)
	api.Post("/memory/purge-expired", s.handleMemoryPurgeExpired)
	api.Post("/audit/query", s.handleAuditQuery)
	api.Post("/policies/reload", s.handlePoliciesReload)
	api.Get("/plugins", s.handlePlugins)
	api.Get("/policies/templates", s.handlePolicyTemplates)
	api.Get("/policies/templates/{name}", s.handlePolicyTemplate)
	api.Post("/proxy/forward", s.handleProxyForward)

	r.Mount("/v1", api)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func capabilityListAllParams() capability.ListActiveParams { return capability.ListActiveParams{} }

func pendingApprovalsParams() approval.ListParams {
	return approval.ListParams{Status: approval.StatusPending}
}
