package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ubyagro/biogrow/internal/auth"
	"github.com/ubyagro/biogrow/internal/chat"
	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/orchestrator"
	"github.com/ubyagro/biogrow/internal/ratelimit"
	"github.com/ubyagro/biogrow/internal/storage"
)

// Server is the BioGrow HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): AuthLimiter, APILimiter, Broker,
// MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Orchestrator *orchestrator.Orchestrator
	ChatSvc      *chat.Service
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	AuthLimiter ratelimit.Limiter
	APILimiter  ratelimit.Limiter
	Broker      *Broker
	MCPServer   *mcpserver.MCPServer

	// OpenAPISpec is served at GET /openapi.yaml when non-empty.
	OpenAPISpec []byte

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Orchestrator:        cfg.Orchestrator,
		ChatSvc:             cfg.ChatSvc,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})

	authRL := rateLimitMiddleware(cfg.AuthLimiter, cfg.Logger, ipKeyFunc)
	apiRL := rateLimitMiddleware(cfg.APILimiter, cfg.Logger, userKeyFunc)

	viewer := requireRole(model.RoleViewer)
	colaborador := requireRole(model.RoleColaborador)

	mux := http.NewServeMux()

	// Auth (no token required, rate limited by IP).
	mux.Handle("POST /auth/login", authRL(http.HandlerFunc(h.HandleLogin)))

	// Agent directory (any authenticated user).
	mux.Handle("GET /v1/agents", viewer(http.HandlerFunc(h.HandleListAgents)))

	// Projects. Creation and re-analysis need colaborador, reads need
	// viewer plus ownership.
	mux.Handle("POST /v1/projects", apiRL(colaborador(http.HandlerFunc(h.HandleCreateProject))))
	mux.Handle("GET /v1/projects", apiRL(viewer(http.HandlerFunc(h.HandleListProjects))))
	mux.Handle("GET /v1/projects/{project_id}", apiRL(viewer(http.HandlerFunc(h.HandleGetProject))))
	mux.Handle("GET /v1/projects/{project_id}/status", apiRL(viewer(http.HandlerFunc(h.HandleProjectStatus))))
	mux.Handle("GET /v1/projects/{project_id}/analysis", apiRL(viewer(http.HandlerFunc(h.HandleProjectAnalysis))))
	mux.Handle("POST /v1/projects/{project_id}/reanalyze", apiRL(colaborador(http.HandlerFunc(h.HandleReanalyze))))

	// Per-agent chat (colaborador+, owner-scoped in the handler).
	mux.Handle("POST /v1/projects/{project_id}/chat/{agent_id}", apiRL(colaborador(http.HandlerFunc(h.HandleChatSend))))
	mux.Handle("GET /v1/projects/{project_id}/chat/{agent_id}", apiRL(viewer(http.HandlerFunc(h.HandleChatHistory))))

	// Knowledge base (any authenticated user).
	mux.Handle("GET /v1/knowledge-base", apiRL(viewer(http.HandlerFunc(h.HandleListKnowledge))))

	// Event stream (no rate limit; long-lived connection).
	mux.Handle("GET /v1/subscribe", viewer(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", viewer(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Machine-readable API description (no auth).
	if len(cfg.OpenAPISpec) > 0 {
		spec := cfg.OpenAPISpec
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		})
	}

	// Middleware chain (outermost executes first):
	// request ID, security headers, tracing, logging, auth, recovery.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
