// Package biogrow is the public API for embedding the BioGrow analysis server.
//
// Internal UbyAgro tooling imports this package to construct and run the
// server without forking it:
//
//	app, err := biogrow.New(
//	    biogrow.WithVersion(version),
//	    biogrow.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: biogrow (root) imports
// internal/*, but internal/* never imports biogrow (root).
package biogrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ubyagro/biogrow/api"
	"github.com/ubyagro/biogrow/internal/agent"
	"github.com/ubyagro/biogrow/internal/aggregate"
	"github.com/ubyagro/biogrow/internal/auth"
	"github.com/ubyagro/biogrow/internal/chat"
	"github.com/ubyagro/biogrow/internal/config"
	"github.com/ubyagro/biogrow/internal/extract"
	"github.com/ubyagro/biogrow/internal/generation"
	"github.com/ubyagro/biogrow/internal/mcp"
	"github.com/ubyagro/biogrow/internal/model"
	"github.com/ubyagro/biogrow/internal/orchestrator"
	"github.com/ubyagro/biogrow/internal/ratelimit"
	"github.com/ubyagro/biogrow/internal/server"
	"github.com/ubyagro/biogrow/internal/storage"
	"github.com/ubyagro/biogrow/internal/telemetry"
	"github.com/ubyagro/biogrow/internal/tool"
	"github.com/ubyagro/biogrow/migrations"
)

// App is the BioGrow server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	orch         *orchestrator.Orchestrator
	broker       *server.Broker // nil when no notify connection
	authLimiter  ratelimit.Limiter
	apiLimiter   ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the BioGrow server. It connects to the database, runs
// migrations, wires the specialists and all subsystems, and returns a
// ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("biogrow starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Run migrations.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Bootstrap the admin user when credentials are configured.
	if cfg.AdminPassword != "" {
		hash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("admin bootstrap: %w", err)
		}
		if err := db.EnsureAdmin(context.Background(), cfg.AdminEmail, "Administrador", hash); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("admin bootstrap: %w", err)
		}
		logger.Info("admin user ensured", "email", cfg.AdminEmail)
	}

	// Generation provider.
	provider := o.provider
	if provider == nil {
		if cfg.OpenRouterAPIKey == "" {
			logger.Warn("OPENROUTER_API_KEY not set, specialist calls will fail until configured")
		}
		provider = generation.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.PrimaryModel, cfg.FallbackModels, logger)
	}

	// Browser extraction for the regulatory portal tool.
	prefs := extract.DefaultPreferences()
	prefs.Timeout = cfg.ExtractTimeout
	prefs.SettleDelay = cfg.ExtractSettleDelay
	extractor := extract.New(provider, prefs, cfg.ChromeBin, logger)

	// Tool registry shared by all specialists.
	tools := tool.NewRegistry(logger)
	if err := tool.RegisterPortalTools(tools, extractor); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("tools: %w", err)
	}

	// The four specialists.
	specialists := agent.NewAll(provider, tools, logger)

	// Orchestrator.
	analysts := make(map[model.AgentID]orchestrator.Analyst, len(specialists))
	chatters := make(map[model.AgentID]chat.Chatter, len(specialists))
	for id, sp := range specialists {
		analysts[id] = sp
		chatters[id] = sp
	}
	orch := orchestrator.New(db, analysts, orchestrator.Options{
		AgentTimeout:   cfg.AgentTimeout,
		ProjectTimeout: cfg.ProjectTimeout,
		Thresholds: aggregate.Thresholds{
			ViableMin: cfg.ViableMin,
			AdjustMin: cfg.AdjustMin,
		},
	}, logger)

	// Chat service.
	chatSvc := chat.New(db, chatters, cfg.ChatTimeout, logger)

	// MCP server.
	mcpSrv := mcp.New(db, logger)

	// SSE broker.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiters.
	var authLimiter, apiLimiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		authLimiter = ratelimit.NewMemoryLimiter(cfg.AuthRateRPS, cfg.AuthRateBurst)
		apiLimiter = ratelimit.NewMemoryLimiter(cfg.APIRateRPS, cfg.APIRateBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"auth_rps", cfg.AuthRateRPS, "api_rps", cfg.APIRateRPS)
	} else {
		authLimiter = ratelimit.NoopLimiter{}
		apiLimiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Orchestrator:        orch,
		ChatSvc:             chatSvc,
		Logger:              logger,
		AuthLimiter:         authLimiter,
		APILimiter:          apiLimiter,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		orch:         orch,
		broker:       broker,
		authLimiter:  authLimiter,
		apiLimiter:   apiLimiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the SSE broker and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	brokerCtx, brokerCancel := context.WithCancel(ctx)
	defer brokerCancel()
	if a.broker != nil {
		go a.broker.Start(brokerCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	brokerCancel()
	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) wait for running analyses to land their results,
// (3) close the database pool and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("biogrow shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Analyses in flight finish their aggregation before the pool closes.
	a.orch.Close()

	_ = a.authLimiter.Close()
	_ = a.apiLimiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("biogrow stopped")
	return nil
}
