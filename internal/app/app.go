package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/http"
	"github.com/yungbote/questline-backend/internal/observability"
	"github.com/yungbote/questline-backend/internal/platform/envutil"
	"github.com/yungbote/questline-backend/internal/platform/logger"
	"github.com/yungbote/questline-backend/internal/validation"
)

type App struct {
	Log        *logger.Logger
	Cfg        Config
	Server     *http.Server
	Clients    Clients
	Repos      Repos
	Services   Services
	Middleware Middleware

	otelShutdown func(context.Context) error
}

// New builds one service process.
func New(ctx context.Context, kind Kind) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With("service_kind", string(kind))

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log, kind)
	if err := cfg.Validate(); err != nil {
		log.Sync()
		return nil, err
	}
	if envutil.String("LOG_MODE", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := validation.Register(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("register validators: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(clients.DB, log)
	serviceset, err := wireServices(log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	middleware := wireMiddleware(log, cfg, serviceset)
	handlerset := wireHandlers(log, cfg, serviceset)
	server := wireServer(log, cfg, handlerset, middleware)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Server:       server,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Middleware:   middleware,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	stop := make(chan struct{})
	defer close(stop)
	go a.Middleware.RateLimit.Run(stop)
	return a.Server.Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
