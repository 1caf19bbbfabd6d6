package app

import (
	"github.com/yungbote/questline-backend/internal/http"
	httpH "github.com/yungbote/questline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/questline-backend/internal/http/middleware"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type Middleware struct {
	Auth      *httpMW.AuthMiddleware
	RateLimit *httpMW.RateLimiter
}

type Handlers struct {
	Health       *httpH.HealthHandler
	Subscription *httpH.SubscriptionHandler
	Quest        *httpH.QuestHandler
	Guild        *httpH.GuildHandler
	Gamification *httpH.GamificationHandler
}

func wireMiddleware(log *logger.Logger, cfg Config, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:      httpMW.NewAuthMiddleware(log, services.Auth, cfg.Auth.ServiceKey),
		RateLimit: httpMW.NewRateLimiter(cfg.Limits.RatePerMinute, cfg.Limits.RateBurst),
	}
}

func wireHandlers(log *logger.Logger, cfg Config, services Services) Handlers {
	log.Info("Wiring handlers...")
	h := Handlers{Health: httpH.NewHealthHandler(string(cfg.Kind))}
	if services.Subscription != nil {
		h.Subscription = httpH.NewSubscriptionHandler(log, services.Subscription)
	}
	if services.Quest != nil {
		h.Quest = httpH.NewQuestHandler(services.Quest)
	}
	if services.Guild != nil {
		h.Guild = httpH.NewGuildHandler(services.Guild)
	}
	if services.Gamification != nil {
		h.Gamification = httpH.NewGamificationHandler(services.Gamification)
	}
	return h
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *http.Server {
	return http.NewServer(log, http.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, http.RouterConfig{
		Service:             string(cfg.Kind),
		Log:                 log,
		CORSOrigins:         cfg.HTTP.CORSOrigins,
		AuthMiddleware:      middleware.Auth,
		RateLimiter:         middleware.RateLimit,
		SubscriptionHandler: handlers.Subscription,
		QuestHandler:        handlers.Quest,
		GuildHandler:        handlers.Guild,
		GamificationHandler: handlers.Gamification,
		HealthHandler:       handlers.Health,
	})
}
