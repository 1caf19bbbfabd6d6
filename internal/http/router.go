package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/questline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/questline-backend/internal/http/middleware"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// RouterConfig carries the handlers of one service. Nil handlers leave their
// routes unregistered, so each binary exposes only its own API.
type RouterConfig struct {
	Service     string
	Log         *logger.Logger
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware
	RateLimiter    *httpMW.RateLimiter

	SubscriptionHandler *httpH.SubscriptionHandler
	QuestHandler        *httpH.QuestHandler
	GuildHandler        *httpH.GuildHandler
	GamificationHandler *httpH.GamificationHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Service))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Service))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Stripe webhook (public, signature verified)
	if cfg.SubscriptionHandler != nil {
		api.POST("/webhooks/stripe", cfg.SubscriptionHandler.StripeWebhook)
	}

	// Internal (service key)
	if cfg.GamificationHandler != nil && cfg.AuthMiddleware != nil {
		internal := api.Group("/internal")
		internal.Use(cfg.AuthMiddleware.RequireServiceKey())
		internal.POST("/xp", cfg.GamificationHandler.AwardXP)
	}

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}
		if cfg.RateLimiter != nil {
			protected.Use(cfg.RateLimiter.Middleware())
		}

		// Subscriptions
		if h := cfg.SubscriptionHandler; h != nil {
			protected.GET("/subscriptions/plans", h.ListPlans)
			protected.GET("/subscriptions/me", h.GetMine)
			protected.POST("/subscriptions/checkout", h.Checkout)
			protected.POST("/subscriptions/portal", h.Portal)
			protected.POST("/subscriptions/cancel", h.Cancel)
			protected.POST("/subscriptions/resume", h.Resume)
		}

		// Quests
		if h := cfg.QuestHandler; h != nil {
			protected.POST("/quests", h.Create)
			protected.GET("/quests", h.List)
			protected.GET("/quests/:id", h.Get)
			protected.PATCH("/quests/:id", h.Update)
			protected.DELETE("/quests/:id", h.Delete)
			protected.POST("/quests/:id/start", h.Start)
			protected.POST("/quests/:id/progress", h.RecordProgress)
			protected.POST("/quests/:id/complete", h.Complete)
			protected.POST("/quests/:id/cancel", h.Cancel)
			protected.POST("/quests/:id/fail", h.Fail)
		}

		// Guilds
		if h := cfg.GuildHandler; h != nil {
			protected.POST("/guilds", h.Create)
			protected.GET("/guilds", h.ListListed)
			protected.GET("/guilds/mine", h.ListMine)
			protected.GET("/guilds/:id", h.Get)
			protected.PATCH("/guilds/:id", h.Update)
			protected.DELETE("/guilds/:id", h.Delete)
			protected.POST("/guilds/:id/join", h.Join)
			protected.POST("/guilds/:id/leave", h.Leave)
			protected.GET("/guilds/:id/members", h.ListMembers)
			protected.DELETE("/guilds/:id/members/:uid", h.RemoveMember)
			protected.PUT("/guilds/:id/members/:uid/role", h.SetMemberRole)
			protected.GET("/guilds/:id/requests", h.ListJoinRequests)
			protected.POST("/guilds/:id/requests/:uid/approve", h.ApproveJoinRequest)
			protected.POST("/guilds/:id/requests/:uid/reject", h.RejectJoinRequest)
			protected.POST("/guilds/:id/transfer", h.TransferOwnership)
			protected.POST("/guilds/:id/invite-code", h.RotateInviteCode)
		}

		// Gamification
		if h := cfg.GamificationHandler; h != nil {
			protected.GET("/gamification/me", h.GetMyProgress)
			protected.GET("/gamification/me/badges", h.ListMyBadges)
			protected.GET("/gamification/badges", h.Catalog)
			protected.GET("/gamification/leaderboard", h.Leaderboard)
			protected.GET("/gamification/users/:id", h.GetUserProgress)
		}
	}

	return r
}
