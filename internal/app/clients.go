package app

import (
	"context"
	"fmt"

	gameclient "github.com/yungbote/questline-backend/internal/clients/gamification"
	"github.com/yungbote/questline-backend/internal/clients/redis"
	stripeclient "github.com/yungbote/questline-backend/internal/clients/stripe"
	"github.com/yungbote/questline-backend/internal/platform/dynamo"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

type Clients struct {
	DB           *dynamo.DB
	Cache        redis.Cache
	Billing      stripeclient.Billing
	Gamification gameclient.Client
}

// wireClients builds only what cfg.Kind needs. Redis is optional: the
// leaderboard reads straight from DynamoDB without it.
func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	ddb, err := dynamo.NewClient(ctx, log, dynamo.Config{
		Table:    cfg.Dynamo.Table,
		Region:   cfg.Dynamo.Region,
		Endpoint: cfg.Dynamo.Endpoint,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init dynamodb: %w", err)
	}
	out := Clients{DB: dynamo.NewDB(ddb, cfg.Dynamo.Table)}

	switch cfg.Kind {
	case KindGamification:
		if cfg.Redis.Addr != "" {
			cache, err := redis.NewCache(log, redis.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			})
			if err != nil {
				log.Warn("redis unavailable, leaderboard cache disabled", "error", err)
			} else {
				out.Cache = cache
			}
		}
	case KindSubscription:
		billing, err := stripeclient.NewBilling(log, stripeclient.Config{
			SecretKey:        cfg.Stripe.SecretKey,
			WebhookSecret:    cfg.Stripe.WebhookSecret,
			FailureThreshold: cfg.Stripe.BreakerFailures,
			OpenTimeout:      cfg.Stripe.BreakerOpen,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init stripe: %w", err)
		}
		out.Billing = billing
	case KindQuest:
		xp, err := gameclient.New(log, gameclient.Config{
			BaseURL:    cfg.Gamification.BaseURL,
			ServiceKey: cfg.Auth.ServiceKey,
			Timeout:    cfg.Gamification.Timeout,
			MaxRetries: cfg.Gamification.MaxRetries,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init gamification client: %w", err)
		}
		out.Gamification = xp
	}
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}
