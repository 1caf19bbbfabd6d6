package app

import (
	"fmt"

	"github.com/yungbote/questline-backend/internal/catalog"
	"github.com/yungbote/questline-backend/internal/platform/logger"
	"github.com/yungbote/questline-backend/internal/services"
)

type Services struct {
	Auth         services.AuthService
	Subscription services.SubscriptionService
	Quest        services.QuestService
	Guild        services.GuildService
	Gamification services.GamificationService
}

func wireServices(log *logger.Logger, cfg Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	out := Services{
		Auth: services.NewAuthService(log, cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
	}

	switch cfg.Kind {
	case KindSubscription:
		plans, err := catalog.LoadPlans(cfg.Catalogs.Plans)
		if err != nil {
			return Services{}, fmt.Errorf("load plan catalog: %w", err)
		}
		priceTiers := catalog.PriceTiers(plans)
		for price, tier := range cfg.Stripe.PriceTiers {
			priceTiers[price] = tier
		}
		out.Subscription = services.NewSubscriptionService(log, repos.Subscription, repos.Profile, clients.Billing, services.SubscriptionConfig{
			Plans:           plans,
			PriceTiers:      priceTiers,
			DefaultPaidTier: cfg.Stripe.DefaultPaidTier,
			SuccessURL:      cfg.Stripe.SuccessURL,
			CancelURL:       cfg.Stripe.CancelURL,
			PortalReturnURL: cfg.Stripe.PortalReturnURL,
			TrialDays:       cfg.Stripe.TrialDays,
			MaxAttempts:     cfg.Dynamo.MaxAttempts,
			RetryInitial:    cfg.Dynamo.RetryInitial,
			RetryMax:        cfg.Dynamo.RetryMax,
		})

	case KindQuest:
		out.Quest = services.NewQuestService(log, repos.Quest, repos.Profile, clients.Gamification, services.QuestConfig{
			ActiveLimits: cfg.Limits.ActiveQuests,
		})

	case KindGuild:
		out.Guild = services.NewGuildService(log, repos.Guild, repos.Profile, services.GuildConfig{
			OwnedLimits: cfg.Limits.OwnedGuilds,
			BcryptCost:  cfg.Limits.BcryptCost,
		})

	case KindGamification:
		badges, err := catalog.LoadBadges(cfg.Catalogs.Badges)
		if err != nil {
			return Services{}, fmt.Errorf("load badge catalog: %w", err)
		}
		out.Gamification = services.NewGamificationService(log, repos.Gamification, clients.Cache, services.GamificationConfig{
			Badges:         badges,
			LeaderboardTTL: cfg.Redis.LeaderboardTTL,
			MaxAttempts:    cfg.Dynamo.MaxAttempts,
			RetryInitial:   cfg.Dynamo.RetryInitial,
			RetryMax:       cfg.Dynamo.RetryMax,
		})
	}
	return out, nil
}
