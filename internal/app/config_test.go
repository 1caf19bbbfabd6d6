package app

import (
	"strings"
	"testing"
	"time"

	"github.com/yungbote/questline-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s")
	t.Setenv("LIMIT_ACTIVE_QUESTS", "free=2,premium=bogus")
	t.Setenv("STRIPE_PRICE_TIERS", "price_pro_monthly=pro")
	t.Setenv("LEADERBOARD_CACHE_TTL", "45s")

	cfg := LoadConfig(logger.Nop(), KindQuest)
	if cfg.HTTP.Addr != ":8083" {
		t.Fatalf("unexpected addr %q", cfg.HTTP.Addr)
	}
	if cfg.Limits.ActiveQuests["free"] != 2 {
		t.Fatalf("unexpected quest limits %v", cfg.Limits.ActiveQuests)
	}
	if _, ok := cfg.Limits.ActiveQuests["premium"]; ok {
		t.Fatalf("invalid limit should be dropped")
	}
	if cfg.Limits.OwnedGuilds["free"] != 1 {
		t.Fatalf("default guild limits not applied: %v", cfg.Limits.OwnedGuilds)
	}
	if cfg.Stripe.PriceTiers["price_pro_monthly"] != "pro" {
		t.Fatalf("price tiers not parsed: %v", cfg.Stripe.PriceTiers)
	}
	if cfg.Redis.LeaderboardTTL != 45*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.Redis.LeaderboardTTL)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s")
	cfg := LoadConfig(logger.Nop(), KindSubscription)
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "STRIPE_SECRET_KEY") || !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET") {
		t.Fatalf("expected missing stripe settings, got %v", err)
	}

	cfg = LoadConfig(logger.Nop(), KindGuild)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("guild config should be valid: %v", err)
	}

	cfg.Kind = "billing"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
