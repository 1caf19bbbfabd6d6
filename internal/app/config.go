package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/observability"
	"github.com/yungbote/questline-backend/internal/platform/envutil"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// Kind selects which service a process runs.
type Kind string

const (
	KindGamification Kind = "gamification"
	KindGuild        Kind = "guild"
	KindQuest        Kind = "quest"
	KindSubscription Kind = "subscription"
)

var defaultPorts = map[Kind]string{
	KindGamification: ":8081",
	KindGuild:        ":8082",
	KindQuest:        ":8083",
	KindSubscription: ":8084",
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	Audience   string
	ServiceKey string
}

type DynamoConfig struct {
	Table        string
	Region       string
	Endpoint     string
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	Prefix         string
	LeaderboardTTL time.Duration
}

type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	PriceTiers      map[string]types.Tier
	DefaultPaidTier types.Tier
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	TrialDays       int64
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

type LimitsConfig struct {
	ActiveQuests  map[types.Tier]int
	OwnedGuilds   map[types.Tier]int
	RatePerMinute int
	RateBurst     int
	BcryptCost    int
}

type CatalogConfig struct {
	Plans  string
	Badges string
}

type GamificationClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
}

type Config struct {
	Kind         Kind
	HTTP         HTTPConfig
	Auth         AuthConfig
	Dynamo       DynamoConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Limits       LimitsConfig
	Catalogs     CatalogConfig
	Gamification GamificationClientConfig
	Otel         observability.OtelConfig
}

func LoadConfig(log *logger.Logger, kind Kind) Config {
	cfg := Config{
		Kind: kind,
		HTTP: HTTPConfig{
			Addr:            envutil.String("HTTP_ADDR", defaultPorts[kind]),
			ReadTimeout:     envutil.Duration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    envutil.Duration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     envutil.Duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: envutil.Duration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSOrigins:     envutil.List("CORS_ORIGINS", nil),
		},
		Auth: AuthConfig{
			JWTSecret:  envutil.String("JWT_SECRET_KEY", ""),
			Issuer:     envutil.String("JWT_ISSUER", ""),
			Audience:   envutil.String("JWT_AUDIENCE", ""),
			ServiceKey: envutil.String("SERVICE_KEY", ""),
		},
		Dynamo: DynamoConfig{
			Table:        envutil.String("TABLE_NAME", "questline"),
			Region:       envutil.String("AWS_REGION", "us-east-1"),
			Endpoint:     envutil.String("DYNAMODB_ENDPOINT", ""),
			MaxAttempts:  envutil.Int("TRANSACTION_MAX_ATTEMPTS", 5),
			RetryInitial: envutil.Duration("TRANSACTION_RETRY_INITIAL", 50*time.Millisecond),
			RetryMax:     envutil.Duration("TRANSACTION_RETRY_MAX", time.Second),
		},
		Redis: RedisConfig{
			Addr:           envutil.String("REDIS_ADDR", ""),
			Password:       envutil.String("REDIS_PASSWORD", ""),
			DB:             envutil.Int("REDIS_DB", 0),
			Prefix:         envutil.String("REDIS_PREFIX", "questline"),
			LeaderboardTTL: envutil.Duration("LEADERBOARD_CACHE_TTL", 30*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:       envutil.String("STRIPE_SECRET_KEY", ""),
			WebhookSecret:   envutil.String("STRIPE_WEBHOOK_SECRET", ""),
			PriceTiers:      tierMap(envutil.Map("STRIPE_PRICE_TIERS")),
			DefaultPaidTier: types.Tier(envutil.String("STRIPE_DEFAULT_PAID_TIER", "premium")),
			SuccessURL:      envutil.String("STRIPE_SUCCESS_URL", "http://localhost:5173/billing/success"),
			CancelURL:       envutil.String("STRIPE_CANCEL_URL", "http://localhost:5173/billing"),
			PortalReturnURL: envutil.String("STRIPE_PORTAL_RETURN_URL", "http://localhost:5173/billing"),
			TrialDays:       envutil.Int64("STRIPE_TRIAL_DAYS", 0),
			BreakerFailures: uint32(envutil.Int("STRIPE_BREAKER_FAILURES", 5)),
			BreakerOpen:     envutil.Duration("STRIPE_BREAKER_OPEN", 30*time.Second),
		},
		Limits: LimitsConfig{
			ActiveQuests:  tierLimits(log, "LIMIT_ACTIVE_QUESTS", "free=3,premium=20,pro=0"),
			OwnedGuilds:   tierLimits(log, "LIMIT_OWNED_GUILDS", "free=1,premium=5,pro=20"),
			RatePerMinute: envutil.Int("RATE_LIMIT_PER_MINUTE", 120),
			RateBurst:     envutil.Int("RATE_LIMIT_BURST", 30),
			BcryptCost:    envutil.Int("BCRYPT_COST", 0),
		},
		Catalogs: CatalogConfig{
			Plans:  envutil.String("PLAN_CATALOG_PATH", ""),
			Badges: envutil.String("BADGE_CATALOG_PATH", ""),
		},
		Gamification: GamificationClientConfig{
			BaseURL:    envutil.String("GAMIFICATION_URL", "http://localhost:8081"),
			Timeout:    envutil.Duration("GAMIFICATION_TIMEOUT", 5*time.Second),
			MaxRetries: uint64(envutil.Int("GAMIFICATION_MAX_RETRIES", 3)),
		},
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "questline-"+string(kind)),
			Environment: envutil.String("APP_ENV", "development"),
			Version:     envutil.String("APP_VERSION", ""),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     envutil.Map("OTEL_EXPORTER_OTLP_HEADERS"),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}
	log.Info("config loaded",
		"kind", kind,
		"addr", cfg.HTTP.Addr,
		"table", cfg.Dynamo.Table,
		"dynamo_endpoint", cfg.Dynamo.Endpoint,
		"redis", cfg.Redis.Addr != "",
		"otel", cfg.Otel.Enabled,
	)
	return cfg
}

// Validate reports the settings the selected service cannot run without.
func (c Config) Validate() error {
	var missing []string
	if _, ok := defaultPorts[c.Kind]; !ok {
		return fmt.Errorf("unknown service kind %q", c.Kind)
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET_KEY")
	}
	if c.Dynamo.Table == "" {
		missing = append(missing, "TABLE_NAME")
	}
	switch c.Kind {
	case KindSubscription:
		if c.Stripe.SecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.Stripe.WebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	case KindGamification, KindQuest:
		if c.Auth.ServiceKey == "" {
			missing = append(missing, "SERVICE_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func tierMap(raw map[string]string) map[string]types.Tier {
	out := make(map[string]types.Tier, len(raw))
	for k, v := range raw {
		out[k] = types.Tier(v)
	}
	return out
}

// tierLimits parses "free=3,premium=20". A limit of 0 means unlimited.
func tierLimits(log *logger.Logger, name, def string) map[types.Tier]int {
	raw := envutil.Map(name)
	if len(raw) == 0 {
		raw = map[string]string{}
		for _, part := range strings.Split(def, ",") {
			kv := strings.SplitN(part, "=", 2)
			raw[kv[0]] = kv[1]
		}
	}
	out := make(map[types.Tier]int, len(raw))
	for tier, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Warn("ignoring invalid tier limit", "env", name, "tier", tier, "value", v)
			continue
		}
		out[types.Tier(tier)] = n
	}
	return out
}
