package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// JWTSecret verifies the HS256 access tokens issued by the auth provider.
	JWTSecret string

	// JWTAudience is the expected "aud" claim. Defaults to "authenticated".
	JWTAudience string

	// DiscordClientID is the bot application id used in invite URLs.
	DiscordClientID string

	// DiscordBotToken enables bot-scoped guild inspection. Optional: when empty
	// guild enrichment runs in degraded mode.
	DiscordBotToken string

	// BotName is echoed by the invite endpoint.
	BotName string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeProPriceID    string

	// RedisURL selects the Redis session backend when set.
	RedisURL string

	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string

	// EnrichConcurrency bounds the per-guild bot lookups in flight.
	EnrichConcurrency int
}

const (
	defaultServerAddress     = ":18111"
	defaultJWTAudience       = "authenticated"
	defaultBotName           = "BuildForMe"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultEnrichConcurrency = 8

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envJWTSecret           = "SUPABASE_JWT_SECRET"
	envJWTAudience         = "SUPABASE_JWT_AUDIENCE"
	envDiscordClientID     = "DISCORD_CLIENT_ID"
	envDiscordBotToken     = "DISCORD_BOT_TOKEN"
	envBotName             = "BOT_NAME"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envStripeProPriceID    = "STRIPE_PRO_PRICE_ID"
	envRedisURL            = "REDIS_URL"
	envCORSAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
	envEnrichConcurrency   = "ENRICH_CONCURRENCY"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		JWTSecret:           os.Getenv(envJWTSecret),
		JWTAudience:         firstNonEmpty(os.Getenv(envJWTAudience), defaultJWTAudience),
		DiscordClientID:     strings.TrimSpace(os.Getenv(envDiscordClientID)),
		DiscordBotToken:     strings.TrimSpace(os.Getenv(envDiscordBotToken)),
		BotName:             firstNonEmpty(os.Getenv(envBotName), defaultBotName),
		StripeSecretKey:     strings.TrimSpace(os.Getenv(envStripeSecretKey)),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv(envStripeWebhookSecret)),
		StripeProPriceID:    strings.TrimSpace(os.Getenv(envStripeProPriceID)),
		RedisURL:            strings.TrimSpace(os.Getenv(envRedisURL)),
		CORSAllowedOrigins:  splitList(firstNonEmpty(os.Getenv(envCORSAllowedOrigins), "*")),
		LogLevel:            firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:           firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
		EnrichConcurrency:   defaultEnrichConcurrency,
	}

	if raw := strings.TrimSpace(os.Getenv(envEnrichConcurrency)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envEnrichConcurrency, raw)
		}
		cfg.EnrichConcurrency = n
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envJWTSecret)
	}
	if cfg.DiscordClientID == "" {
		return Config{}, fmt.Errorf("%s is required", envDiscordClientID)
	}

	return cfg, nil
}

// LoadDatabaseURL returns only the database DSN. Tools that touch the schema
// should not need the full service configuration.
func LoadDatabaseURL() (string, error) {
	dsn := strings.TrimSpace(os.Getenv(envDatabaseURL))
	if dsn == "" {
		return "", fmt.Errorf("%s is required", envDatabaseURL)
	}
	return dsn, nil
}

// BotEnrichmentEnabled reports whether a bot credential is configured.
func (c Config) BotEnrichmentEnabled() bool {
	return c.DiscordBotToken != ""
}

// BillingEnabled reports whether Stripe API calls can be made.
func (c Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// WebhookEnabled reports whether Stripe webhook signatures can be verified.
func (c Config) WebhookEnabled() bool {
	return c.StripeWebhookSecret != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
