package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/billing"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/config"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/discord"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/guilds"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/httpserver"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/migrations"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/session"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/store"
	stripeclient "github.com/PortNumber53/buildforme-dashboard/backend/internal/stripe"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logDBTarget("primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "primary"),
	)

	sessions, closeSessions := newSessionStore(cfg)
	defer closeSessions()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token verifier")
	}

	discordClient, err := discord.NewClient(cfg.DiscordBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create discord client")
	}
	if !discordClient.BotEnabled() {
		log.Warn().Msg("DISCORD_BOT_TOKEN not set, guild enrichment runs without bot data")
	}

	enricher := guilds.NewService(discordClient, st,
		guilds.WithConcurrency(cfg.EnrichConcurrency),
		guilds.WithTokenSource(sessions),
		guilds.WithMetrics(guilds.NewMetrics(registry, httpserver.MetricsNamespace)),
	)

	deps := httpserver.Deps{
		DB:          db,
		Auth:        verifier,
		Guilds:      enricher,
		Invites:     st,
		Profiles:    st,
		Sessions:    sessions,
		Subscribers: st,
		Registry:    registry,
	}

	var customers billing.CustomerDirectory
	if cfg.BillingEnabled() {
		sc := stripeclient.NewClient(cfg.StripeSecretKey, stripeclient.WithDefaultPrice(cfg.StripeProPriceID))
		deps.Billing = sc
		customers = sc
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, checkout and portal are disabled")
	}

	if cfg.WebhookEnabled() {
		webhookVerifier, err := billing.NewVerifier(cfg.StripeWebhookSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create webhook verifier")
		}
		deps.Webhook = webhookVerifier
		deps.Reconciler = billing.NewReconciler(st, customers, billing.NewMetrics(registry, httpserver.MetricsNamespace))
	} else {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook endpoint answers 503")
	}

	srv := httpserver.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.ServerAddress).Msg("backend starting")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

// newSessionStore prefers Redis when REDIS_URL is set and reachable.
func newSessionStore(cfg config.Config) (*session.Store, func()) {
	if cfg.RedisURL == "" {
		return session.NewStore(nil), func() {}
	}

	backend, err := session.NewRedisBackendFromURL(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid REDIS_URL, using in-memory sessions")
		return session.NewStore(nil), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, using in-memory sessions")
		_ = backend.Close()
		return session.NewStore(nil), func() {}
	}

	log.Info().Msg("sessions stored in redis")
	return session.NewStore(backend), func() { _ = backend.Close() }
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	err := migrations.Up(db)
	if err == nil {
		return nil
	}
	if !errors.Is(err, migrations.ErrDirty) {
		return err
	}

	log.Warn().Str("db", name).Err(err).Msg("dirty database detected, attempting to fix")
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Error().Str("db", name).Err(fixErr).Msg("failed to fix dirty database")
		return err
	}
	return migrations.Up(db)
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info().Str("db", name).Err(err).Msg("database configured (dsn parse error)")
		return
	}
	log.Info().Str("db", name).Str("host", u.Hostname()).Str("database", strings.TrimPrefix(u.Path, "/")).Msg("database configured")
}
