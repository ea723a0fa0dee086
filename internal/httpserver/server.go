package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/config"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/handlers"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	requesttracking "github.com/PortNumber53/buildforme-dashboard/backend/internal/middleware"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/session"
)

// MetricsNamespace prefixes every collector the service registers.
const MetricsNamespace = "buildforme"

// Deps are the collaborators the routes are built from. Optional features are
// left nil when their configuration is absent.
type Deps struct {
	DB          handlers.Pinger
	Auth        *auth.Verifier
	Guilds      handlers.GuildEnricher
	Invites     handlers.InviteLogger
	Profiles    handlers.ProfileStore
	Sessions    *session.Store
	Subscribers handlers.SubscriberReader
	Billing     handlers.BillingProvider
	Webhook     handlers.WebhookVerifier
	Reconciler  handlers.EventApplier
	Registry    *prometheus.Registry
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer  *http.Server
	unsubscribe func()
	logger      zerolog.Logger
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	logger := logging.Component("http")

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(hlog.NewHandler(logger))
	router.Use(requestIDLogger)
	router.Use(requesttracking.NewRequestTracker(registry, MetricsNamespace, logger).Middleware())
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", handlers.Health(deps.DB))
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Post("/api/webhooks/stripe", handlers.StripeWebhook(deps.Webhook, deps.Reconciler))

	if deps.Auth != nil {
		router.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Auth))

			if deps.Guilds != nil {
				r.Post("/api/discord/guilds", handlers.Guilds(deps.Guilds))
			}
			r.Post("/api/discord/bot-invite", handlers.BotInvite(handlers.InviteConfig{
				ClientID: cfg.DiscordClientID,
				BotName:  cfg.BotName,
			}, deps.Invites))

			if deps.Sessions != nil {
				r.Post("/api/auth/session", handlers.CreateSession(deps.Profiles, deps.Sessions))
				r.Delete("/api/auth/session", handlers.DeleteSession(deps.Sessions))
			}

			if deps.Subscribers != nil {
				r.Get("/api/billing/subscription", handlers.Subscription(deps.Subscribers))
			}
			r.Post("/api/billing/checkout", handlers.Checkout(deps.Billing))
			r.Post("/api/billing/portal", handlers.Portal(deps.Subscribers, deps.Billing))
		})
	} else {
		logger.Warn().Msg("no token verifier configured, authenticated routes disabled")
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	if deps.Sessions != nil {
		s.unsubscribe = deps.Sessions.OnChange(func(_ context.Context, ev session.Event, sess session.Session) {
			logger.Info().Str("event", string(ev)).Str("user_id", sess.UserID).
				Bool("has_provider_token", sess.ProviderToken != "").Msg("session changed")
		})
	}

	return s
}

// requestIDLogger tags the request logger with chi's request id.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
