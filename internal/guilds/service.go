// Package guilds builds the dashboard's view of the guilds a user administers
// by combining the user's Discord guild list, what the bot can see in each
// guild, premium subscriptions and recorded bot activity.
package guilds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/apierr"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/discord"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

// ExpiredTokenMessage is reported to the dashboard when Discord rejects the
// user's OAuth token.
const ExpiredTokenMessage = "Discord token expired"

const defaultConcurrency = 8

// ErrNoCaller is returned when Enrich is called without an authenticated user.
var ErrNoCaller = errors.New("guilds: caller identity required")

// DiscordAPI is the subset of the Discord client the service uses.
type DiscordAPI interface {
	UserGuilds(ctx context.Context, userToken string) ([]discord.UserGuild, error)
	GuildDetail(ctx context.Context, guildID string) (*discord.GuildDetail, error)
	BotEnabled() bool
}

// Store persists guild snapshots and answers premium/activity lookups.
type Store interface {
	PremiumStatuses(ctx context.Context, userID string, guildIDs []string) (map[string]string, error)
	UpsertGuild(ctx context.Context, g models.GuildRecord) error
	GuildActivityStats(ctx context.Context, guildID string) (*models.ActivityStats, error)
}

// TokenSource returns a Discord OAuth token mirrored at sign-in.
type TokenSource interface {
	ProviderToken(ctx context.Context, userID string) (string, bool)
}

// Service implements guild enrichment.
type Service struct {
	discord     DiscordAPI
	store       Store
	tokens      TokenSource
	metrics     *Metrics
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithConcurrency bounds the bot lookups in flight.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTokenSource sets the fallback source for Discord OAuth tokens.
func WithTokenSource(ts TokenSource) Option {
	return func(s *Service) { s.tokens = ts }
}

// WithMetrics records enrichment outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a Service.
func NewService(d DiscordAPI, store Store, opts ...Option) *Service {
	s := &Service{
		discord:     d,
		store:       store,
		concurrency: defaultConcurrency,
		now:         time.Now,
		logger:      logging.Component("guilds"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// detailResult is the outcome of one bot lookup. Exactly one of detail and
// err is set.
type detailResult struct {
	detail *discord.GuildDetail
	err    error
}

// Enrich returns the admin guilds of caller. providerToken is the token sent
// in the request body and takes precedence over stored tokens.
//
// A rejected Discord token is not an error: the response carries an empty
// list and ExpiredTokenMessage. Any other failure of the user guild listing is.
func (s *Service) Enrich(ctx context.Context, caller *auth.Caller, providerToken string) (*models.GuildsResponse, error) {
	if caller == nil || caller.ID == "" {
		return nil, ErrNoCaller
	}
	log := s.logger.With().Str("user_id", caller.ID).Logger()
	botEnabled := s.discord.BotEnabled()
	warnings := &models.Warnings{
		MissingBotToken:    !botEnabled,
		MemberCountLimited: !botEnabled,
	}

	token := s.resolveToken(ctx, caller, providerToken)
	if token == "" {
		log.Info().Msg("guilds: no discord provider token")
		warnings.MissingProviderToken = true
		s.metrics.observe("no_token")
		return &models.GuildsResponse{Guilds: []models.GuildView{}, Warnings: warnings}, nil
	}

	userGuilds, err := s.discord.UserGuilds(ctx, token)
	if err != nil {
		if apierr.IsAuthExpired(err) {
			log.Info().Msg("guilds: discord token expired")
			s.metrics.observe("token_expired")
			return &models.GuildsResponse{Guilds: []models.GuildView{}, Error: ExpiredTokenMessage}, nil
		}
		s.metrics.observe("error")
		return nil, fmt.Errorf("guilds: list user guilds: %w", err)
	}

	admin := make([]discord.UserGuild, 0, len(userGuilds))
	for _, g := range userGuilds {
		if discord.IsAdmin(g.Permissions, g.Owner) {
			admin = append(admin, g)
		}
	}
	log.Debug().Int("total", len(userGuilds)).Int("admin", len(admin)).Msg("guilds: filtered")

	views := make([]models.GuildView, len(admin))
	for i, g := range admin {
		views[i] = baseView(g, botEnabled)
	}

	if botEnabled {
		results := s.lookupDetails(ctx, admin)
		for i := range views {
			s.applyDetail(&views[i], results[i], log)
		}
	}

	s.applySubscriptions(ctx, caller.ID, views, log)
	s.syncGuilds(ctx, caller.ID, admin, views, log)
	s.applyActivity(ctx, views, log)

	for i := range views {
		views[i].Normalize()
	}
	s.metrics.observe("ok")
	return &models.GuildsResponse{Guilds: views, Warnings: warnings}, nil
}

// resolveToken picks the Discord token: request body, then the session
// store, then the access-token metadata.
func (s *Service) resolveToken(ctx context.Context, caller *auth.Caller, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if s.tokens != nil {
		if tok, ok := s.tokens.ProviderToken(ctx, caller.ID); ok {
			return tok
		}
	}
	return caller.ProviderToken()
}

func baseView(g discord.UserGuild, botEnabled bool) models.GuildView {
	features := g.Features
	if features == nil {
		features = []string{}
	}
	return models.GuildView{
		ID:                 g.ID,
		Name:               g.Name,
		Icon:               g.Icon,
		IconURL:            discord.IconURL(g.ID, g.Icon),
		Owner:              g.Owner,
		Permissions:        g.Permissions,
		Features:           features,
		MemberCount:        g.ApproximateMemberCount,
		MemberCountWarning: !botEnabled,
		BotInstalled:       false,
		BotStatus:          models.BotStatusNotInstalled,
		SubscriptionStatus: models.SubscriptionNone,
	}
}

// lookupDetails fans out one bot lookup per guild. Results are indexed like
// guilds; a failed lookup never affects the others.
func (s *Service) lookupDetails(ctx context.Context, guilds []discord.UserGuild) []detailResult {
	results := make([]detailResult, len(guilds))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, guild := range guilds {
		g.Go(func() error {
			d, err := s.discord.GuildDetail(ctx, guild.ID)
			if err == nil && d == nil {
				err = errors.New("guilds: empty guild detail")
			}
			results[i] = detailResult{detail: d, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) applyDetail(v *models.GuildView, r detailResult, log zerolog.Logger) {
	if r.err != nil {
		ev := log.Debug()
		if apierr.IsTransient(r.err) {
			ev = log.Warn()
		}
		ev.Err(r.err).Str("guild_id", v.ID).Str("kind", apierr.KindOf(r.err).String()).Msg("guilds: bot lookup failed")
		s.metrics.lookup("failed")
		return
	}
	s.metrics.lookup("ok")

	d := r.detail
	v.BotInstalled = true
	v.BotStatus = models.BotStatusOnline
	if d.Unavailable {
		v.BotStatus = models.BotStatusOffline
	}
	if d.MemberCount > 0 {
		v.MemberCount = d.MemberCount
	}
	v.Analytics = &models.GuildAnalytics{
		TotalChannels: d.TotalChannels,
		TextChannels:  d.TextChannels,
		VoiceChannels: d.VoiceChannels,
		TotalRoles:    d.TotalRoles,
	}
}

func (s *Service) applySubscriptions(ctx context.Context, userID string, views []models.GuildView, log zerolog.Logger) {
	if len(views) == 0 {
		return
	}
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	statuses, err := s.store.PremiumStatuses(ctx, userID, ids)
	if err != nil {
		log.Warn().Err(err).Msg("guilds: premium lookup failed")
		return
	}
	for i := range views {
		if statuses[views[i].ID] == "active" {
			views[i].SubscriptionStatus = models.SubscriptionActive
		}
	}
}

func (s *Service) syncGuilds(ctx context.Context, userID string, admin []discord.UserGuild, views []models.GuildView, log zerolog.Logger) {
	now := s.now().UTC()
	for i, g := range admin {
		rec := models.GuildRecord{
			ID:          g.ID,
			UserID:      userID,
			Name:        g.Name,
			Permissions: strconv.FormatInt(g.Permissions, 10),
			Features:    g.Features,
			MemberCount: views[i].MemberCount,
			UpdatedAt:   now,
		}
		if g.Icon != "" {
			icon := g.Icon
			rec.Icon = &icon
		}
		if g.Owner {
			owner := userID
			rec.OwnerID = &owner
		}
		if err := s.store.UpsertGuild(ctx, rec); err != nil {
			log.Warn().Err(err).Str("guild_id", g.ID).Msg("guilds: sync failed")
		}
	}
}

func (s *Service) applyActivity(ctx context.Context, views []models.GuildView, log zerolog.Logger) {
	for i := range views {
		if views[i].Analytics == nil {
			continue
		}
		stats, err := s.store.GuildActivityStats(ctx, views[i].ID)
		if err != nil {
			log.Warn().Err(err).Str("guild_id", views[i].ID).Msg("guilds: activity stats failed")
			continue
		}
		if stats == nil {
			continue
		}
		views[i].Analytics.CommandsUsedToday = stats.CommandsToday
		views[i].Analytics.LastActivity = stats.LastActivity
	}
}
