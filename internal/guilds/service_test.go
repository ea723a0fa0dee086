package guilds

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/apierr"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/discord"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

type fakeDiscord struct {
	bot        bool
	guilds     []discord.UserGuild
	guildsErr  error
	details    map[string]*discord.GuildDetail
	detailErrs map[string]error
	delay      time.Duration

	mu        sync.Mutex
	gotToken  string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *fakeDiscord) UserGuilds(_ context.Context, token string) ([]discord.UserGuild, error) {
	f.mu.Lock()
	f.gotToken = token
	f.mu.Unlock()
	return f.guilds, f.guildsErr
}

func (f *fakeDiscord) GuildDetail(_ context.Context, id string) (*discord.GuildDetail, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxFlight.Load()
		if n <= peak || f.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.detailErrs[id]; ok {
		return nil, err
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return nil, apierr.FromStatus("discord: guild detail", http.StatusNotFound, nil)
}

func (f *fakeDiscord) BotEnabled() bool { return f.bot }

type fakeStore struct {
	mu          sync.Mutex
	premium     map[string]string
	premiumErr  error
	upserted    []models.GuildRecord
	upsertErr   error
	stats       map[string]*models.ActivityStats
	statsErr    error
	statsCalled []string
}

func (f *fakeStore) PremiumStatuses(_ context.Context, _ string, _ []string) (map[string]string, error) {
	return f.premium, f.premiumErr
}

func (f *fakeStore) UpsertGuild(_ context.Context, g models.GuildRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, g)
	return f.upsertErr
}

func (f *fakeStore) GuildActivityStats(_ context.Context, id string) (*models.ActivityStats, error) {
	f.mu.Lock()
	f.statsCalled = append(f.statsCalled, id)
	f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats[id], nil
}

type fakeTokens map[string]string

func (f fakeTokens) ProviderToken(_ context.Context, userID string) (string, bool) {
	tok, ok := f[userID]
	return tok, ok
}

func caller(metaToken string) *auth.Caller {
	meta := map[string]any{}
	if metaToken != "" {
		meta["provider_token"] = metaToken
	}
	return &auth.Caller{ID: "user-1", Email: "u@example.com", Metadata: meta}
}

func adminGuilds() []discord.UserGuild {
	return []discord.UserGuild{
		{ID: "g-admin", Name: "Admin", Icon: "abc", Permissions: 0x8, ApproximateMemberCount: 10},
		{ID: "g-owner", Name: "Owned", Owner: true, Permissions: 0, ApproximateMemberCount: 20},
		{ID: "g-member", Name: "Member", Permissions: 0x20 | 0x400},
	}
}

func TestEnrichRequiresCaller(t *testing.T) {
	svc := NewService(&fakeDiscord{}, &fakeStore{})
	_, err := svc.Enrich(context.Background(), nil, "tok")
	assert.ErrorIs(t, err, ErrNoCaller)
}

func TestEnrichWithoutProviderToken(t *testing.T) {
	d := &fakeDiscord{}
	svc := NewService(d, &fakeStore{})

	resp, err := svc.Enrich(context.Background(), caller(""), "")
	require.NoError(t, err)
	assert.Empty(t, resp.Guilds)
	assert.NotNil(t, resp.Guilds)
	require.NotNil(t, resp.Warnings)
	assert.True(t, resp.Warnings.MissingProviderToken)
	assert.Empty(t, d.gotToken)
}

func TestEnrichTokenPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		stored fakeTokens
		meta   string
		want   string
	}{
		{"body wins", "body", fakeTokens{"user-1": "stored"}, "meta", "body"},
		{"session store next", "", fakeTokens{"user-1": "stored"}, "meta", "stored"},
		{"metadata last", "", fakeTokens{}, "meta", "meta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDiscord{}
			svc := NewService(d, &fakeStore{}, WithTokenSource(tt.stored))
			_, err := svc.Enrich(context.Background(), caller(tt.meta), tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.gotToken)
		})
	}
}

func TestEnrichExpiredToken(t *testing.T) {
	d := &fakeDiscord{guildsErr: apierr.FromStatus("discord: user guilds", http.StatusUnauthorized, nil)}
	store := &fakeStore{}
	svc := NewService(d, store)

	resp, err := svc.Enrich(context.Background(), caller(""), "stale")
	require.NoError(t, err)
	assert.Equal(t, ExpiredTokenMessage, resp.Error)
	assert.Empty(t, resp.Guilds)
	assert.Empty(t, store.upserted)
}

func TestEnrichUpstreamFailure(t *testing.T) {
	d := &fakeDiscord{guildsErr: apierr.FromStatus("discord: user guilds", http.StatusBadGateway, nil)}
	svc := NewService(d, &fakeStore{})

	_, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.Error(t, err)
	assert.True(t, apierr.IsTransient(err))
}

func TestEnrichDegradedModeWithoutBot(t *testing.T) {
	d := &fakeDiscord{bot: false, guilds: adminGuilds()}
	store := &fakeStore{premium: map[string]string{"g-owner": "active"}}
	svc := NewService(d, store)

	resp, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)

	require.Len(t, resp.Guilds, 2)
	require.NotNil(t, resp.Warnings)
	assert.True(t, resp.Warnings.MissingBotToken)
	assert.True(t, resp.Warnings.MemberCountLimited)

	for _, g := range resp.Guilds {
		assert.False(t, g.BotInstalled)
		assert.Equal(t, models.BotStatusNotInstalled, g.BotStatus)
		assert.Nil(t, g.Analytics)
		assert.True(t, g.MemberCountWarning)
	}
	assert.Equal(t, models.SubscriptionNone, resp.Guilds[0].SubscriptionStatus)
	assert.Equal(t, models.SubscriptionActive, resp.Guilds[1].SubscriptionStatus)
	assert.Equal(t, 10, resp.Guilds[0].MemberCount)
	require.NotNil(t, resp.Guilds[0].IconURL)
	assert.Equal(t, "https://cdn.discordapp.com/icons/g-admin/abc.png?size=128", *resp.Guilds[0].IconURL)
	assert.Nil(t, resp.Guilds[1].IconURL)

	require.Len(t, store.upserted, 2)
	assert.Nil(t, store.upserted[0].OwnerID)
	require.NotNil(t, store.upserted[1].OwnerID)
	assert.Equal(t, "user-1", *store.upserted[1].OwnerID)
	assert.Equal(t, "8", store.upserted[0].Permissions)
	assert.Empty(t, store.statsCalled)
}

func TestEnrichIsolatesPerGuildFailures(t *testing.T) {
	last := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	d := &fakeDiscord{
		bot:    true,
		guilds: adminGuilds(),
		details: map[string]*discord.GuildDetail{
			"g-admin": {ID: "g-admin", MemberCount: 150, TotalChannels: 5, TextChannels: 3, VoiceChannels: 1, TotalRoles: 4},
		},
		detailErrs: map[string]error{
			"g-owner": apierr.FromStatus("discord: guild detail", http.StatusServiceUnavailable, nil),
		},
	}
	store := &fakeStore{stats: map[string]*models.ActivityStats{"g-admin": {CommandsToday: 7, LastActivity: &last}}}
	svc := NewService(d, store)

	resp, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)
	require.Len(t, resp.Guilds, 2)
	assert.False(t, resp.Warnings.MissingBotToken)

	installed := resp.Guilds[0]
	assert.True(t, installed.BotInstalled)
	assert.Equal(t, models.BotStatusOnline, installed.BotStatus)
	assert.Equal(t, 150, installed.MemberCount)
	assert.False(t, installed.MemberCountWarning)
	require.NotNil(t, installed.Analytics)
	assert.Equal(t, 5, installed.Analytics.TotalChannels)
	assert.Equal(t, 3, installed.Analytics.TextChannels)
	assert.Equal(t, 1, installed.Analytics.VoiceChannels)
	assert.Equal(t, 4, installed.Analytics.TotalRoles)
	assert.Equal(t, 7, installed.Analytics.CommandsUsedToday)
	assert.Equal(t, &last, installed.Analytics.LastActivity)

	failed := resp.Guilds[1]
	assert.False(t, failed.BotInstalled)
	assert.Equal(t, models.BotStatusNotInstalled, failed.BotStatus)
	assert.Nil(t, failed.Analytics)
	assert.Equal(t, 20, failed.MemberCount)

	assert.Equal(t, []string{"g-admin"}, store.statsCalled)
	assert.Equal(t, 150, store.upserted[0].MemberCount)
}

func TestEnrichUnavailableGuildIsOffline(t *testing.T) {
	d := &fakeDiscord{
		bot:     true,
		guilds:  adminGuilds()[:1],
		details: map[string]*discord.GuildDetail{"g-admin": {ID: "g-admin", Unavailable: true}},
	}
	svc := NewService(d, &fakeStore{})

	resp, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)
	require.Len(t, resp.Guilds, 1)
	assert.True(t, resp.Guilds[0].BotInstalled)
	assert.Equal(t, models.BotStatusOffline, resp.Guilds[0].BotStatus)
}

func TestEnrichSwallowsStoreFailures(t *testing.T) {
	d := &fakeDiscord{
		bot:     true,
		guilds:  adminGuilds(),
		details: map[string]*discord.GuildDetail{"g-admin": {ID: "g-admin", TotalChannels: 1}},
	}
	boom := errors.New("db down")
	store := &fakeStore{premiumErr: boom, upsertErr: boom, statsErr: boom}
	svc := NewService(d, store)

	resp, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)
	require.Len(t, resp.Guilds, 2)
	for _, g := range resp.Guilds {
		assert.Equal(t, models.SubscriptionNone, g.SubscriptionStatus)
	}
	require.NotNil(t, resp.Guilds[0].Analytics)
	assert.Equal(t, 0, resp.Guilds[0].Analytics.CommandsUsedToday)
}

func TestEnrichBoundsConcurrency(t *testing.T) {
	guilds := make([]discord.UserGuild, 12)
	for i := range guilds {
		guilds[i] = discord.UserGuild{ID: string(rune('a' + i)), Name: "g", Permissions: 0x8}
	}
	d := &fakeDiscord{bot: true, guilds: guilds, delay: 10 * time.Millisecond}
	svc := NewService(d, &fakeStore{}, WithConcurrency(3))

	resp, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)
	assert.Len(t, resp.Guilds, 12)
	assert.LessOrEqual(t, d.maxFlight.Load(), int32(3))
}

func TestEnrichRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	d := &fakeDiscord{guildsErr: apierr.FromStatus("discord: user guilds", http.StatusUnauthorized, nil)}
	svc := NewService(d, &fakeStore{}, WithMetrics(m))

	_, err := svc.Enrich(context.Background(), caller(""), "tok")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("token_expired")))
}
