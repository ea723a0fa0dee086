// Package discord wraps the Discord REST calls the dashboard needs: listing the
// guilds a user belongs to and inspecting a guild with the bot credential.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	userGuildsPageSize = 200
	defaultHTTPTimeout = 10 * time.Second

	// PermissionAdministrator is the ADMINISTRATOR bit of a Discord permission set.
	PermissionAdministrator int64 = 0x8
)

// ErrBotTokenMissing is returned by bot-scoped calls when no bot credential is configured.
var ErrBotTokenMissing = errors.New("discord: bot token not configured")

// UserGuild is a guild as seen from a user's OAuth token.
type UserGuild struct {
	ID                     string
	Name                   string
	Icon                   string
	Owner                  bool
	Permissions            int64
	Features               []string
	ApproximateMemberCount int
}

// GuildDetail is what the bot can see about a guild it belongs to.
type GuildDetail struct {
	ID            string
	Name          string
	MemberCount   int
	TotalChannels int
	TextChannels  int
	VoiceChannels int
	TotalRoles    int
	Unavailable   bool
}

// Client performs Discord REST calls. The bot session is nil when no bot token
// is configured.
type Client struct {
	httpClient *http.Client
	bot        *discordgo.Session
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every Discord call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a Client. An empty botToken is valid and disables GuildDetail.
func NewClient(botToken string, opts ...Option) (*Client, error) {
	c := &Client{httpClient: &http.Client{Timeout: defaultHTTPTimeout}}
	for _, opt := range opts {
		opt(c)
	}

	if botToken != "" {
		s, err := c.session("Bot " + botToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create bot session: %w", err)
		}
		c.bot = s
	}
	return c, nil
}

// BotEnabled reports whether bot-scoped calls are possible.
func (c *Client) BotEnabled() bool {
	return c != nil && c.bot != nil
}

func (c *Client) session(token string) (*discordgo.Session, error) {
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Client = c.httpClient
	s.MaxRestRetries = 1
	return s, nil
}

// UserGuilds lists every guild the user token can see, following pagination.
func (c *Client) UserGuilds(ctx context.Context, userToken string) ([]UserGuild, error) {
	const op = "discord: user guilds"
	if userToken == "" {
		return nil, fmt.Errorf("%s: empty user token", op)
	}

	s, err := c.session("Bearer " + userToken)
	if err != nil {
		return nil, fmt.Errorf("%s: create session: %w", op, err)
	}

	var (
		out   []UserGuild
		after string
	)
	for {
		page, err := s.UserGuilds(userGuildsPageSize, "", after, true, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(op, err)
		}
		for _, g := range page {
			out = append(out, fromUserGuild(g))
		}
		if len(page) < userGuildsPageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	return out, nil
}

// GuildDetail fetches counts and channels for a guild using the bot credential.
func (c *Client) GuildDetail(ctx context.Context, guildID string) (*GuildDetail, error) {
	const op = "discord: guild detail"
	if !c.BotEnabled() {
		return nil, ErrBotTokenMissing
	}

	g, err := c.bot.GuildWithCounts(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(op, err)
	}
	channels, err := c.bot.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(op, err)
	}

	detail := &GuildDetail{
		ID:            g.ID,
		Name:          g.Name,
		MemberCount:   g.ApproximateMemberCount,
		TotalChannels: len(channels),
		TotalRoles:    len(g.Roles),
		Unavailable:   g.Unavailable,
	}
	if detail.MemberCount == 0 {
		detail.MemberCount = g.MemberCount
	}
	for _, ch := range channels {
		switch ch.Type {
		case discordgo.ChannelTypeGuildText:
			detail.TextChannels++
		case discordgo.ChannelTypeGuildVoice:
			detail.VoiceChannels++
		}
	}
	return detail, nil
}

func fromUserGuild(g *discordgo.UserGuild) UserGuild {
	features := make([]string, 0, len(g.Features))
	for _, f := range g.Features {
		features = append(features, string(f))
	}
	return UserGuild{
		ID:                     g.ID,
		Name:                   g.Name,
		Icon:                   g.Icon,
		Owner:                  g.Owner,
		Permissions:            g.Permissions,
		Features:               features,
		ApproximateMemberCount: g.ApproximateMemberCount,
	}
}

// IsAdmin reports whether a user may manage the bot in a guild.
func IsAdmin(permissions int64, owner bool) bool {
	return owner || permissions&PermissionAdministrator == PermissionAdministrator
}

// IconURL returns the CDN URL of a guild icon, or nil when the guild has none.
func IconURL(guildID, icon string) *string {
	if icon == "" {
		return nil
	}
	u := fmt.Sprintf("https://cdn.discordapp.com/icons/%s/%s.png?size=128", guildID, icon)
	return &u
}
