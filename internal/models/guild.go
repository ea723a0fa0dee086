package models

import "time"

// BotStatus describes the bot's presence in a guild.
type BotStatus string

const (
	BotStatusOnline       BotStatus = "online"
	BotStatusOffline      BotStatus = "offline"
	BotStatusNotInstalled BotStatus = "not_installed"
)

// SubscriptionStatus is the premium state of a guild for the calling user.
type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionNone   SubscriptionStatus = "none"
)

// GuildAnalytics is only present when the bot is installed.
type GuildAnalytics struct {
	TotalChannels     int        `json:"total_channels"`
	TextChannels      int        `json:"text_channels"`
	VoiceChannels     int        `json:"voice_channels"`
	TotalRoles        int        `json:"total_roles"`
	CommandsUsedToday int        `json:"commands_used_today"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
}

// GuildView is the dashboard's synthesized view of one guild the caller administers.
type GuildView struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Icon               string             `json:"icon,omitempty"`
	IconURL            *string            `json:"icon_url"`
	Owner              bool               `json:"owner"`
	Permissions        int64              `json:"permissions,string"`
	Features           []string           `json:"features"`
	MemberCount        int                `json:"member_count"`
	MemberCountWarning bool               `json:"member_count_warning,omitempty"`
	BotInstalled       bool               `json:"bot_installed"`
	BotStatus          BotStatus          `json:"bot_status"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	Analytics          *GuildAnalytics    `json:"analytics,omitempty"`
}

// Normalize enforces the view invariants: a guild without the bot never
// reports a bot status or analytics, and empty enums get their defaults.
func (g *GuildView) Normalize() {
	if !g.BotInstalled {
		g.BotStatus = BotStatusNotInstalled
		g.Analytics = nil
	} else if g.BotStatus == "" || g.BotStatus == BotStatusNotInstalled {
		g.BotStatus = BotStatusOnline
	}
	if g.SubscriptionStatus == "" {
		g.SubscriptionStatus = SubscriptionNone
	}
	if g.Features == nil {
		g.Features = []string{}
	}
}

// Warnings tells the dashboard which data is degraded.
type Warnings struct {
	MissingBotToken      bool `json:"missing_bot_token"`
	MemberCountLimited   bool `json:"member_count_limited"`
	MissingProviderToken bool `json:"missing_provider_token,omitempty"`
}

// GuildsResponse is the body returned by the guild enrichment endpoint.
type GuildsResponse struct {
	Guilds   []GuildView `json:"guilds"`
	Warnings *Warnings   `json:"warnings,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// GuildRecord is the persisted copy of a guild, keyed by (ID, UserID).
type GuildRecord struct {
	ID          string
	UserID      string
	Name        string
	Icon        *string
	OwnerID     *string
	Permissions string
	Features    []string
	MemberCount int
	UpdatedAt   time.Time
}

// PremiumServer is a premium subscription attached to a single guild.
type PremiumServer struct {
	ID                   string     `json:"id"`
	GuildID              string     `json:"guild_id"`
	UserID               string     `json:"user_id"`
	Status               string     `json:"status"`
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
}

// ActivityStats summarises bot command activity for a guild.
type ActivityStats struct {
	CommandsToday int
	LastActivity  *time.Time
}

// InviteStatus tracks a bot invite attempt.
type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteCompleted InviteStatus = "completed"
	InviteFailed    InviteStatus = "failed"
)

// InviteLog is an append-only record of a bot invite attempt.
type InviteLog struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	GuildID   string       `json:"guild_id"`
	GuildName string       `json:"guild_name"`
	InviteURL string       `json:"invite_url"`
	Status    InviteStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}
