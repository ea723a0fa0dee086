package discord

import (
	"net/url"
	"strings"
)

const (
	authorizeURL       = "https://discord.com/oauth2/authorize"
	webPrefix          = "https://discord.com/"
	appPrefix          = "discord://-/"
	defaultPermissions = "8"
)

var defaultScopes = []string{"bot", "applications.commands"}

// InviteOptions tunes the bot authorization URL.
type InviteOptions struct {
	Permissions        string
	Scopes             []string
	GuildID            string
	DisableGuildSelect bool
}

// BuildInviteURL returns the OAuth2 authorize URL that adds the bot to a guild.
// Parameters keep a fixed order: client_id, permissions, scope, guild_id,
// disable_guild_select.
func BuildInviteURL(clientID string, opts InviteOptions) string {
	perms := opts.Permissions
	if perms == "" {
		perms = defaultPermissions
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	escaped := make([]string, len(scopes))
	for i, s := range scopes {
		escaped[i] = url.QueryEscape(s)
	}

	var b strings.Builder
	b.WriteString(authorizeURL)
	b.WriteString("?client_id=")
	b.WriteString(url.QueryEscape(clientID))
	b.WriteString("&permissions=")
	b.WriteString(url.QueryEscape(perms))
	b.WriteString("&scope=")
	b.WriteString(strings.Join(escaped, "%20"))
	if opts.GuildID != "" {
		b.WriteString("&guild_id=")
		b.WriteString(url.QueryEscape(opts.GuildID))
	}
	if opts.DisableGuildSelect {
		b.WriteString("&disable_guild_select=true")
	}
	return b.String()
}

// AppDeeplink rewrites a web URL into the desktop-app scheme, keeping path and
// query: https://discord.com/oauth2/authorize?x=1 becomes
// discord://-/oauth2/authorize?x=1.
func AppDeeplink(webURL string) string {
	u, err := url.Parse(webURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.Replace(webURL, webPrefix, appPrefix, 1)
	}
	target := strings.TrimPrefix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return appPrefix + target
}
