package discord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInviteURL(t *testing.T) {
	tests := []struct {
		name string
		opts InviteOptions
		want string
	}{
		{
			name: "defaults",
			want: "https://discord.com/oauth2/authorize?client_id=42&permissions=8&scope=bot%20applications.commands",
		},
		{
			name: "guild preselected",
			opts: InviteOptions{GuildID: "777"},
			want: "https://discord.com/oauth2/authorize?client_id=42&permissions=8&scope=bot%20applications.commands&guild_id=777",
		},
		{
			name: "guild locked",
			opts: InviteOptions{GuildID: "777", DisableGuildSelect: true},
			want: "https://discord.com/oauth2/authorize?client_id=42&permissions=8&scope=bot%20applications.commands&guild_id=777&disable_guild_select=true",
		},
		{
			name: "custom scopes",
			opts: InviteOptions{Permissions: "2048", Scopes: []string{"bot"}},
			want: "https://discord.com/oauth2/authorize?client_id=42&permissions=2048&scope=bot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildInviteURL("42", tt.opts))
		})
	}
}

func TestAppDeeplink(t *testing.T) {
	assert.Equal(t,
		"discord://-/oauth2/authorize?client_id=42&permissions=8",
		AppDeeplink("https://discord.com/oauth2/authorize?client_id=42&permissions=8"),
	)
	assert.Equal(t, "discord://-/channels/1/2", AppDeeplink("https://discord.com/channels/1/2"))
	assert.Equal(t, "not a url", AppDeeplink("not a url"))
}
