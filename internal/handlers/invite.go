package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/discord"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

// InviteLogger records bot invite attempts.
type InviteLogger interface {
	LogInvite(ctx context.Context, l models.InviteLog) (string, error)
}

// InviteConfig identifies the bot application.
type InviteConfig struct {
	ClientID string
	BotName  string
}

type inviteRequest struct {
	ServerID           string `json:"server_id"`
	ServerName         string `json:"server_name"`
	DisableGuildSelect bool   `json:"disable_guild_select"`
}

type inviteResponse struct {
	InviteURL   string `json:"invite_url"`
	AppURL      string `json:"app_url"`
	BotName     string `json:"bot_name"`
	BotClientID string `json:"bot_client_id"`
	ServerID    string `json:"server_id"`
	ServerName  string `json:"server_name,omitempty"`
}

// BotInvite builds the authorize URL that adds the bot to a guild and logs
// the attempt. A failed log write does not fail the request.
func BotInvite(cfg InviteConfig, invites InviteLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var payload inviteRequest
		if err := decodeOptional(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		serverID := strings.TrimSpace(payload.ServerID)
		if serverID == "" {
			writeError(w, http.StatusBadRequest, "server_id is required")
			return
		}

		inviteURL := discord.BuildInviteURL(cfg.ClientID, discord.InviteOptions{
			GuildID:            serverID,
			DisableGuildSelect: payload.DisableGuildSelect,
		})

		logger := hlog.FromRequest(r)
		if invites != nil {
			id, err := invites.LogInvite(r.Context(), models.InviteLog{
				UserID:    caller.ID,
				GuildID:   serverID,
				GuildName: payload.ServerName,
				InviteURL: inviteURL,
				Status:    models.InvitePending,
			})
			if err != nil {
				logger.Warn().Err(err).Str("guild_id", serverID).Msg("failed to log invite attempt")
			} else {
				logger.Debug().Str("invite_id", id).Str("guild_id", serverID).Msg("invite attempt logged")
			}
		}

		writeJSON(w, http.StatusOK, inviteResponse{
			InviteURL:   inviteURL,
			AppURL:      discord.AppDeeplink(inviteURL),
			BotName:     cfg.BotName,
			BotClientID: cfg.ClientID,
			ServerID:    serverID,
			ServerName:  payload.ServerName,
		})
	}
}
