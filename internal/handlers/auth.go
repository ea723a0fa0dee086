package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/session"
)

// ProfileStore persists the caller's Discord identity.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.Profile) error
}

// SessionManager is the subset of session.Store the auth handlers drive.
type SessionManager interface {
	SignIn(ctx context.Context, s session.Session) error
	Refresh(ctx context.Context, s session.Session) error
	SignOut(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (session.Session, error)
}

type sessionRequest struct {
	ProviderToken        string `json:"provider_token"`
	ProviderRefreshToken string `json:"provider_refresh_token"`
}

// CreateSession mirrors the caller's profile and records their provider
// tokens. A second call for a live session counts as a token refresh.
func CreateSession(profiles ProfileStore, sessions SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var payload sessionRequest
		if err := decodeOptional(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		logger := hlog.FromRequest(r)
		if profiles != nil {
			if err := profiles.UpsertProfile(r.Context(), profileFromCaller(caller)); err != nil {
				logger.Error().Err(err).Str("user_id", caller.ID).Msg("failed to persist profile")
				writeError(w, http.StatusInternalServerError, "failed to persist profile")
				return
			}
		}

		providerToken := strings.TrimSpace(payload.ProviderToken)
		if providerToken == "" {
			providerToken = caller.ProviderToken()
		}
		sess := session.Session{
			UserID:               caller.ID,
			Email:                caller.Email,
			AccessToken:          caller.Token,
			ProviderToken:        providerToken,
			ProviderRefreshToken: payload.ProviderRefreshToken,
		}

		event := session.SignedIn
		_, err := sessions.Get(r.Context(), caller.ID)
		if err == nil {
			event = session.TokenRefreshed
			err = sessions.Refresh(r.Context(), sess)
		} else {
			err = sessions.SignIn(r.Context(), sess)
		}
		if err != nil {
			logger.Error().Err(err).Str("user_id", caller.ID).Msg("failed to store session")
			writeError(w, http.StatusInternalServerError, "failed to store session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":                 true,
			"event":              event,
			"has_provider_token": providerToken != "",
		})
	}
}

// DeleteSession signs the caller out.
func DeleteSession(sessions SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := sessions.SignOut(r.Context(), caller.ID); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("user_id", caller.ID).Msg("failed to sign out")
			writeError(w, http.StatusInternalServerError, "failed to sign out")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func profileFromCaller(c *auth.Caller) models.Profile {
	p := models.Profile{
		ID:       c.ID,
		Username: c.Username(),
	}
	if id := c.DiscordID(); id != "" {
		p.DiscordID = &id
	}
	if avatar := c.AvatarURL(); avatar != "" {
		p.AvatarURL = &avatar
	}
	if c.Email != "" {
		email := c.Email
		p.Email = &email
	}
	return p
}
