package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/guilds"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

// GuildEnricher builds the enriched guild list for a caller.
type GuildEnricher interface {
	Enrich(ctx context.Context, caller *auth.Caller, providerToken string) (*models.GuildsResponse, error)
}

type guildsRequest struct {
	ProviderToken string `json:"provider_token"`
}

// Guilds returns the caller's administrable guilds enriched with bot,
// premium and activity data.
func Guilds(enricher GuildEnricher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var payload guildsRequest
		if err := decodeOptional(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		resp, err := enricher.Enrich(r.Context(), caller, payload.ProviderToken)
		if err != nil {
			if errors.Is(err, guilds.ErrNoCaller) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			hlog.FromRequest(r).Error().Err(err).Str("user_id", caller.ID).Msg("guild enrichment failed")
			writeJSON(w, http.StatusInternalServerError, models.GuildsResponse{
				Guilds: []models.GuildView{},
				Error:  "failed to load servers",
			})
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
