package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

type mockInviteLogger struct {
	logs []models.InviteLog
	err  error
}

func (m *mockInviteLogger) LogInvite(_ context.Context, l models.InviteLog) (string, error) {
	m.logs = append(m.logs, l)
	return "invite-1", m.err
}

func TestBotInvite(t *testing.T) {
	logger := &mockInviteLogger{}
	h := BotInvite(InviteConfig{ClientID: "999", BotName: "BuildForMe"}, logger)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/discord/bot-invite", map[string]any{
		"server_id":            "42",
		"server_name":          "Answer",
		"disable_guild_select": true,
	}, testCaller()))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	want := "https://discord.com/oauth2/authorize?client_id=999&permissions=8&scope=bot%20applications.commands&guild_id=42&disable_guild_select=true"
	assert.Equal(t, want, body["invite_url"])
	assert.Equal(t, "discord://-/oauth2/authorize?client_id=999&permissions=8&scope=bot%20applications.commands&guild_id=42&disable_guild_select=true", body["app_url"])
	assert.Equal(t, "BuildForMe", body["bot_name"])
	assert.Equal(t, "999", body["bot_client_id"])
	assert.Equal(t, "42", body["server_id"])

	require.Len(t, logger.logs, 1)
	assert.Equal(t, models.InvitePending, logger.logs[0].Status)
	assert.Equal(t, "user-1", logger.logs[0].UserID)
	assert.Equal(t, want, logger.logs[0].InviteURL)
}

func TestBotInviteLogFailureIsNotFatal(t *testing.T) {
	h := BotInvite(InviteConfig{ClientID: "999", BotName: "BuildForMe"}, &mockInviteLogger{err: errors.New("db down")})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/discord/bot-invite", map[string]any{"server_id": "42"}, testCaller()))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBotInviteRequiresServerID(t *testing.T) {
	logger := &mockInviteLogger{}
	h := BotInvite(InviteConfig{ClientID: "999"}, logger)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/discord/bot-invite", map[string]any{"server_name": "x"}, testCaller()))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, logger.logs)
}
