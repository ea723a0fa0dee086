package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

const unknownGuildName = "Unknown Server"

// UpsertGuild stores the latest known shape of a guild for a user.
func (s *Store) UpsertGuild(ctx context.Context, g models.GuildRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if g.ID == "" || g.UserID == "" {
		return errors.New("store: guild id and user id are required")
	}
	updatedAt := g.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}
	features := g.Features
	if features == nil {
		features = []string{}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO guilds (id, user_id, name, icon, owner_id, permissions, features, member_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id, user_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     icon = EXCLUDED.icon,
		     owner_id = EXCLUDED.owner_id,
		     permissions = EXCLUDED.permissions,
		     features = EXCLUDED.features,
		     member_count = EXCLUDED.member_count,
		     updated_at = EXCLUDED.updated_at`,
		g.ID,
		g.UserID,
		g.Name,
		g.Icon,
		g.OwnerID,
		g.Permissions,
		pq.Array(features),
		g.MemberCount,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert guild %s: %w", g.ID, err)
	}
	return nil
}

// PremiumStatuses returns the premium_servers status per guild id for a user.
// Guilds without a row are absent from the map. When a guild has several rows
// an "active" one wins.
func (s *Store) PremiumStatuses(ctx context.Context, userID string, guildIDs []string) (map[string]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(guildIDs))
	if len(guildIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT guild_id, status
		 FROM premium_servers
		 WHERE user_id = $1 AND guild_id = ANY($2)`,
		userID,
		pq.Array(guildIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query premium_servers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var guildID, status string
		if err := rows.Scan(&guildID, &status); err != nil {
			return nil, fmt.Errorf("store: scan premium_servers: %w", err)
		}
		if existing, ok := out[guildID]; ok && existing == "active" {
			continue
		}
		out[guildID] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate premium_servers: %w", err)
	}
	return out, nil
}

// GuildActivityStats summarises today's bot commands and the latest activity.
func (s *Store) GuildActivityStats(ctx context.Context, guildID string) (*models.ActivityStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		count int
		last  sql.NullTime
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FILTER (WHERE created_at >= date_trunc('day', now())), MAX(created_at)
		 FROM activity_logs
		 WHERE guild_id = $1`,
		guildID,
	).Scan(&count, &last)
	if err != nil {
		return nil, fmt.Errorf("store: guild activity stats: %w", err)
	}
	return &models.ActivityStats{CommandsToday: count, LastActivity: nullTimePtr(last)}, nil
}

// LogInvite appends an invite attempt and returns its id.
func (s *Store) LogInvite(ctx context.Context, l models.InviteLog) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if l.UserID == "" || l.GuildID == "" {
		return "", errors.New("store: invite log requires user id and guild id")
	}
	id := l.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := l.GuildName
	if name == "" {
		name = unknownGuildName
	}
	status := l.Status
	if status == "" {
		status = models.InvitePending
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO invite_logs (id, user_id, guild_id, guild_name, invite_url, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id,
		l.UserID,
		l.GuildID,
		name,
		l.InviteURL,
		string(status),
	)
	if err != nil {
		return "", fmt.Errorf("store: insert invite log: %w", err)
	}
	return id, nil
}
