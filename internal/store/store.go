package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

var errNilDB = errors.New("store: db cannot be nil")

// Store provides database-backed accessors for application data.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	return nil
}

// UpsertProfile creates or refreshes the profile row for a signed-in user.
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("store: profile id is required")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO profiles (id, discord_id, username, avatar_url, email)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET discord_id = EXCLUDED.discord_id,
		     username = EXCLUDED.username,
		     avatar_url = EXCLUDED.avatar_url,
		     email = EXCLUDED.email,
		     updated_at = now()`,
		p.ID,
		p.DiscordID,
		p.Username,
		p.AvatarURL,
		p.Email,
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile with the given id, or nil when absent.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		p          models.Profile
		discordID  sql.NullString
		avatarURL  sql.NullString
		email      sql.NullString
		customerID sql.NullString
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, discord_id, username, avatar_url, email, stripe_customer_id, created_at, updated_at
		 FROM profiles
		 WHERE id = $1`,
		id,
	).Scan(&p.ID, &discordID, &p.Username, &avatarURL, &email, &customerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get profile: %w", err)
	}

	p.DiscordID = nullStringPtr(discordID)
	p.AvatarURL = nullStringPtr(avatarURL)
	p.Email = nullStringPtr(email)
	p.StripeCustomerID = nullStringPtr(customerID)
	return &p, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
