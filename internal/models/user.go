package models

import "time"

// Profile mirrors the Discord identity of a signed-in user.
type Profile struct {
	ID               string    `json:"id"`
	DiscordID        *string   `json:"discord_id,omitempty"`
	Username         string    `json:"username"`
	AvatarURL        *string   `json:"avatar_url,omitempty"`
	Email            *string   `json:"email,omitempty"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
