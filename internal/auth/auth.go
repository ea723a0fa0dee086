// Package auth verifies the HS256 access tokens issued by the hosted auth
// provider and exposes the caller identity to handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerKey contextKey = "caller"

// ErrUnauthorized is returned when a request carries no valid identity.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims are the access-token claims the dashboard relies on.
type Claims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Caller is the authenticated user behind a request.
type Caller struct {
	ID       string
	Email    string
	Metadata map[string]any
	Token    string
}

// Verifier checks access tokens.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier builds a Verifier for the given HS256 secret and audience.
func NewVerifier(secret, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), audience: audience}, nil
}

// Verify parses and validates tokenString.
func (v *Verifier) Verify(tokenString string) (*Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}

	return &Caller{
		ID:       claims.Subject,
		Email:    claims.Email,
		Metadata: claims.UserMetadata,
		Token:    tokenString,
	}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// Caller in the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if header == "" || token == header || token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			caller, err := v.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored by Middleware.
func CallerFrom(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey).(*Caller)
	return c, ok && c != nil
}

func (c *Caller) meta(keys ...string) string {
	if c == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := c.Metadata[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ProviderToken is the Discord OAuth token carried in the token metadata, if any.
func (c *Caller) ProviderToken() string {
	return c.meta("provider_token")
}

// DiscordID is the caller's Discord user id.
func (c *Caller) DiscordID() string {
	return c.meta("provider_id", "sub", "id")
}

// Username picks the best display name available, falling back to the email
// local part and finally a fixed placeholder.
func (c *Caller) Username() string {
	if name := c.meta("global_name", "username", "full_name", "preferred_username", "name"); name != "" {
		return name
	}
	if c != nil && c.Email != "" {
		return strings.SplitN(c.Email, "@", 2)[0]
	}
	return "Discord User"
}

// AvatarURL is the caller's avatar, if the provider supplied one.
func (c *Caller) AvatarURL() string {
	return c.meta("avatar_url", "picture")
}
