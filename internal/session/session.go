// Package session holds the process-wide auth session store. Consumers
// register listeners with OnChange and are told when a session is created,
// refreshed or torn down; signing out removes the stored Discord tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by backends when no session exists for a user.
var ErrNotFound = errors.New("session: not found")

// Event names a session lifecycle transition.
type Event string

const (
	SignedIn       Event = "signed_in"
	TokenRefreshed Event = "token_refreshed"
	SignedOut      Event = "signed_out"
)

// Session is the auth state of one user.
type Session struct {
	UserID               string    `json:"user_id"`
	Email                string    `json:"email,omitempty"`
	AccessToken          string    `json:"access_token,omitempty"`
	ProviderToken        string    `json:"provider_token,omitempty"`
	ProviderRefreshToken string    `json:"provider_refresh_token,omitempty"`
	ExpiresAt            time.Time `json:"expires_at,omitempty"`
}

// Listener observes session transitions. On SignedOut the session carries only
// the user id.
type Listener func(ctx context.Context, ev Event, s Session)

// Backend persists sessions.
type Backend interface {
	Get(ctx context.Context, userID string) (Session, error)
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// Store is the publish/subscribe session store.
type Store struct {
	backend Backend
	ttl     time.Duration

	mu        sync.Mutex
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
}

// DefaultTTL bounds how long mirrored provider tokens are kept.
const DefaultTTL = 7 * 24 * time.Hour

// NewStore creates a Store. A nil backend selects an in-memory backend.
func NewStore(backend Backend) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{backend: backend, ttl: DefaultTTL, listeners: make(map[uint64]Listener)}
}

// OnChange registers l and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SignIn stores a new session and notifies listeners.
func (s *Store) SignIn(ctx context.Context, sess Session) error {
	return s.put(ctx, sess, SignedIn)
}

// Refresh replaces the session tokens and notifies listeners. Empty provider
// tokens keep the previously stored values.
func (s *Store) Refresh(ctx context.Context, sess Session) error {
	prev, err := s.backend.Get(ctx, sess.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session: load for refresh: %w", err)
	}
	if sess.ProviderToken == "" {
		sess.ProviderToken = prev.ProviderToken
	}
	if sess.ProviderRefreshToken == "" {
		sess.ProviderRefreshToken = prev.ProviderRefreshToken
	}
	if sess.Email == "" {
		sess.Email = prev.Email
	}
	return s.put(ctx, sess, TokenRefreshed)
}

func (s *Store) put(ctx context.Context, sess Session, ev Event) error {
	if sess.UserID == "" {
		return errors.New("session: user id is required")
	}
	if err := s.backend.Put(ctx, sess, s.ttl); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	s.notify(ctx, ev, sess)
	return nil
}

// SignOut deletes the session, including any Discord tokens, and notifies listeners.
func (s *Store) SignOut(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("session: user id is required")
	}
	if err := s.backend.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session: delete: %w", err)
	}
	s.notify(ctx, SignedOut, Session{UserID: userID})
	return nil
}

// Get returns the stored session for a user.
func (s *Store) Get(ctx context.Context, userID string) (Session, error) {
	return s.backend.Get(ctx, userID)
}

// ProviderToken returns the mirrored Discord OAuth token for a user, if any.
func (s *Store) ProviderToken(ctx context.Context, userID string) (string, bool) {
	sess, err := s.backend.Get(ctx, userID)
	if err != nil || sess.ProviderToken == "" {
		return "", false
	}
	return sess.ProviderToken, true
}

// notify runs listeners outside the lock, in registration order.
func (s *Store) notify(ctx context.Context, ev Event, sess Session) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		ls = append(ls, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range ls {
		l(ctx, ev, sess)
	}
}

// MemoryBackend keeps sessions in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	session Session
	expires time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, userID string) (Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return Session{}, ErrNotFound
	}
	return e.session, nil
}

func (m *MemoryBackend) Put(_ context.Context, s Session, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.sessions[s.UserID] = memoryEntry{session: s, expires: expires}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}
