// Package guildclient is the consumer side of the guild enrichment endpoint.
// It keeps the last result for one signed-in user, deduplicates concurrent
// loads, and retries transient failures.
package guildclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/apierr"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/session"
)

const (
	// GuildsPath is the enrichment route relative to the API base URL.
	GuildsPath = "/api/discord/guilds"

	DefaultCacheWindow = 2 * time.Minute
	MaxCacheWindow     = 5 * time.Minute
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second

	keyCached  = "cached"
	keyRefetch = "refetch"
)

var (
	// ErrNotSignedIn is returned when no credentials are set.
	ErrNotSignedIn = errors.New("guildclient: not signed in")
	// ErrSuperseded is returned when credentials changed while the request
	// was in flight; its result belongs to the previous user and is dropped.
	ErrSuperseded = errors.New("guildclient: credentials changed during fetch")
)

// State is a snapshot of what the client currently knows.
type State struct {
	Guilds    []models.GuildView
	Warnings  *models.Warnings
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// Client fetches enriched guilds for one user.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	cacheWindow time.Duration
	maxRetries  int
	baseBackoff time.Duration
	notify      func(error)
	onState     func(State)
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      zerolog.Logger

	group singleflight.Group

	mu            sync.Mutex
	accessToken   string
	providerToken string
	generation    uint64
	state         State
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCacheWindow sets how long a successful result is reused. Values are
// clamped to [DefaultCacheWindow, MaxCacheWindow].
func WithCacheWindow(d time.Duration) Option {
	return func(c *Client) {
		switch {
		case d < DefaultCacheWindow:
			d = DefaultCacheWindow
		case d > MaxCacheWindow:
			d = MaxCacheWindow
		}
		c.cacheWindow = d
	}
}

// WithNotify registers a callback for fetches that fail after all retries.
func WithNotify(fn func(error)) Option {
	return func(c *Client) { c.notify = fn }
}

// WithStateHook registers a callback invoked after every state change.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithRetry sets the retry count and the first backoff delay. Each retry
// doubles the delay.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if base > 0 {
			c.baseBackoff = base
		}
	}
}

// New returns a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		cacheWindow: DefaultCacheWindow,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      logging.Component("guildclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials sets the bearer token and Discord provider token and drops
// any cached result.
func (c *Client) SetCredentials(accessToken, providerToken string) {
	c.mu.Lock()
	c.accessToken = accessToken
	c.providerToken = providerToken
	c.resetLocked()
	snapshot := c.state
	c.mu.Unlock()
	c.publish(snapshot)
}

// Clear forgets credentials and state.
func (c *Client) Clear() {
	c.mu.Lock()
	c.accessToken = ""
	c.providerToken = ""
	c.resetLocked()
	snapshot := c.state
	c.mu.Unlock()
	c.publish(snapshot)
}

func (c *Client) resetLocked() {
	c.generation++
	c.state = State{}
}

// State returns the current snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Guilds returns the cached guilds when the last successful fetch is inside
// the cache window, and loads them otherwise.
func (c *Client) Guilds(ctx context.Context) ([]models.GuildView, error) {
	if guilds, ok := c.cached(); ok {
		return guilds, nil
	}
	return c.load(ctx, keyCached)
}

func (c *Client) cached() ([]models.GuildView, bool) {
	c.mu.Lock()
	st := c.state
	fresh := st.Err == nil && !st.FetchedAt.IsZero() && c.now().Sub(st.FetchedAt) < c.cacheWindow
	c.mu.Unlock()

	if !fresh {
		return nil, false
	}
	c.logger.Debug().Int("count", len(st.Guilds)).Msg("using cached guilds")
	return st.Guilds, true
}

// Refetch always issues a new request.
func (c *Client) Refetch(ctx context.Context) ([]models.GuildView, error) {
	return c.load(ctx, keyRefetch)
}

// load joins or starts the fetch for key. The fetch runs detached from any
// single caller; each caller stops waiting when its own ctx is done.
func (c *Client) load(ctx context.Context, key string) ([]models.GuildView, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished just before this one started may have filled the cache.
		if key == keyCached {
			if guilds, ok := c.cached(); ok {
				return guilds, nil
			}
		}
		return c.fetchWithRetry(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return []models.GuildView{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Str("key", key).Msg("joined in-flight guild fetch")
		}
		if res.Err != nil {
			return []models.GuildView{}, res.Err
		}
		return res.Val.([]models.GuildView), nil
	}
}

func (c *Client) fetchWithRetry(ctx context.Context) ([]models.GuildView, error) {
	c.mu.Lock()
	if c.accessToken == "" {
		c.state = State{}
		snapshot := c.state
		c.mu.Unlock()
		c.publish(snapshot)
		return []models.GuildView{}, ErrNotSignedIn
	}
	gen := c.generation
	access, provider := c.accessToken, c.providerToken
	c.state.Loading = true
	c.state.Err = nil
	snapshot := c.state
	c.mu.Unlock()
	c.publish(snapshot)

	var (
		resp *models.GuildsResponse
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = c.fetch(ctx, access, provider)
		if err == nil || !apierr.IsTransient(err) || attempt >= c.maxRetries {
			break
		}
		delay := c.baseBackoff << attempt
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("guild fetch failed, retrying")
		if serr := c.sleep(ctx, delay); serr != nil {
			err = apierr.New(apierr.KindPermanent, "guildclient: fetch", serr)
			break
		}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return []models.GuildView{}, ErrSuperseded
	}
	if errors.Is(err, context.Canceled) {
		c.state.Loading = false
		snapshot = c.state
		c.mu.Unlock()
		c.publish(snapshot)
		return []models.GuildView{}, err
	}
	if err != nil {
		c.state = State{Guilds: []models.GuildView{}, Err: err}
	} else {
		c.state = State{Guilds: resp.Guilds, Warnings: resp.Warnings, FetchedAt: c.now()}
	}
	snapshot = c.state
	c.mu.Unlock()
	c.publish(snapshot)

	if err != nil {
		c.logger.Error().Err(err).Msg("guild fetch failed")
		if c.notify != nil {
			c.notify(err)
		}
		return []models.GuildView{}, err
	}
	c.logger.Info().Int("count", len(resp.Guilds)).Msg("guilds fetched")
	return resp.Guilds, nil
}

func (c *Client) fetch(ctx context.Context, accessToken, providerToken string) (*models.GuildsResponse, error) {
	const op = "guildclient: fetch"

	body, err := json.Marshal(map[string]string{"provider_token": providerToken})
	if err != nil {
		return nil, apierr.New(apierr.KindPermanent, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+GuildsPath, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.New(apierr.KindPermanent, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.New(apierr.KindOf(err), op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, apierr.New(apierr.KindTransient, op, err)
	}

	var out models.GuildsResponse
	decodeErr := json.Unmarshal(raw, &out)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, apierr.FromStatus(op, res.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, apierr.New(apierr.KindPermanent, op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if out.Error != "" {
		return nil, apierr.New(apierr.KindAuthExpired, op, errors.New(out.Error))
	}
	if out.Guilds == nil {
		out.Guilds = []models.GuildView{}
	}
	return &out, nil
}

// Watch follows store: sign-in and token refresh reset the cache and load
// once, sign-out clears state. The returned func stops watching.
func (c *Client) Watch(store *session.Store) func() {
	return store.OnChange(func(ctx context.Context, ev session.Event, s session.Session) {
		switch ev {
		case session.SignedIn, session.TokenRefreshed:
			c.SetCredentials(s.AccessToken, s.ProviderToken)
			go func() {
				if _, err := c.Guilds(context.WithoutCancel(ctx)); err != nil {
					c.logger.Debug().Err(err).Str("event", string(ev)).Msg("load after session change failed")
				}
			}()
		case session.SignedOut:
			c.Clear()
		}
	})
}

func (c *Client) publish(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
