// Package authclient mirrors the server side session on the client. It keeps
// the session token in a Storage, exchanges Designer identity tokens for
// session tokens and notifies subscribers of every transition.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultBaseURL   = "http://localhost:3000"
	DefaultLoginPage = "/pages/auth.html"

	keyUser         = "user"
	keyLoggedOut    = "explicitly_logged_out"
	maxResponseSize = 1 << 16
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrExchangeFailed   = errors.New("token exchange failed")
	ErrInvalidToken     = errors.New("invalid session token")
)

// Cache is the data cache flushed on logout. *cache.Cache satisfies it.
type Cache interface {
	Get(k string) (any, bool)
	Set(k string, x any, d time.Duration)
	Flush()
}

type sessionClaims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

type subscriber struct {
	id int
	fn func(State)
}

type Manager struct {
	baseURL   string
	loginPage string

	storage    Storage
	navigator  Navigator
	cache      Cache
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	state       State
	subscribers []subscriber
	nextID      int
}

type Option func(*Manager)

func WithBaseURL(baseURL string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithLoginPage sets the page Logout navigates to.
func WithLoginPage(page string) Option {
	return func(m *Manager) { m.loginPage = page }
}

func WithStorage(s Storage) Option {
	return func(m *Manager) { m.storage = s }
}

func WithNavigator(n Navigator) Option {
	return func(m *Manager) { m.navigator = n }
}

func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager and restores a previously stored session. Stored
// sessions are discarded after an explicit logout, when they cannot be
// decoded or when their token has expired.
func New(ctx context.Context, opts ...Option) *Manager {
	m := &Manager{
		baseURL:    DefaultBaseURL,
		loginPage:  DefaultLoginPage,
		storage:    NewMemoryStorage(),
		navigator:  noopNavigator{},
		cache:      cache.New(5*time.Minute, 10*time.Minute),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		logger:     slogctx.FromCtx(ctx),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.restore(ctx)

	return m
}

func (m *Manager) restore(ctx context.Context) {
	if _, err := m.storage.Get(keyLoggedOut); err == nil {
		slogctx.Debug(ctx, "Session restore skipped after explicit logout")
		m.dispatch(signedOut())
		return
	}

	stored, err := m.storage.Get(keyUser)
	if err != nil {
		if !errors.Is(err, ErrNoItem) {
			slogctx.Warn(ctx, "Reading stored session failed", "error", err)
		}
		m.dispatch(signedOut())
		return
	}

	var persisted State
	if err := json.Unmarshal([]byte(stored), &persisted); err != nil || persisted.SessionToken == "" {
		slogctx.Warn(ctx, "Discarding undecodable stored session", "error", err)
		m.discard(ctx)
		return
	}

	claims, err := m.decode(persisted.SessionToken)
	if err != nil {
		slogctx.Info(ctx, "Discarding stale stored session", "error", err)
		m.discard(ctx)
		return
	}

	m.dispatch(authenticated(claims.User, persisted.SessionToken))
}

// discard removes the stored session and moves to UNAUTHENTICATED.
func (m *Manager) discard(ctx context.Context) {
	if err := m.storage.Remove(keyUser); err != nil {
		slogctx.Warn(ctx, "Removing stored session failed", "error", err)
	}

	m.dispatch(signedOut())
}

// Login sends the user agent to the authorization endpoint.
func (m *Manager) Login() error {
	return m.navigator.Navigate(m.baseURL + "/authorize")
}

// ExchangeToken trades a Designer identity token for a session token. On
// failure the current state is kept.
func (m *Manager) ExchangeToken(ctx context.Context, idToken, siteID string) error {
	body, err := json.Marshal(map[string]string{"idToken": idToken, "siteId": siteID})
	if err != nil {
		return fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var grant struct {
		SessionToken string `json:"sessionToken"`
		Exp          int64  `json:"exp"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&grant); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrExchangeFailed, err)
	}

	claims, err := m.decode(grant.SessionToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	next := reduce(m.State(), authenticated(claims.User, grant.SessionToken))

	persisted, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := m.storage.Set(keyUser, string(persisted), 0); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}

	if err := m.storage.Remove(keyLoggedOut); err != nil {
		return fmt.Errorf("clearing logout flag: %w", err)
	}

	slogctx.Info(ctx, "Session token exchanged", "site_id", siteID)
	m.dispatch(authenticated(claims.User, grant.SessionToken))

	return nil
}

// Logout forgets the session, flushes the data cache and sends the user
// agent to the login page. The session is not restored on the next start.
func (m *Manager) Logout() error {
	var errs []error

	if err := m.storage.Set(keyLoggedOut, "true", 0); err != nil {
		errs = append(errs, fmt.Errorf("setting logout flag: %w", err))
	}

	if err := m.storage.Remove(keyUser); err != nil {
		errs = append(errs, fmt.Errorf("removing session: %w", err))
	}

	m.cache.Flush()
	m.dispatch(signedOut())

	if err := m.navigator.Navigate(m.loginPage); err != nil {
		errs = append(errs, fmt.Errorf("navigating to login page: %w", err))
	}

	return errors.Join(errs...)
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// DataCache returns the cache flushed on logout.
func (m *Manager) DataCache() Cache {
	return m.cache
}

// Subscribe calls fn with the current state and after every transition.
// Observers are called in registration order; a panicking observer does
// not affect the others.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	current := m.state
	m.mu.Unlock()

	m.notifyOne(fn, current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// AuthHeaders returns the headers authenticating API requests.
func (m *Manager) AuthHeaders() (http.Header, error) {
	state := m.State()
	if !state.IsAuthenticated {
		return nil, ErrNotAuthenticated
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+state.SessionToken)
	h.Set("Content-Type", "application/json")

	return h, nil
}

// IsTokenExpired reports whether the current session token is absent,
// undecodable or past its exp.
func (m *Manager) IsTokenExpired() bool {
	token := m.State().SessionToken
	if token == "" {
		return true
	}

	_, err := m.decode(token)

	return err != nil
}

// RefreshTokenIfNeeded logs out when the session token has expired. There
// is no refresh grant; an expired session requires a new exchange.
func (m *Manager) RefreshTokenIfNeeded() error {
	if m.IsTokenExpired() {
		return m.Logout()
	}

	return nil
}

// decode reads the claims without verifying the signature; only the server
// holds the signing secret.
func (m *Manager) decode(token string) (sessionClaims, error) {
	var claims sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return sessionClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.ExpiresAt == nil {
		return sessionClaims{}, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	if !m.now().Before(claims.ExpiresAt.Time) {
		return sessionClaims{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	return claims, nil
}

// dispatch applies ev and notifies subscribers of the resulting state.
func (m *Manager) dispatch(ev event) {
	m.mu.Lock()
	m.state = reduce(m.state, ev)
	current := m.state
	subs := make([]subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, s := range subs {
		m.notifyOne(s.fn, current)
	}
}

func (m *Manager) notifyOne(fn func(State), state State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Auth state subscriber panicked", "panic", r)
		}
	}()

	fn(state)
}
