// Package session coordinates login, refresh and logout of one client session
// on top of the storage resolver.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authstate"
	"github.com/jrsteele09/go-auth-client/coalesce"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// Backend is the auth API the manager calls.
type Backend interface {
	Login(ctx context.Context, req oauth2.LoginRequest) (*oauth2.TokenResponse, error)
	Refresh(ctx context.Context, req oauth2.RefreshRequest) (*oauth2.TokenResponse, error)
	Logout(ctx context.Context, accessToken string, req oauth2.LogoutRequest) error
	CurrentUser(ctx context.Context, accessToken string) (*oauth2.UserInfoResponse, error)
}

// IDVerifier verifies ID tokens forwarded by the backend.
type IDVerifier interface {
	Verify(ctx context.Context, raw, subject, nonce string) (*authapi.IDClaims, error)
}

var (
	_ Backend    = (*authapi.Client)(nil)
	_ Backend    = (*authapi.ProviderClient)(nil)
	_ IDVerifier = (*authapi.IDTokenVerifier)(nil)
)

const (
	loginKey   = "login"
	refreshKey = "refresh"
)

type Config struct {
	LoginURL           string
	RefreshThreshold   time.Duration
	ProcessedCodeTTL   time.Duration
	ProcessedCodeLimit int
	// ConfirmCookies polls for the access token cookie after each write.
	ConfirmCookies bool
}

func DefaultConfig() Config {
	return Config{
		LoginURL:           "/login",
		RefreshThreshold:   token.DefaultRefreshThreshold,
		ProcessedCodeTTL:   5 * time.Minute,
		ProcessedCodeLimit: 100,
		ConfirmCookies:     true,
	}
}

type Manager struct {
	backend  Backend
	resolver *resolver.Resolver
	cfg      Config
	now      func() time.Time

	verifier IDVerifier
	unified  *authstate.Repo
	migrator *authstate.Migrator
	metrics  *metrics.Recorder
	redirect Redirector

	group     coalesce.Group
	processed *gocache.Cache

	// writeMu orders persisting results against logout's cleanup
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	inflight   map[string]struct{}
	loginDone  chan struct{}
	user       *oauth2.UserInfoResponse

	bg       context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*Manager)

func WithVerifier(v IDVerifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

func WithRedirector(r Redirector) Option {
	return func(m *Manager) {
		m.redirect = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithUnifiedState writes the versioned record on every login and refresh.
// Restore migrates legacy data and makes the record the first read source.
func WithUnifiedState(repo *authstate.Repo, migrator *authstate.Migrator) Option {
	return func(m *Manager) {
		m.unified = repo
		m.migrator = migrator
	}
}

func New(backend Backend, res *resolver.Resolver, cfg Config, options ...Option) *Manager {
	def := DefaultConfig()
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = def.RefreshThreshold
	}
	if cfg.ProcessedCodeTTL <= 0 {
		cfg.ProcessedCodeTTL = def.ProcessedCodeTTL
	}
	if cfg.ProcessedCodeLimit <= 0 {
		cfg.ProcessedCodeLimit = def.ProcessedCodeLimit
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}

	m := &Manager{
		backend:   backend,
		resolver:  res,
		cfg:       cfg,
		now:       token.NowTimeFunc,
		redirect:  func(string) {},
		processed: gocache.New(cfg.ProcessedCodeTTL, cfg.ProcessedCodeTTL),
		inflight:  map[string]struct{}{},
	}
	for _, opt := range options {
		opt(m)
	}
	m.group.OnShared = func(key string) {
		m.metrics.Coalesced(operation(key))
	}
	m.bg, m.bgCancel = context.WithCancel(context.Background())
	return m
}

func operation(key string) string {
	if key == refreshKey {
		return "refresh"
	}
	return "login"
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState moves to next when gen is still current. It reports whether it did.
func (m *Manager) setState(gen uint64, next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return false
	}
	if !canTransition(m.state, next) {
		log.Warn().Stringer("from", m.state).Stringer("to", next).Msg("unexpected session state transition")
	}
	if m.state != next {
		log.Debug().Stringer("from", m.state).Stringer("to", next).Msg("session state")
	}
	m.state = next
	return true
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) track(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[key] = struct{}{}
}

func (m *Manager) untrack(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
}

// Restore derives the state from stored credentials, e.g. at start-up. With the
// unified record configured, legacy data is migrated first.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	if m.unified != nil {
		if m.migrator != nil {
			res, err := m.migrator.Migrate(ctx)
			if err != nil {
				log.Error().Err(err).Msg("auth state migration failed, staying on legacy keys")
			} else {
				log.Debug().Str("result", string(res)).Msg("auth state migration")
				m.resolver.SetUnified(m.unified)
			}
		} else {
			m.resolver.SetUnified(m.unified)
		}
	}

	gen := m.currentGeneration()
	if _, ok := m.resolver.Credentials(ctx); !ok {
		m.setState(gen, Unauthenticated)
		return Unauthenticated, nil
	}
	if _, _, err := m.resolver.LoadProfile(ctx); err != nil {
		m.clear(ctx, gen)
		return Unauthenticated, fmt.Errorf("[Manager Restore] %w", err)
	}
	m.setState(gen, Authenticated)
	return Authenticated, nil
}

// GetToken returns the current access token.
func (m *Manager) GetToken(ctx context.Context) (string, bool) {
	v, src := m.resolver.AccessToken(ctx)
	return v, src != resolver.None
}

// IsAuthenticated reports whether a token is stored and not known to be expired.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if _, ok := m.GetToken(ctx); !ok {
		return false
	}
	if exp, ok := m.resolver.ExpiresAt(ctx); ok && !exp.After(m.now()) {
		return false
	}
	return true
}

// ShouldRefresh reports whether the access token expires within the refresh threshold.
func (m *Manager) ShouldRefresh(ctx context.Context) bool {
	exp, ok := m.resolver.ExpiresAt(ctx)
	if !ok {
		return false
	}
	return token.ShouldRefresh(exp, m.now(), m.cfg.RefreshThreshold)
}

// ExpiresAt returns the expiry of the stored access token.
func (m *Manager) ExpiresAt(ctx context.Context) (time.Time, bool) {
	return m.resolver.ExpiresAt(ctx)
}

// persist runs the write path for b unless the session generation moved on.
func (m *Manager) persist(ctx context.Context, gen uint64, b *token.Bundle) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if gen != m.currentGeneration() {
		m.discardCookies(ctx)
		return fmt.Errorf("[Manager persist] %w", autherrors.ErrSessionEnded)
	}
	if err := m.resolver.StoreTokens(ctx, b.Credentials); err != nil {
		return err
	}
	err := m.resolver.StoreProfile(ctx, resolver.Profile{User: b.User, Tenant: b.Tenant, Permissions: b.Permissions})
	if err == nil && m.unified != nil {
		err = m.unified.Save(ctx, authstate.FromBundle(b))
	}
	if err != nil {
		if clearErr := m.clearStores(ctx); clearErr != nil {
			log.Error().Err(clearErr).Msg("clear after failed write")
		}
		return err
	}

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
	return nil
}

// discardCookies drops cookies a response set after the session it belonged to ended.
func (m *Manager) discardCookies(ctx context.Context) {
	cookies := m.resolver.Stores().Cookie
	if cookies == nil {
		return
	}
	for _, k := range []string{storage.CookieAccessToken, storage.CookieRefreshToken} {
		if err := cookies.Delete(ctx, k); err != nil {
			log.Warn().Err(err).Str("cookie", k).Msg("discard late cookie")
		}
	}
}

// confirmCookie polls for the access token cookie in the background.
// Logout and Close cancel it.
func (m *Manager) confirmCookie() {
	if !m.cfg.ConfirmCookies {
		return
	}
	m.mu.Lock()
	ctx := m.bg
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.resolver.ConfirmCookie(ctx); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("cookie confirmation")
		}
	}()
}

// clear removes all session data and ends the session if gen is still current.
func (m *Manager) clear(ctx context.Context, gen uint64) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if gen != m.currentGeneration() {
		return
	}
	if err := m.clearStores(ctx); err != nil {
		log.Error().Err(err).Msg("clear session data")
	}
	m.setState(gen, Unauthenticated)
}

func (m *Manager) clearStores(ctx context.Context) error {
	err := m.resolver.Clear(ctx)
	if m.unified != nil {
		if uErr := m.unified.Clear(ctx); uErr != nil && err == nil {
			err = uErr
		}
	}
	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
	return err
}

// Wait blocks until background work such as cookie confirmation has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops background work.
func (m *Manager) Close() {
	m.mu.Lock()
	m.bgCancel()
	m.mu.Unlock()
	m.wg.Wait()
}
