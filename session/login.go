package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-client/coalesce"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// LoginOptions carry flow data checked after the exchange.
type LoginOptions struct {
	// Nonce must match the ID token's nonce when the backend forwards one.
	Nonce string
}

// Login exchanges an authorization code for a session.
//
// Only one exchange runs at a time: a login started while another is in flight
// joins it and returns its result, whatever code it carries. A code that
// already succeeded returns its bundle again without a network call. A failed
// exchange is forgotten so the code can be retried.
func (m *Manager) Login(ctx context.Context, req oauth2.LoginRequest) (*token.Bundle, error) {
	return m.LoginWithOptions(ctx, req, LoginOptions{})
}

func (m *Manager) LoginWithOptions(ctx context.Context, req oauth2.LoginRequest, opts LoginOptions) (*token.Bundle, error) {
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return nil, fmt.Errorf("[Manager Login] %w: authorization code is empty", autherrors.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.RedirectURI) == "" {
		return nil, fmt.Errorf("[Manager Login] %w: redirect uri is empty", autherrors.ErrInvalidRequest)
	}

	if b, ok := m.processedBundle(req.Code); ok {
		log.Debug().Msg("authorization code already exchanged, reusing result")
		m.metrics.Coalesced("login")
		return b, nil
	}

	b, shared, err := coalesce.Do(ctx, &m.group, loginKey, func(ctx context.Context) (*token.Bundle, error) {
		m.track(loginKey)
		defer m.untrack(loginKey)
		return m.exchange(ctx, req, opts)
	})
	if shared {
		log.Debug().Msg("joined in-flight login")
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Manager) processedBundle(code string) (*token.Bundle, bool) {
	v, ok := m.processed.Get(code)
	if !ok {
		return nil, false
	}
	b, ok := v.(*token.Bundle)
	return b, ok
}

// remember adds code to the bounded history of exchanged codes.
func (m *Manager) remember(code string, b *token.Bundle) {
	if m.processed.ItemCount() >= m.cfg.ProcessedCodeLimit {
		m.processed.Flush()
	}
	m.processed.Set(code, b, gocache.DefaultExpiration)
}

func (m *Manager) beginLogin() (uint64, State, chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = Authenticating
	done := make(chan struct{})
	m.loginDone = done
	return m.generation, prev, done
}

func (m *Manager) endLogin(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loginDone == done {
		m.loginDone = nil
	}
	close(done)
}

func (m *Manager) exchange(ctx context.Context, req oauth2.LoginRequest, opts LoginOptions) (*token.Bundle, error) {
	gen, prev, done := m.beginLogin()
	defer m.endLogin(done)

	b, err := m.acquire(ctx, gen, req, opts)
	m.metrics.Exchange(err)
	if err != nil {
		log.Warn().Err(err).Bool("retryable", autherrors.IsRetryable(err)).Msg("login failed")
		failed := Unauthenticated
		if prev == Authenticated && !autherrors.IsIntegrity(err) {
			failed = Authenticated
		}
		m.setState(gen, failed)
		return nil, err
	}

	m.setState(gen, Authenticated)
	m.remember(req.Code, b)
	m.confirmCookie()
	log.Info().
		Str("user", userID(b)).
		Time("expires_at", b.ExpiresAt).
		Bool("refresh_opaque", b.RefreshTokenOpaque()).
		Msg("logged in")
	return b, nil
}

func (m *Manager) acquire(ctx context.Context, gen uint64, req oauth2.LoginRequest, opts LoginOptions) (*token.Bundle, error) {
	resp, err := m.backend.Login(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("[Manager Login] %w", err)
	}

	_, cookie := storage.Lookup(ctx, m.resolver.Stores().Cookie, storage.CookieRefreshToken)
	b, err := token.FromResponse(resp, m.now(), token.Options{
		Grant:                oauth2.AuthorizationCodeGrant,
		RefreshCookiePresent: cookie,
	})
	if err != nil {
		return nil, fmt.Errorf("[Manager Login] %w", err)
	}

	if m.verifier != nil && b.IDToken != "" {
		if _, err := m.verifier.Verify(ctx, b.IDToken, userID(b), opts.Nonce); err != nil {
			return nil, fmt.Errorf("[Manager Login] %w", err)
		}
	}

	if err := m.persist(ctx, gen, b); err != nil {
		return nil, fmt.Errorf("[Manager Login] %w", err)
	}
	return b, nil
}

// waitLogin blocks while a login is in flight.
func (m *Manager) waitLogin(ctx context.Context) error {
	m.mu.Lock()
	done := m.loginDone
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func userID(b *token.Bundle) string {
	if b.User == nil {
		return ""
	}
	return b.User.ID
}
