package session

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-client/coalesce"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// Refresh obtains new tokens. Concurrent calls share one request.
//
// On failure every stored credential is removed, the user is sent to the login
// page and the error is returned.
func (m *Manager) Refresh(ctx context.Context) (*token.Bundle, error) {
	b, _, err := coalesce.Do(ctx, &m.group, refreshKey, func(ctx context.Context) (*token.Bundle, error) {
		m.track(refreshKey)
		defer m.untrack(refreshKey)
		return m.refresh(ctx)
	})
	return b, err
}

func (m *Manager) refresh(ctx context.Context) (*token.Bundle, error) {
	gen := m.currentGeneration()
	if m.State() == Authenticated {
		m.setState(gen, RefreshPending)
	}

	b, err := m.renew(ctx, gen)
	m.metrics.Refresh(err)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrSessionEnded) {
			return nil, err
		}
		if gen != m.currentGeneration() {
			log.Debug().Err(err).Msg("refresh failed after logout")
			return nil, fmt.Errorf("[Manager Refresh] %w: %w", autherrors.ErrSessionEnded, err)
		}
		log.Warn().Err(err).Msg("refresh failed, ending session")
		m.clear(ctx, gen)
		m.redirect(LoginRedirect(m.cfg.LoginURL, err))
		return nil, err
	}

	m.setState(gen, Authenticated)
	m.confirmCookie()
	log.Debug().Time("expires_at", b.ExpiresAt).Msg("tokens refreshed")
	return b, nil
}

func (m *Manager) renew(ctx context.Context, gen uint64) (*token.Bundle, error) {
	current, src := m.resolver.RefreshToken(ctx)
	if src == resolver.None {
		return nil, fmt.Errorf("[Manager Refresh] %w: no refresh token", autherrors.ErrNotAuthenticated)
	}

	var req oauth2.RefreshRequest
	if !token.IsOpaque(current) {
		req.RefreshToken = &current
	}
	resp, err := m.backend.Refresh(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("[Manager Refresh] %w", err)
	}
	if gen != m.currentGeneration() {
		m.writeMu.Lock()
		m.discardCookies(ctx)
		m.writeMu.Unlock()
		return nil, fmt.Errorf("[Manager Refresh] %w", autherrors.ErrSessionEnded)
	}

	_, cookie := storage.Lookup(ctx, m.resolver.Stores().Cookie, storage.CookieRefreshToken)
	b, err := token.FromResponse(resp, m.now(), token.Options{
		Grant:                oauth2.RefreshTokenCodeGrant,
		FallbackRefreshToken: current,
		RefreshCookiePresent: cookie,
	})
	if err != nil {
		return nil, fmt.Errorf("[Manager Refresh] %w", err)
	}
	if b.User == nil {
		if p, ok, _ := m.resolver.LoadProfile(ctx); ok {
			b.User, b.Tenant, b.Permissions = p.User, p.Tenant, p.Permissions
		}
	}

	if err := m.persist(ctx, gen, b); err != nil {
		return nil, fmt.Errorf("[Manager Refresh] %w", err)
	}
	return b, nil
}
