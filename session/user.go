package session

import (
	"context"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/resolver"
)

// CurrentUser fetches the signed-in user. A rejected token triggers one
// refresh and retry before giving up.
func (m *Manager) CurrentUser(ctx context.Context) (*oauth2.UserInfoResponse, error) {
	if err := m.waitLogin(ctx); err != nil {
		return nil, fmt.Errorf("[Manager CurrentUser] %w", err)
	}
	access, ok := m.GetToken(ctx)
	if !ok {
		return nil, fmt.Errorf("[Manager CurrentUser] %w", autherrors.ErrNotAuthenticated)
	}

	gen := m.currentGeneration()
	info, err := m.backend.CurrentUser(ctx, access)
	if autherrors.Is(err, autherrors.ErrUnauthorized) {
		b, rErr := m.Refresh(ctx)
		if rErr != nil {
			return nil, fmt.Errorf("[Manager CurrentUser] %w", rErr)
		}
		gen = m.currentGeneration()
		info, err = m.backend.CurrentUser(ctx, b.AccessToken)
	}
	if err != nil {
		return nil, fmt.Errorf("[Manager CurrentUser] %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if gen != m.currentGeneration() {
		return nil, fmt.Errorf("[Manager CurrentUser] %w", autherrors.ErrSessionEnded)
	}
	if err := m.resolver.StoreProfile(ctx, resolver.Profile{User: info.User, Tenant: info.Tenant, Permissions: info.Permissions}); err != nil {
		return nil, fmt.Errorf("[Manager CurrentUser] %w", err)
	}
	m.mu.Lock()
	m.user = info
	m.mu.Unlock()
	return info, nil
}

// CachedUser returns the user from the last CurrentUser call, falling back to stored profile data.
func (m *Manager) CachedUser(ctx context.Context) (*oauth2.UserInfoResponse, bool) {
	m.mu.Lock()
	u := m.user
	m.mu.Unlock()
	if u != nil {
		return u, true
	}
	p, ok, err := m.resolver.LoadProfile(ctx)
	if err != nil || !ok || p.User == nil {
		return nil, false
	}
	return &oauth2.UserInfoResponse{User: p.User, Tenant: p.Tenant, Permissions: p.Permissions}, true
}
