package session

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/rs/zerolog/log"
)

// Logout ends the session. The server-side invalidation is best effort; local
// cleanup always runs: every stored key, the unified record, background polling,
// cached user data, in-flight operation slots and the processed-code history.
// Results of calls still in flight are discarded when they settle.
// Calling Logout when already logged out is a no-op apart from the redirect.
func (m *Manager) Logout(ctx context.Context, allDevices bool) error {
	access, accessSrc := m.resolver.AccessToken(ctx)
	refresh, refreshSrc := m.resolver.RefreshToken(ctx)

	m.mu.Lock()
	m.generation++
	prev := m.state
	m.state = Unauthenticated
	m.bgCancel()
	m.bg, m.bgCancel = context.WithCancel(context.Background())
	keys := make([]string, 0, len(m.inflight))
	for k := range m.inflight {
		keys = append(keys, k)
	}
	m.user = nil
	m.mu.Unlock()

	for _, k := range keys {
		m.group.Forget(k)
	}
	m.processed.Flush()

	if accessSrc != resolver.None || refreshSrc != resolver.None {
		explicit, _ := explicitRefresh(refresh, refreshSrc)
		req := oauth2.LogoutRequest{RefreshToken: utils.NonZeroPtr(explicit), AllDevices: allDevices}
		err := m.backend.Logout(ctx, access, req)
		m.metrics.Logout(err)
		if err != nil {
			log.Warn().Err(err).Msg("server-side logout failed, continuing with local cleanup")
		}
	}

	m.writeMu.Lock()
	err := m.clearStores(ctx)
	m.writeMu.Unlock()

	log.Info().Stringer("previous_state", prev).Bool("all_devices", allDevices).Msg("logged out")
	m.redirect(m.cfg.LoginURL)
	if err != nil {
		return errors.Join(errors.New("[Manager Logout] local cleanup incomplete"), err)
	}
	return nil
}

func explicitRefresh(v string, src resolver.Source) (string, bool) {
	if src == resolver.None || v == "" || src == resolver.Cookie {
		return "", false
	}
	return v, true
}
