package session

import (
	"fmt"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/rs/zerolog/log"
)

// Transport returns a RoundTripper that authenticates requests with the session.
// It waits for an in-flight login, refreshes ahead of expiry and retries once on 401.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{m: m, base: base}
}

type transport struct {
	m    *Manager
	base http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := t.m.waitLogin(ctx); err != nil {
		return nil, fmt.Errorf("[session Transport] %w", err)
	}
	if t.m.ShouldRefresh(ctx) {
		if _, err := t.m.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("[session Transport] %w", err)
		}
	}
	access, ok := t.m.GetToken(ctx)
	if !ok {
		return nil, fmt.Errorf("[session Transport] %w", autherrors.ErrNotAuthenticated)
	}

	resp, err := t.base.RoundTrip(withBearer(req, access))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}
	b, rErr := t.m.Refresh(ctx)
	if rErr != nil {
		log.Debug().Err(rErr).Msg("refresh after 401 failed")
		return resp, nil
	}
	_ = resp.Body.Close()
	return t.base.RoundTrip(withBearer(retry, b.AccessToken))
}

func withBearer(req *http.Request, access string) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+access)
	return r
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, true
}
