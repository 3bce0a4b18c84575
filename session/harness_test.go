package session_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authapi/fakebackend"
	"github.com/jrsteele09/go-auth-client/environment"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/cookiestore"
	"github.com/jrsteele09/go-auth-client/storage/memstore"
	"github.com/stretchr/testify/require"
)

const redirectURI = "https://app.example.com/callback"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	backend *fakebackend.Backend
	client  *authapi.Client
	clock   *clock
	cookie  *cookiestore.Store
	memory  *memstore.Store
	session *memstore.Store
	local   *memstore.Store
	res     *resolver.Resolver
	m       *session.Manager

	mu        sync.Mutex
	redirects []string
}

type harnessOption struct {
	mode    environment.Mode
	cfg     func(*session.Config)
	options []session.Option
	backend func(*fakebackend.Backend)
}

func newHarness(t *testing.T, opt harnessOption) *harness {
	t.Helper()
	if opt.mode == "" {
		opt.mode = environment.Development
	}
	h := &harness{
		backend: fakebackend.New(t),
		clock:   &clock{t: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
		memory:  memstore.New(),
		session: memstore.New(),
		local:   memstore.New(),
	}
	if opt.backend != nil {
		opt.backend(h.backend)
	}

	var err error
	h.cookie, err = cookiestore.New(nil, h.backend.Origin())
	require.NoError(t, err)

	rcfg := resolver.DefaultConfig(opt.mode)
	rcfg.CookiePollAttempts = 2
	rcfg.CookiePollInterval = time.Millisecond
	h.res = resolver.New(h.stores(), rcfg, resolver.WithClock(h.clock.Now))

	cfg := session.DefaultConfig()
	cfg.LoginURL = "https://app.example.com/login"
	if opt.cfg != nil {
		opt.cfg(&cfg)
	}
	h.client = authapi.New(h.backend.URL(), authapi.WithJar(h.cookie.Jar()))
	options := append([]session.Option{
		session.WithClock(h.clock.Now),
		session.WithRedirector(func(target string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.redirects = append(h.redirects, target)
		}),
	}, opt.options...)
	h.m = session.New(h.client, h.res, cfg, options...)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) stores() storage.Set {
	return storage.Set{Cookie: h.cookie, Memory: h.memory, Session: h.session, Local: h.local}
}

func (h *harness) lastRedirect() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redirects) == 0 {
		return ""
	}
	return h.redirects[len(h.redirects)-1]
}

// snapshot lists every stored key and value.
func (h *harness) snapshot(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()
	var out []string
	for name, st := range map[string]*memstore.Store{"memory": h.memory, "session": h.session, "local": h.local} {
		for _, k := range st.Keys() {
			v, err := st.Get(ctx, k)
			require.NoError(t, err)
			out = append(out, name+"/"+k+"="+v)
		}
	}
	for _, k := range []string{storage.CookieAccessToken, storage.CookieRefreshToken} {
		if v, ok := storage.Lookup(ctx, h.cookie, k); ok {
			out = append(out, "cookie/"+k+"="+v)
		}
	}
	sort.Strings(out)
	return out
}

func (h *harness) login(t *testing.T, code string) {
	t.Helper()
	_, err := h.m.Login(context.Background(), loginReq(code))
	require.NoError(t, err)
	h.m.Wait()
}
