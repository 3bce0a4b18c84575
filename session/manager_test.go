package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authapi/fakebackend"
	"github.com/jrsteele09/go-auth-client/authstate"
	"github.com/jrsteele09/go-auth-client/environment"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginReq(code string) oauth2.LoginRequest {
	return oauth2.LoginRequest{Code: code, RedirectURI: redirectURI}
}

func TestLogin_TokenAvailableImmediately(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	b, err := h.m.Login(ctx, loginReq("abc123"))
	require.NoError(t, err)
	require.Equal(t, "tok1", b.AccessToken)

	tok, ok := h.m.GetToken(ctx)
	require.True(t, ok)
	require.Equal(t, "tok1", tok)
	require.True(t, h.m.IsAuthenticated(ctx))
	require.Equal(t, session.Authenticated, h.m.State())

	exp, ok := h.m.ExpiresAt(ctx)
	require.True(t, ok)
	require.WithinDuration(t, h.clock.Now().Add(time.Hour), exp, time.Second)

	stored, ok := storage.Lookup(ctx, h.local, storage.LocalTokenExpiresAt)
	require.True(t, ok)
	require.NotEmpty(t, stored)
	h.m.Wait()
}

func TestLogin_ConcurrentSameCodeExchangesOnce(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.backend.Hold()

	const callers = 2
	results := make([]*token.Bundle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := h.m.Login(context.Background(), loginReq("dup001"))
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}

	require.Eventually(t, func() bool { return h.backend.LoginCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	h.backend.Release()
	wg.Wait()

	require.Equal(t, int32(1), h.backend.LoginCalls.Load())
	require.NotNil(t, results[0])
	require.Same(t, results[0], results[1])
	h.m.Wait()
}

func TestLogin_ConcurrentDifferentCodeJoinsFirst(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.backend.Hold()

	var first, second *token.Bundle
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := h.m.Login(context.Background(), loginReq("first1"))
		assert.NoError(t, err)
		first = b
	}()
	require.Eventually(t, func() bool { return h.backend.LoginCalls.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, session.Authenticating, h.m.State())

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := h.m.Login(context.Background(), loginReq("second"))
		assert.NoError(t, err)
		second = b
	}()
	time.Sleep(20 * time.Millisecond)
	h.backend.Release()
	wg.Wait()

	require.Equal(t, int32(1), h.backend.LoginCalls.Load(), "the second login joins the exchange in flight")
	require.NotNil(t, first)
	require.Same(t, first, second)
	require.Equal(t, session.Authenticated, h.m.State())
	h.m.Wait()
}

func TestLogin_LateDuplicateReusesResult(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	first, err := h.m.Login(ctx, loginReq("abc123"))
	require.NoError(t, err)
	second, err := h.m.Login(ctx, loginReq("abc123"))
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int32(1), h.backend.LoginCalls.Load())
	h.m.Wait()
}

func TestLogin_FailedCodeCanBeRetried(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	var calls int
	var mu sync.Mutex
	h.backend.OnLogin(func(oauth2.LoginRequest) *fakebackend.Reply {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return fakebackend.Error(http.StatusServiceUnavailable, "", "try later")
		}
		return nil
	})

	_, err := h.m.Login(ctx, loginReq("retry1"))
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	require.True(t, autherrors.IsRetryable(err))
	require.Equal(t, session.Unauthenticated, h.m.State())

	b, err := h.m.Login(ctx, loginReq("retry1"))
	require.NoError(t, err)
	require.Equal(t, "tok1", b.AccessToken)
	require.Equal(t, int32(2), h.backend.LoginCalls.Load())
	h.m.Wait()
}

func TestLogin_ProcessedHistoryIsBounded(t *testing.T) {
	h := newHarness(t, harnessOption{cfg: func(c *session.Config) { c.ProcessedCodeLimit = 2 }})
	for _, code := range []string{"a", "b", "c"} {
		h.login(t, code)
	}
	h.login(t, "a")
	require.Equal(t, int32(4), h.backend.LoginCalls.Load(), "history was flushed when full")
	h.login(t, "c")
	require.Equal(t, int32(4), h.backend.LoginCalls.Load())
}

func TestLogin_EmptyAccessTokenIsRejected(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.backend.OnLogin(func(oauth2.LoginRequest) *fakebackend.Reply {
		return &fakebackend.Reply{Status: http.StatusOK, Body: oauth2.TokenResponse{
			AccessToken:  utils.Ptr(""),
			RefreshToken: utils.Ptr("ref1"),
			ExpiresIn:    3600,
		}}
	})

	_, err := h.m.Login(context.Background(), loginReq("abc123"))
	require.ErrorIs(t, err, autherrors.ErrEmptyToken)
	require.Contains(t, err.Error(), "token is empty")
	require.Empty(t, h.snapshot(t))
	require.Equal(t, session.Unauthenticated, h.m.State())
}

func TestLogin_MissingRefreshTokenIsRejected(t *testing.T) {
	h := newHarness(t, harnessOption{backend: func(b *fakebackend.Backend) { b.OmitRefreshToken(true) }})

	_, err := h.m.Login(context.Background(), loginReq("abc123"))
	require.ErrorIs(t, err, autherrors.ErrEmptyToken)
	require.Empty(t, h.snapshot(t))
}

func TestLogin_InvalidInput(t *testing.T) {
	h := newHarness(t, harnessOption{})
	_, err := h.m.Login(context.Background(), oauth2.LoginRequest{Code: "", RedirectURI: redirectURI})
	require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
	_, err = h.m.Login(context.Background(), oauth2.LoginRequest{Code: "x"})
	require.ErrorIs(t, err, autherrors.ErrInvalidRequest)
	require.Zero(t, h.backend.LoginCalls.Load())
}

func TestLogin_ElevatedRoleWithoutPermissions(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.backend.OnLogin(func(oauth2.LoginRequest) *fakebackend.Reply {
		reply := h.backend.Issue()
		resp := reply.Body.(oauth2.TokenResponse)
		resp.User.Role = users.RoleAdmin
		resp.Permissions = nil
		reply.Body = resp
		return reply
	})

	_, err := h.m.Login(context.Background(), loginReq("abc123"))
	require.ErrorIs(t, err, autherrors.ErrInconsistentPermissions)
	require.Empty(t, h.snapshot(t), "partial writes are rolled back")
}

func TestEnvironmentCorrectStorage(t *testing.T) {
	ctx := context.Background()

	prod := newHarness(t, harnessOption{mode: environment.Production})
	prod.login(t, "p1")
	_, ok := storage.Lookup(ctx, prod.local, storage.LocalAccessToken)
	require.False(t, ok, "production keeps raw access tokens out of local storage")

	dev := newHarness(t, harnessOption{mode: environment.Development})
	dev.login(t, "d1")
	v, ok := storage.Lookup(ctx, dev.local, storage.LocalAccessToken)
	require.True(t, ok)
	require.Equal(t, "tok1", v)
}

func TestStagingHostStoresLikeDevelopment(t *testing.T) {
	ctx := context.Background()
	mode := environment.Classify("https://staging.example.com", environment.Overrides{})
	require.False(t, mode.IsProductionStorage())

	h := newHarness(t, harnessOption{mode: mode, backend: func(b *fakebackend.Backend) { b.SetCookies(true) }})
	h.login(t, "s1")

	v, ok := storage.Lookup(ctx, h.local, storage.LocalAccessToken)
	require.True(t, ok)
	require.Equal(t, "tok1", v)
	v, ok = storage.Lookup(ctx, h.cookie, storage.CookieAccessToken)
	require.True(t, ok)
	require.Equal(t, "tok1", v)
}

func TestCookieConfirmationDropsMemorySlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOption{mode: environment.Production, backend: func(b *fakebackend.Backend) { b.SetCookies(true) }})
	h.login(t, "c1")

	_, ok := storage.Lookup(ctx, h.memory, storage.MemoryAccessToken)
	require.False(t, ok)
	tok, ok := h.m.GetToken(ctx)
	require.True(t, ok)
	require.Equal(t, "tok1", tok)
}

func TestRefresh_ExpiryIsMonotonic(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")

	before, ok := h.m.ExpiresAt(ctx)
	require.True(t, ok)

	h.clock.Advance(56 * time.Minute)
	require.True(t, h.m.ShouldRefresh(ctx))

	b, err := h.m.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok2", b.AccessToken)
	require.Equal(t, oauth2.RefreshTokenCodeGrant, b.Grant)

	after, ok := h.m.ExpiresAt(ctx)
	require.True(t, ok)
	require.True(t, after.After(before))
	require.False(t, h.m.ShouldRefresh(ctx))

	tok, _ := h.m.GetToken(ctx)
	require.Equal(t, "tok2", tok)
	require.Equal(t, "ref1", utils.Value(h.backend.LastRefresh().RefreshToken))
	h.m.Wait()
}

func TestRefresh_ConcurrentCallsCollapse(t *testing.T) {
	h := newHarness(t, harnessOption{})
	h.login(t, "abc123")
	h.backend.Hold()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return h.backend.RefreshCalls.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, session.RefreshPending, h.m.State())
	time.Sleep(20 * time.Millisecond)
	h.backend.Release()
	wg.Wait()

	require.Equal(t, int32(1), h.backend.RefreshCalls.Load())
	require.Equal(t, session.Authenticated, h.m.State())
	h.m.Wait()
}

func TestRefresh_FailureClearsAndRedirects(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	h.backend.OnRefresh(func(oauth2.RefreshRequest) *fakebackend.Reply {
		return fakebackend.Error(http.StatusUnauthorized, "invalid_grant", "refresh token revoked")
	})

	_, err := h.m.Refresh(ctx)
	require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
	require.Empty(t, h.snapshot(t))
	require.False(t, h.m.IsAuthenticated(ctx))
	require.Equal(t, session.Unauthenticated, h.m.State())
	require.True(t, strings.HasPrefix(h.lastRedirect(), "https://app.example.com/login?error="))
}

func TestRefresh_OpaqueCookieCredential(t *testing.T) {
	h := newHarness(t, harnessOption{mode: environment.Production, backend: func(b *fakebackend.Backend) {
		b.SetCookies(true)
		b.OmitRefreshToken(true)
	}})
	ctx := context.Background()

	b, err := h.m.Login(ctx, loginReq("abc123"))
	require.NoError(t, err)
	require.True(t, b.RefreshTokenOpaque())
	h.m.Wait()

	_, err = h.m.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "ref1", utils.Value(h.backend.LastRefresh().RefreshToken), "sent by cookie only")
	h.m.Wait()
}

func TestLogout_IsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOption{backend: func(b *fakebackend.Backend) { b.SetCookies(true) }})
	ctx := context.Background()
	h.login(t, "abc123")
	require.NotEmpty(t, h.snapshot(t))

	require.NoError(t, h.m.Logout(ctx, false))
	first := h.snapshot(t)
	require.Empty(t, first)

	require.NoError(t, h.m.Logout(ctx, false))
	require.Equal(t, first, h.snapshot(t))
	require.Equal(t, int32(1), h.backend.LogoutCalls.Load(), "nothing to invalidate the second time")
	require.Equal(t, "https://app.example.com/login", h.lastRedirect())
	require.Equal(t, session.Unauthenticated, h.m.State())
}

func TestLogout_ServerFailureDoesNotBlockCleanup(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	h.backend.OnLogout(func(oauth2.LogoutRequest) *fakebackend.Reply {
		return fakebackend.Error(http.StatusInternalServerError, "server_error", "")
	})

	require.NoError(t, h.m.Logout(ctx, true))
	require.Empty(t, h.snapshot(t))
	last := h.backend.LastLogout()
	require.True(t, last.AllDevices)
	require.Equal(t, "ref1", utils.Value(last.RefreshToken))
}

func TestLogout_ClearsProcessedCodes(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	require.NoError(t, h.m.Logout(ctx, false))

	h.login(t, "abc123")
	require.Equal(t, int32(2), h.backend.LoginCalls.Load())
}

func TestLogout_DuringRefresh(t *testing.T) {
	h := newHarness(t, harnessOption{backend: func(b *fakebackend.Backend) { b.SetCookies(true) }})
	ctx := context.Background()
	h.login(t, "abc123")

	h.backend.Hold()
	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.Refresh(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.backend.RefreshCalls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.m.Logout(ctx, false))
	h.backend.Release()

	err := <-errCh
	require.ErrorIs(t, err, autherrors.ErrSessionEnded)
	h.m.Wait()

	_, ok := h.m.GetToken(ctx)
	require.False(t, ok)
	require.False(t, h.m.IsAuthenticated(ctx))
	require.Empty(t, h.snapshot(t))
}

func TestLogout_DuringFailingRefresh(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")

	h.backend.OnRefresh(func(oauth2.RefreshRequest) *fakebackend.Reply {
		return fakebackend.Error(http.StatusServiceUnavailable, "unavailable", "try later")
	})
	h.backend.Hold()
	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.Refresh(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.backend.RefreshCalls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.m.Logout(ctx, false))
	require.Equal(t, "https://app.example.com/login", h.lastRedirect())
	h.mu.Lock()
	redirects := len(h.redirects)
	h.mu.Unlock()
	h.backend.Release()

	err := <-errCh
	require.ErrorIs(t, err, autherrors.ErrSessionEnded)
	h.mu.Lock()
	require.Len(t, h.redirects, redirects, "no login redirect after the session already ended")
	h.mu.Unlock()
	require.Equal(t, "https://app.example.com/login", h.lastRedirect())
	require.Equal(t, session.Unauthenticated, h.m.State())
	h.m.Wait()
}

func TestLogout_DuringLogin(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.backend.Hold()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.Login(ctx, loginReq("slow"))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.backend.LoginCalls.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, session.Authenticating, h.m.State())

	require.NoError(t, h.m.Logout(ctx, false))
	h.backend.Release()

	require.ErrorIs(t, <-errCh, autherrors.ErrSessionEnded)
	_, ok := h.m.GetToken(ctx)
	require.False(t, ok)
	require.Equal(t, session.Unauthenticated, h.m.State())
}

func TestCurrentUser_RefreshesOnceOn401(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	h.backend.Revoke("tok1")

	info, err := h.m.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, fakebackend.DefaultUser.ID, info.User.ID)
	require.Equal(t, int32(2), h.backend.MeCalls.Load())
	require.Equal(t, int32(1), h.backend.RefreshCalls.Load())

	cached, ok := h.m.CachedUser(ctx)
	require.True(t, ok)
	require.Equal(t, info.User.Email, cached.User.Email)
	h.m.Wait()
}

func TestCurrentUser_GivesUpAfterOneRetry(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	h.backend.OnMe(func(string) *fakebackend.Reply {
		return fakebackend.Error(http.StatusUnauthorized, "invalid_token", "")
	})

	_, err := h.m.CurrentUser(ctx)
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	require.Equal(t, int32(2), h.backend.MeCalls.Load())
	require.Equal(t, int32(1), h.backend.RefreshCalls.Load())
	h.m.Wait()
}

func TestCurrentUser_NotAuthenticated(t *testing.T) {
	h := newHarness(t, harnessOption{})
	_, err := h.m.CurrentUser(context.Background())
	require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
}

func TestTransport(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")

	var mu sync.Mutex
	var seen []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	client := &http.Client{Transport: h.m.Transport(nil)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL+"/dashboards", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"Bearer tok1", "Bearer tok2"}, seen)
	h.m.Wait()
}

func TestTransport_RefreshesAheadOfExpiry(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()
	h.login(t, "abc123")
	h.clock.Advance(58 * time.Minute)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer api.Close()

	client := &http.Client{Transport: h.m.Transport(nil)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, int32(1), h.backend.RefreshCalls.Load())
	h.m.Wait()
}

func TestRestore(t *testing.T) {
	h := newHarness(t, harnessOption{})
	ctx := context.Background()

	state, err := h.m.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Unauthenticated, state)

	h.login(t, "abc123")

	again := session.New(nil, h.res, session.DefaultConfig())
	t.Cleanup(again.Close)
	state, err = again.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Authenticated, state)
}

func TestUnifiedState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOption{})
	repo := authstate.NewRepo(h.local).WithClock(h.clock.Now)
	migrator := authstate.NewMigrator(repo, h.res, h.stores(), nil)
	m := session.New(h.client, h.res, session.DefaultConfig(), session.WithClock(h.clock.Now), session.WithUnifiedState(repo, migrator))
	t.Cleanup(m.Close)

	state, err := m.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Unauthenticated, state)
	require.True(t, migrator.Migrated(ctx))

	_, err = m.Login(ctx, loginReq("abc123"))
	require.NoError(t, err)
	m.Wait()

	rec, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok1", rec.Credentials.AccessToken)
	require.Equal(t, fakebackend.DefaultUser.ID, rec.User.ID)

	require.NoError(t, m.Logout(ctx, false))
	_, err = repo.Load(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.True(t, migrator.Migrated(ctx), "migration marker survives logout")
}
