// Package fakebackend is an in-process auth API for tests. It issues
// sequential tokens, counts calls and lets tests replace any endpoint.
package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
)

const APIPrefix = "/api/v1"

// Reply is what an endpoint answers.
type Reply struct {
	Status  int
	Body    any
	Cookies []*http.Cookie
	Header  http.Header
}

type Backend struct {
	server *httptest.Server

	LoginCalls   atomic.Int32
	RefreshCalls atomic.Int32
	LogoutCalls  atomic.Int32
	MeCalls      atomic.Int32

	mu          sync.Mutex
	seq         int
	expiresIn   int
	setCookies  bool
	omitRefresh bool
	valid       map[string]bool
	gate        chan struct{}
	onLogin     func(oauth2.LoginRequest) *Reply
	onRefresh   func(oauth2.RefreshRequest) *Reply
	onLogout    func(oauth2.LogoutRequest) *Reply
	onMe        func(bearer string) *Reply
	lastLogout  *oauth2.LogoutRequest
	lastRefresh *oauth2.RefreshRequest
}

// DefaultUser is the profile returned for every login.
var DefaultUser = users.Profile{
	ID:       "user-1",
	Email:    "analyst@example.com",
	Name:     "Ana Lyst",
	Role:     users.RoleAnalyst,
	TenantID: "tenant-1",
}

var DefaultTenant = tenants.Tenant{ID: "tenant-1", Name: "Example Org", Slug: "example"}

var DefaultPermissions = []users.Permission{
	{Application: "insights", CanAccess: true},
	{Application: "forecasts", CanAccess: true, CanEdit: true},
}

func New(t testing.TB) *Backend {
	b := &Backend{expiresIn: 3600, valid: map[string]bool{}}
	r := chi.NewRouter()
	r.Route(APIPrefix, func(r chi.Router) {
		r.Post(authapi.RouteLogin, b.login)
		r.Post(authapi.RouteRefresh, b.refresh)
		r.Post(authapi.RouteLogout, b.logout)
		r.Get(authapi.RouteMe, b.me)
	})
	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

// URL is the API base URL to configure the client with.
func (b *Backend) URL() string {
	return b.server.URL + APIPrefix
}

// Origin is the server origin cookies are set for.
func (b *Backend) Origin() string {
	return b.server.URL
}

// SetExpiresIn changes the lifetime of issued tokens; zero omits expires_in.
func (b *Backend) SetExpiresIn(seconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiresIn = seconds
}

// SetCookies makes login and refresh also deliver tokens as HttpOnly cookies.
func (b *Backend) SetCookies(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCookies = on
}

// OmitRefreshToken keeps the refresh token out of response bodies, cookie only.
func (b *Backend) OmitRefreshToken(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.omitRefresh = on
}

// Hold makes login and refresh block until Release is called.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

func (b *Backend) OnLogin(fn func(oauth2.LoginRequest) *Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLogin = fn
}

func (b *Backend) OnRefresh(fn func(oauth2.RefreshRequest) *Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRefresh = fn
}

func (b *Backend) OnLogout(fn func(oauth2.LogoutRequest) *Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLogout = fn
}

func (b *Backend) OnMe(fn func(bearer string) *Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMe = fn
}

// Revoke makes the me endpoint reject token.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.valid, token)
}

func (b *Backend) LastLogout() *oauth2.LogoutRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLogout
}

func (b *Backend) LastRefresh() *oauth2.RefreshRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefresh
}

func (b *Backend) wait(r *http.Request) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-r.Context().Done():
	}
}

// Issue returns a fresh successful token reply.
func (b *Backend) Issue() *Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	access := fmt.Sprintf("tok%d", b.seq)
	refresh := fmt.Sprintf("ref%d", b.seq)
	b.valid[access] = true

	user := DefaultUser
	tenant := DefaultTenant
	resp := oauth2.TokenResponse{
		AccessToken: utils.Ptr(access),
		TokenType:   "bearer",
		ExpiresIn:   b.expiresIn,
		User:        &user,
		Tenant:      &tenant,
		Permissions: DefaultPermissions,
	}
	if !b.omitRefresh {
		resp.RefreshToken = utils.Ptr(refresh)
	}
	reply := &Reply{Status: http.StatusOK, Body: resp}
	if b.setCookies {
		reply.Cookies = []*http.Cookie{
			{Name: "access_token", Value: access, Path: "/", HttpOnly: true},
			{Name: "refresh_token", Value: refresh, Path: "/", HttpOnly: true},
		}
	}
	return reply
}

// Error builds an OAuth error reply.
func Error(status int, code, description string) *Reply {
	return &Reply{Status: status, Body: oauth2.ErrorResponse{Error: code, ErrorDescription: description}}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	b.LoginCalls.Add(1)
	var req oauth2.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		write(w, Error(http.StatusBadRequest, "invalid_request", err.Error()))
		return
	}
	b.wait(r)
	b.mu.Lock()
	fn := b.onLogin
	b.mu.Unlock()
	if fn != nil {
		if reply := fn(req); reply != nil {
			write(w, reply)
			return
		}
	}
	if req.Code == "" {
		write(w, Error(http.StatusBadRequest, "invalid_grant", "missing code"))
		return
	}
	write(w, b.Issue())
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)
	var req oauth2.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken == nil {
		if c, err := r.Cookie("refresh_token"); err == nil {
			req.RefreshToken = utils.Ptr(c.Value)
		}
	}
	b.mu.Lock()
	b.lastRefresh = &req
	fn := b.onRefresh
	b.mu.Unlock()
	b.wait(r)
	if fn != nil {
		if reply := fn(req); reply != nil {
			write(w, reply)
			return
		}
	}
	if utils.Value(req.RefreshToken) == "" {
		write(w, Error(http.StatusUnauthorized, "invalid_grant", "missing refresh token"))
		return
	}
	write(w, b.Issue())
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.LogoutCalls.Add(1)
	var req oauth2.LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.lastLogout = &req
	fn := b.onLogout
	if bearer := bearerToken(r); bearer != "" {
		delete(b.valid, bearer)
	}
	b.mu.Unlock()
	if fn != nil {
		if reply := fn(req); reply != nil {
			write(w, reply)
			return
		}
	}
	write(w, &Reply{
		Status: http.StatusNoContent,
		Cookies: []*http.Cookie{
			{Name: "access_token", Value: "", Path: "/", MaxAge: -1},
			{Name: "refresh_token", Value: "", Path: "/", MaxAge: -1},
		},
	})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	b.MeCalls.Add(1)
	bearer := bearerToken(r)
	b.mu.Lock()
	fn := b.onMe
	ok := b.valid[bearer]
	b.mu.Unlock()
	if fn != nil {
		if reply := fn(bearer); reply != nil {
			write(w, reply)
			return
		}
	}
	if !ok {
		write(w, Error(http.StatusUnauthorized, "invalid_token", "token rejected"))
		return
	}
	user := DefaultUser
	tenant := DefaultTenant
	write(w, &Reply{Status: http.StatusOK, Body: oauth2.UserInfoResponse{
		User:        &user,
		Tenant:      &tenant,
		Permissions: DefaultPermissions,
	}})
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func write(w http.ResponseWriter, reply *Reply) {
	for _, c := range reply.Cookies {
		http.SetCookie(w, c)
	}
	for k, vs := range reply.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply.Body)
}
