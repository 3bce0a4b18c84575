// Package authapi talks to the backend auth API: code exchange, refresh,
// logout and the current-user endpoint.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Endpoint paths relative to the API base URL
const (
	RouteLogin   = "/auth/login"
	RouteRefresh = "/auth/refresh"
	RouteLogout  = "/auth/logout"
	RouteMe      = "/auth/me"

	HeaderRequestID = "X-Request-ID"
)

const maxBody = 1 << 20

// Client calls the backend auth API. Cookies set by the backend land in the
// client's jar, which the cookie store reads.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithJar shares a cookie jar with the default HTTP client.
func WithJar(jar http.CookieJar) Option {
	return func(cl *Client) {
		cl.httpClient.Jar = jar
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Login exchanges an authorization code for tokens.
func (c *Client) Login(ctx context.Context, req oauth2.LoginRequest) (*oauth2.TokenResponse, error) {
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.RedirectURI) == "" {
		return nil, fmt.Errorf("[authapi Login] %w: code and redirect_uri are required", autherrors.ErrInvalidRequest)
	}
	var resp oauth2.TokenResponse
	if err := c.do(ctx, "[authapi Login]", http.MethodPost, RouteLogin, "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh obtains new tokens. Without an explicit refresh token the refresh cookie
// in the jar authenticates the call.
func (c *Client) Refresh(ctx context.Context, req oauth2.RefreshRequest) (*oauth2.TokenResponse, error) {
	var resp oauth2.TokenResponse
	if err := c.do(ctx, "[authapi Refresh]", http.MethodPost, RouteRefresh, "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout invalidates the session server side.
func (c *Client) Logout(ctx context.Context, accessToken string, req oauth2.LogoutRequest) error {
	return c.do(ctx, "[authapi Logout]", http.MethodPost, RouteLogout, accessToken, req, nil)
}

// CurrentUser fetches the profile of the token's user. A rejected token yields ErrUnauthorized.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*oauth2.UserInfoResponse, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("[authapi CurrentUser] %w", autherrors.ErrNotAuthenticated)
	}
	var resp oauth2.UserInfoResponse
	if err := c.do(ctx, "[authapi CurrentUser]", http.MethodGet, RouteMe, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("[authapi CurrentUser] %w: response has no user", autherrors.ErrAuthFailed)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, route, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, body)
	if err != nil {
		return fmt.Errorf("%s build request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("request_id", requestID).Str("route", route).Msg("auth api request failed")
		return networkError(op, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("route", route).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("auth api")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(op, resp, bearer != "")
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("%s %w: decode response: %w", op, autherrors.ErrAuthFailed, err)
	}
	return nil
}
