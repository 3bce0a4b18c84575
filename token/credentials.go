package token

import (
	"fmt"
	"strings"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
)

// OpaqueRefreshToken stands in for a refresh token that exists only as a
// protected cookie: present, but not readable by the client.
const OpaqueRefreshToken = "__cookie__"

// DefaultTokenType is assumed when the backend omits token_type.
const DefaultTokenType = "Bearer"

// Credentials are the tokens of one session.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshTokenOpaque reports whether the refresh token is only held as a protected cookie.
func (c Credentials) RefreshTokenOpaque() bool {
	return c.RefreshToken == OpaqueRefreshToken
}

// ExplicitRefreshToken returns the refresh token when the client can read it.
func (c Credentials) ExplicitRefreshToken() (string, bool) {
	if c.RefreshToken == "" || c.RefreshTokenOpaque() {
		return "", false
	}
	return c.RefreshToken, true
}

// Validate enforces that neither token is empty. Whitespace-only counts as empty.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("[Credentials Validate] access %w", autherrors.ErrEmptyToken)
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		return fmt.Errorf("[Credentials Validate] refresh %w", autherrors.ErrEmptyToken)
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("[Credentials Validate] %w: missing expiry", autherrors.ErrInvalidRequest)
	}
	return nil
}

// Bundle is everything a successful login or refresh yields.
type Bundle struct {
	Credentials
	User        *users.Profile     `json:"user,omitempty"`
	Tenant      *tenants.Tenant    `json:"tenant,omitempty"`
	Permissions []users.Permission `json:"permissions,omitempty"`
	IDToken     string             `json:"-"`
	Grant       oauth2.GrantType   `json:"-"`
}

// Options tune how a response is turned into a bundle.
type Options struct {
	// Grant is recorded on the bundle.
	Grant oauth2.GrantType
	// FallbackRefreshToken is used when the response carries no refresh token,
	// e.g. the previous token or OpaqueRefreshToken when the backend rotates it by cookie.
	FallbackRefreshToken string
	// RefreshCookiePresent marks a missing refresh token as opaque instead of empty.
	RefreshCookiePresent bool
}

// FromResponse converts a token response into a bundle issued at now.
// It never produces a bundle with an empty access or refresh token.
func FromResponse(resp *oauth2.TokenResponse, now time.Time, opts Options) (*Bundle, error) {
	if resp == nil {
		return nil, fmt.Errorf("[token FromResponse] %w: empty response", autherrors.ErrAuthFailed)
	}

	access := utils.Value(resp.AccessToken)
	if strings.TrimSpace(access) == "" {
		return nil, fmt.Errorf("[token FromResponse] access %w", autherrors.ErrEmptyToken)
	}

	refresh := utils.Value(resp.RefreshToken)
	if resp.RefreshToken == nil {
		switch {
		case opts.FallbackRefreshToken != "":
			refresh = opts.FallbackRefreshToken
		case opts.RefreshCookiePresent:
			refresh = OpaqueRefreshToken
		}
	}
	if strings.TrimSpace(refresh) == "" {
		return nil, fmt.Errorf("[token FromResponse] refresh %w", autherrors.ErrEmptyToken)
	}

	expiresAt, err := expiry(access, resp.ExpiresIn, now)
	if err != nil {
		return nil, err
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}

	b := &Bundle{
		Credentials: Credentials{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    tokenType,
			ExpiresAt:    expiresAt,
		},
		Tenant:      resp.Tenant,
		Permissions: resp.Permissions,
		IDToken:     utils.Value(resp.IdToken),
		Grant:       opts.Grant,
	}
	if resp.User != nil {
		u := resp.User.WithPermissions(resp.Permissions)
		b.User = &u
	}
	return b, nil
}

func expiry(access string, expiresIn int, now time.Time) (time.Time, error) {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second), nil
	}
	exp, ok := ExpiryFromJWT(access)
	if !ok {
		return time.Time{}, fmt.Errorf("[token FromResponse] %w: no expires_in and no exp claim", autherrors.ErrAuthFailed)
	}
	if !exp.After(now) {
		return time.Time{}, fmt.Errorf("[token FromResponse] %w: access token already expired", autherrors.ErrAuthFailed)
	}
	return exp, nil
}

// IsOpaque reports whether a refresh token value is the cookie placeholder.
func IsOpaque(refreshToken string) bool {
	return refreshToken == OpaqueRefreshToken
}
