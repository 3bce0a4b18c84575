package authapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

// ProviderClient implements the auth API directly against an OIDC provider,
// for setups without a backend that brokers the exchange.
type ProviderClient struct {
	config   xoauth2.Config
	provider *oidc.Provider
	verifier *IDTokenVerifier
	now      func() time.Time
}

// NewProviderClient discovers issuer and configures the client.
func NewProviderClient(ctx context.Context, issuer, clientID, clientSecret string, scopes []string) (*ProviderClient, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[authapi NewProviderClient] discover %s: %w", issuer, err)
	}
	return &ProviderClient{
		config: xoauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		provider: provider,
		verifier: &IDTokenVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})},
		now:      time.Now,
	}, nil
}

// OAuth2Config returns the client configuration, e.g. to build authorization URLs.
func (p *ProviderClient) OAuth2Config() xoauth2.Config {
	return p.config
}

func (p *ProviderClient) Login(ctx context.Context, req oauth2.LoginRequest) (*oauth2.TokenResponse, error) {
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.RedirectURI) == "" {
		return nil, fmt.Errorf("[ProviderClient Login] %w: code and redirect_uri are required", autherrors.ErrInvalidRequest)
	}
	cfg := p.config
	cfg.RedirectURL = req.RedirectURI

	var opts []xoauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, xoauth2.VerifierOption(req.CodeVerifier))
	}
	tok, err := cfg.Exchange(ctx, req.Code, opts...)
	if err != nil {
		return nil, providerError("[ProviderClient Login]", err)
	}
	return p.tokenResponse(ctx, tok)
}

// Refresh needs an explicit refresh token; providers do not hold it in a cookie.
func (p *ProviderClient) Refresh(ctx context.Context, req oauth2.RefreshRequest) (*oauth2.TokenResponse, error) {
	refresh := utils.Value(req.RefreshToken)
	if refresh == "" {
		return nil, fmt.Errorf("[ProviderClient Refresh] %w: refresh token required", autherrors.ErrInvalidGrant)
	}
	// An expired token forces the source to refresh.
	src := p.config.TokenSource(ctx, &xoauth2.Token{RefreshToken: refresh, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return nil, providerError("[ProviderClient Refresh]", err)
	}
	if tok.RefreshToken == refresh {
		tok.RefreshToken = ""
	}
	return p.tokenResponse(ctx, tok)
}

// Logout has nothing to invalidate at the provider; tokens simply expire.
func (p *ProviderClient) Logout(context.Context, string, oauth2.LogoutRequest) error {
	log.Debug().Msg("provider mode: logout is local only")
	return nil
}

func (p *ProviderClient) CurrentUser(ctx context.Context, accessToken string) (*oauth2.UserInfoResponse, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("[ProviderClient CurrentUser] %w", autherrors.ErrNotAuthenticated)
	}
	info, err := p.provider.UserInfo(ctx, xoauth2.StaticTokenSource(&xoauth2.Token{AccessToken: accessToken}))
	if err != nil {
		if strings.HasPrefix(err.Error(), "401") {
			return nil, fmt.Errorf("[ProviderClient CurrentUser] %w: %w", autherrors.ErrUnauthorized, err)
		}
		return nil, networkError("[ProviderClient CurrentUser]", err)
	}
	var claims struct {
		Name  string `json:"name"`
		Roles any    `json:"roles"`
	}
	_ = info.Claims(&claims)
	return &oauth2.UserInfoResponse{User: &users.Profile{
		ID:    info.Subject,
		Email: info.Email,
		Name:  claims.Name,
		Role:  roleFromClaim(claims.Roles),
	}}, nil
}

func (p *ProviderClient) tokenResponse(ctx context.Context, tok *xoauth2.Token) (*oauth2.TokenResponse, error) {
	resp := &oauth2.TokenResponse{
		AccessToken: utils.Ptr(tok.AccessToken),
		TokenType:   tok.Type(),
	}
	if tok.RefreshToken != "" {
		resp.RefreshToken = utils.Ptr(tok.RefreshToken)
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int(tok.Expiry.Sub(p.now()).Seconds())
	}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		claims, err := p.verifier.Verify(ctx, raw, "", "")
		if err != nil {
			return nil, err
		}
		resp.IdToken = utils.Ptr(raw)
		resp.User = &users.Profile{ID: claims.Subject, Email: claims.Email, Name: claims.Name}
	}
	return resp, nil
}

// providerError maps a token endpoint failure onto the error categories.
func providerError(op string, err error) error {
	var re *xoauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &APIError{
			Op:          op,
			Status:      status,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			category:    classify(status, re.ErrorCode, false),
		}
	}
	return networkError(op, err)
}

// roleFromClaim picks the highest known role from a string or list claim.
func roleFromClaim(v any) users.RoleType {
	roles := utils.ClaimStrings(v)
	best := users.RoleType("")
	rank := map[users.RoleType]int{users.RoleViewer: 1, users.RoleAnalyst: 2, users.RoleAdmin: 3, users.RoleSuperAdmin: 4}
	for _, s := range roles {
		role := users.RoleType(strings.ToLower(s))
		if rank[role] > rank[best] {
			best = role
		}
	}
	return best
}
