package oauth2

import (
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
)

// TokenResponse represents the backend's reply to a login or refresh call.
// It follows the RFC 6749 token response and adds the session context the
// backend resolves for the user.
type TokenResponse struct {
	// AccessToken is the short-lived bearer credential.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken *string `json:"access_token,omitempty"`

	// RefreshToken is the long-lived credential used to obtain new access tokens.
	// May be absent when the backend only delivers it as a protected cookie.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// IdToken is the OpenID Connect ID token, present when the backend forwards it.
	IdToken *string `json:"id_token,omitempty"`

	// TokenType indicates how to use the access token (normally "bearer").
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Example: 3600
	ExpiresIn int `json:"expires_in,omitempty"`

	// User is the authenticated user's profile.
	User *users.Profile `json:"user,omitempty"`

	// Tenant is the organisation the session is bound to.
	Tenant *tenants.Tenant `json:"tenant,omitempty"`

	// Permissions lists the per-application grants of the user.
	Permissions []users.Permission `json:"permissions,omitempty"`
}

// ErrorResponse is the error body returned by the backend on non-2xx replies.
type ErrorResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

// Message returns the most descriptive text in the error body.
func (e ErrorResponse) Message() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Detail != "":
		return e.Detail
	default:
		return e.Error
	}
}

// UserInfoResponse is the reply of the current-user endpoint.
type UserInfoResponse struct {
	User        *users.Profile     `json:"user"`
	Tenant      *tenants.Tenant    `json:"tenant,omitempty"`
	Permissions []users.Permission `json:"permissions,omitempty"`
}
