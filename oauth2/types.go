package oauth2

// LoginRequest is the body of the authorization code exchange.
// Sent to: POST {api}/auth/login
type LoginRequest struct {
	// Code is the one-time authorization code issued by the identity provider.
	Code string `json:"code"`

	// RedirectURI must match the redirect_uri used in the original authorization request.
	RedirectURI string `json:"redirect_uri"`

	// State correlates the callback with the authorization request (CSRF protection).
	State string `json:"state,omitempty"`

	// CodeVerifier is the PKCE verifier, forwarded when the flow used a code challenge.
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// RefreshRequest is the body of a refresh call.
// RefreshToken is omitted when the refresh token only lives in a protected cookie.
type RefreshRequest struct {
	RefreshToken *string `json:"refresh_token,omitempty"`
}

// LogoutRequest is the body of a logout call.
type LogoutRequest struct {
	RefreshToken *string `json:"refresh_token,omitempty"`
	AllDevices   bool    `json:"all_devices"`
}

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	CodeMethodTypeS256 CodeMethodType = "S256"
)

// GrantType represents the OAuth 2.0 grant type a token was obtained with.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenCodeGrant exchanges a refresh token for new tokens.
	RefreshTokenCodeGrant GrantType = "refresh_token"
)
