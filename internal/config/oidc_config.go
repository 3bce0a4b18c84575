package config

const (
	AuthModeBackend = "backend"
	AuthModeDirect  = "direct"
)

type OIDCConfig interface {
	GetAuthMode() string
	GetOIDCIssuer() string
	GetOIDCAuthURL() string
	GetOIDCTokenURL() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
	GetOIDCScopes() []string
}

type OIDC struct{}

var _ OIDCConfig = OIDC{}

// GetAuthMode selects who exchanges codes: the app backend ("backend") or the
// identity provider itself ("direct", requires OIDC_ISSUER).
func (OIDC) GetAuthMode() string {
	return GetEnv("AUTH_MODE", AuthModeBackend)
}

// GetOIDCIssuer returns the identity provider issuer. Empty disables id_token
// verification and direct provider mode.
func (OIDC) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OIDC) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (OIDC) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (OIDC) GetOIDCScopes() []string {
	if scopes := GetListEnv("OIDC_SCOPES"); len(scopes) > 0 {
		return scopes
	}
	return []string{"openid", "profile", "email", "offline_access"}
}

// GetOIDCAuthURL is the authorization endpoint used when no issuer is configured
// for discovery.
func (OIDC) GetOIDCAuthURL() string {
	return GetEnv("OIDC_AUTH_URL", "")
}

func (OIDC) GetOIDCTokenURL() string {
	return GetEnv("OIDC_TOKEN_URL", "")
}
