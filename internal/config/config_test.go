package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/environment"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	config.ResetFile()
	cfg := config.New()

	require.Equal(t, 5*time.Minute, cfg.GetRefreshThreshold())
	require.Equal(t, time.Hour, cfg.GetSessionBackupMaxAge())
	require.Equal(t, 10, cfg.GetCookiePollAttempts())
	require.Equal(t, 500*time.Millisecond, cfg.GetCookiePollInterval())
	require.Equal(t, config.LocalStoreFile, cfg.GetLocalStore())
	_, set := cfg.GetUnifiedStateOverride()
	require.False(t, set)
	require.Equal(t, config.AuthModeBackend, cfg.GetAuthMode())
	require.Equal(t, []string{"openid", "profile", "email", "offline_access"}, cfg.GetOIDCScopes())

	t.Setenv("OIDC_SCOPES", "openid, email")
	require.Equal(t, []string{"openid", "email"}, cfg.GetOIDCScopes())

	dir := t.TempDir()
	t.Setenv("AUTH_STATE_DIR", dir)
	require.Equal(t, dir, cfg.GetStateDir())
}

func TestEnvironment(t *testing.T) {
	config.ResetFile()
	cfg := config.New()

	t.Setenv("AUTH_APP_URL", "https://app.example.com")
	require.Equal(t, environment.Production, cfg.GetEnvironment())

	t.Setenv("AUTH_STAGING_HOSTS", "app.example.com")
	require.Equal(t, environment.Staging, cfg.GetEnvironment())

	t.Setenv("AUTH_ENVIRONMENT", "dev")
	require.Equal(t, environment.Development, cfg.GetEnvironment())

	t.Setenv("AUTH_ENVIRONMENT", "bogus")
	require.Equal(t, environment.Staging, cfg.GetEnvironment(), "invalid values fall back to detection")
}

func TestLoadFile(t *testing.T) {
	t.Cleanup(config.ResetFile)
	path := filepath.Join(t.TempDir(), "authctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
AUTH_API_BASE_URL: https://api.example.com/api/v1/
AUTH_COOKIE_POLL_ATTEMPTS: 3
AUTH_UNIFIED_STATE: true
`), 0o600))

	require.NoError(t, config.LoadFile(path))
	cfg := config.New()
	require.Equal(t, "https://api.example.com/api/v1", cfg.GetAPIBaseURL())
	require.Equal(t, 3, cfg.GetCookiePollAttempts())
	enabled, set := cfg.GetUnifiedStateOverride()
	require.True(t, set)
	require.True(t, enabled)

	t.Setenv("AUTH_COOKIE_POLL_ATTEMPTS", "7")
	require.Equal(t, 7, cfg.GetCookiePollAttempts(), "env wins over file")

	require.Error(t, config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestInvalidValuesFallBack(t *testing.T) {
	config.ResetFile()
	t.Setenv("AUTH_COOKIE_POLL_INTERVAL", "soon")
	t.Setenv("REDIS_DB", "x")
	cfg := config.New()
	require.Equal(t, 500*time.Millisecond, cfg.GetCookiePollInterval())
	require.Equal(t, 0, cfg.GetRedisDB())
}
