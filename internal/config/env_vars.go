package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/environment"
	"github.com/rs/zerolog/log"
)

const (
	appNameVar      = "APP_NAME"
	envVar          = "ENV"
	logLevelVar     = "LOG_LEVEL"
	apiBaseURLVar   = "AUTH_API_BASE_URL"
	appURLVar       = "AUTH_APP_URL"
	environmentVar  = "AUTH_ENVIRONMENT"
	stagingHostsVar = "AUTH_STAGING_HOSTS"
	devHostsVar     = "AUTH_DEV_HOSTS"
	loginURLVar     = "AUTH_LOGIN_URL"
	callbackAddrVar = "AUTH_CALLBACK_ADDR"
	redirectURIVar  = "AUTH_REDIRECT_URI"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "authctl")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "DEV")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetAPIBaseURL returns the backend auth API root, e.g. "https://api.example.com/api/v1".
func (EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, "http://localhost:8000/api/v1"), "/")
}

// GetAppURL returns the URL the application is served from. It drives environment
// detection and the atomic_auth query flag.
func (EnvVars) GetAppURL() string {
	return GetEnv(appURLVar, "http://localhost:3000")
}

// GetEnvironment returns AUTH_ENVIRONMENT when set, otherwise classifies GetAppURL.
func (e EnvVars) GetEnvironment() environment.Mode {
	if v := GetEnv(environmentVar, ""); v != "" {
		m, err := environment.Parse(v)
		if err == nil {
			return m
		}
		log.Warn().Err(err).Str("value", v).Msg("ignoring invalid " + environmentVar)
	}
	return environment.Classify(e.GetAppURL(), environment.Overrides{
		Staging:     GetListEnv(stagingHostsVar),
		Development: GetListEnv(devHostsVar),
	})
}

func (e EnvVars) GetLoginURL() string {
	return GetEnv(loginURLVar, strings.TrimRight(e.GetAppURL(), "/")+"/login")
}

func (EnvVars) GetCallbackAddr() string {
	return GetEnv(callbackAddrVar, "127.0.0.1:8085")
}

func (e EnvVars) GetRedirectURI() string {
	return GetEnv(redirectURIVar, "http://"+e.GetCallbackAddr()+"/callback")
}

// GetEnv returns the environment variable, then the value loaded from the config
// file, then defaultValue.
func GetEnv(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := fileValue(envVar); ok {
		return value
	}
	return defaultValue
}

func GetIntEnv(envVar string, defaultValue int) int {
	v := GetEnv(envVar, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Err(err).Str("var", envVar).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func GetBoolEnv(envVar string, defaultValue bool) bool {
	v := GetEnv(envVar, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Err(err).Str("var", envVar).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}

func GetDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	v := GetEnv(envVar, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Err(err).Str("var", envVar).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

// GetListEnv splits a comma separated value, dropping blanks.
func GetListEnv(envVar string) []string {
	var out []string
	for _, p := range strings.Split(GetEnv(envVar, ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
