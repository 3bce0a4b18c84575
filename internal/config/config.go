package config

import "github.com/jrsteele09/go-auth-client/environment"

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
	OIDCConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetAppURL() string
	GetEnvironment() environment.Mode
	GetLoginURL() string
	GetCallbackAddr() string
	GetRedirectURI() string
}

type mainConfig struct {
	EnvVars
	Session
	Storage
	OIDC
}

func New() Config {
	return mainConfig{}
}
