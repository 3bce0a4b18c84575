package config

import "time"

type SessionConfig interface {
	GetRefreshThreshold() time.Duration
	GetSessionBackupMaxAge() time.Duration
	GetCookiePollAttempts() int
	GetCookiePollInterval() time.Duration
	GetProcessedCodeTTL() time.Duration
	GetProcessedCodeLimit() int
	GetAuthFlowMaxAge() time.Duration
	GetRequestTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshThreshold is the remaining lifetime below which tokens are refreshed.
func (Session) GetRefreshThreshold() time.Duration {
	return GetDurationEnv("AUTH_REFRESH_THRESHOLD", 5*time.Minute)
}

// GetSessionBackupMaxAge is the freshness ceiling of the session-scoped token backup.
func (Session) GetSessionBackupMaxAge() time.Duration {
	return GetDurationEnv("AUTH_SESSION_BACKUP_MAX_AGE", time.Hour)
}

func (Session) GetCookiePollAttempts() int {
	return GetIntEnv("AUTH_COOKIE_POLL_ATTEMPTS", 10)
}

func (Session) GetCookiePollInterval() time.Duration {
	return GetDurationEnv("AUTH_COOKIE_POLL_INTERVAL", 500*time.Millisecond)
}

func (Session) GetProcessedCodeTTL() time.Duration {
	return GetDurationEnv("AUTH_PROCESSED_CODE_TTL", 5*time.Minute)
}

func (Session) GetProcessedCodeLimit() int {
	return GetIntEnv("AUTH_PROCESSED_CODE_LIMIT", 100)
}

func (Session) GetAuthFlowMaxAge() time.Duration {
	return GetDurationEnv("AUTH_FLOW_MAX_AGE", 15*time.Minute)
}

func (Session) GetRequestTimeout() time.Duration {
	return GetDurationEnv("AUTH_REQUEST_TIMEOUT", 30*time.Second)
}
