package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// DefaultRefreshThreshold is how close to expiry a token is refreshed ahead of time.
const DefaultRefreshThreshold = 5 * time.Minute

// ExpiryFromJWT reads the exp claim of an access token without verifying it.
// The client cannot verify backend-signed tokens; the value is only a hint
// used when the backend omits expires_in.
func ExpiryFromJWT(raw string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Remaining returns how long the credentials stay valid at now. Negative when expired.
func (c Credentials) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Expired reports whether the access token has expired at now.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ShouldRefresh reports whether less than threshold remains at now.
func ShouldRefresh(expiresAt, now time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	return expiresAt.Sub(now) < threshold
}
