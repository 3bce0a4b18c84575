// Package storage defines the named stores session data can live in and the
// key layout shared by every component that reads or writes them.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned by Set when the store cannot take another value.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Store is a string key/value store.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Name identifies one of the stores of a Set.
type Name string

const (
	Cookie  Name = "cookie"
	Memory  Name = "memory"
	Session Name = "session"
	Local   Name = "local"
	Unified Name = "unified"
)

// Set groups the stores session data is spread over.
//
//   - Cookie:  cookies shared with the HTTP client; written by the backend.
//   - Memory:  temporary in-process slot for immediate use.
//   - Session: navigation-surviving backup with a bounded lifetime.
//   - Local:   durable storage that survives restarts.
type Set struct {
	Cookie  Store
	Memory  Store
	Session Store
	Local   Store
}

// Store returns the store registered under name, or nil.
func (s Set) Store(name Name) Store {
	switch name {
	case Cookie:
		return s.Cookie
	case Memory:
		return s.Memory
	case Session:
		return s.Session
	case Local:
		return s.Local
	default:
		return nil
	}
}

// Cookie keys
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
)

// Memory keys
const (
	MemoryAccessToken  = "access_token"
	MemoryRefreshToken = "refresh_token"
)

// Session keys
const (
	SessionTokenBackup = "auth_token_backup"
)

// Local keys
const (
	LocalCurrentUser     = "current_user"
	LocalTenantInfo      = "tenant_info"
	LocalUserPermissions = "user_permissions"
	LocalTokenExpiresAt  = "token_expires_at"

	// Legacy token keys, only written outside production
	LocalAccessToken  = "access_token"
	LocalRefreshToken = "refresh_token"

	// Unified record and its migration marker
	LocalAuthState         = "auth_state"
	LocalAuthStateMigrated = "auth_state_migrated"

	// Developer setting that enables the unified record
	LocalUnifiedStateFlag = "feature_atomic_auth"
)

// Key addresses one value in one store.
type Key struct {
	Store Name
	Key   string
}

// SessionKeys lists every key that holds session data, i.e. everything logout must clear.
// The migration marker and developer flag are settings, not session data.
var SessionKeys = []Key{
	{Cookie, CookieAccessToken},
	{Cookie, CookieRefreshToken},
	{Memory, MemoryAccessToken},
	{Memory, MemoryRefreshToken},
	{Session, SessionTokenBackup},
	{Local, LocalCurrentUser},
	{Local, LocalTenantInfo},
	{Local, LocalUserPermissions},
	{Local, LocalTokenExpiresAt},
	{Local, LocalAccessToken},
	{Local, LocalRefreshToken},
	{Local, LocalAuthState},
}

// Lookup reads key from store, treating a nil store like an empty one.
func Lookup(ctx context.Context, store Store, key string) (string, bool) {
	if store == nil {
		return "", false
	}
	v, err := store.Get(ctx, key)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// DeleteAll removes every key in keys from s and returns the errors joined.
func DeleteAll(ctx context.Context, s Set, keys []Key) error {
	var errs []error
	for _, k := range keys {
		st := s.Store(k.Store)
		if st == nil {
			continue
		}
		if err := st.Delete(ctx, k.Key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
