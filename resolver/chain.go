package resolver

import (
	"context"
	"encoding/json"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// Source names the store a value was read from.
type Source string

const (
	None    Source = ""
	Unified Source = Source(storage.Unified)
	Cookie  Source = Source(storage.Cookie)
	Memory  Source = Source(storage.Memory)
	Session Source = Source(storage.Session)
	Local   Source = Source(storage.Local)
)

// strategy reads one candidate value. It reports false when its store has
// nothing usable for the resolver's environment.
type strategy struct {
	source Source
	read   func(ctx context.Context, r *Resolver) (string, bool)
}

// Evaluated in order, first hit wins.
var accessTokenChain = []strategy{
	{Unified, unifiedAccessToken},
	{Cookie, cookieValue(storage.CookieAccessToken)},
	{Memory, memoryValue(storage.MemoryAccessToken)},
	{Session, sessionBackupToken},
	{Local, localValue(storage.LocalAccessToken)},
}

var refreshTokenChain = []strategy{
	{Unified, unifiedRefreshToken},
	{Cookie, opaqueCookie(storage.CookieRefreshToken)},
	{Memory, memoryValue(storage.MemoryRefreshToken)},
	{Local, localValue(storage.LocalRefreshToken)},
}

// AccessToken walks the read chain and returns the first token found with its source.
func (r *Resolver) AccessToken(ctx context.Context) (string, Source) {
	v, src := r.walk(ctx, accessTokenChain)
	r.metrics.TokenRead(string(src))
	return v, src
}

// RefreshToken walks the refresh chain. A refresh cookie is reported as
// token.OpaqueRefreshToken: the HTTP client sends it, the caller never needs its value.
func (r *Resolver) RefreshToken(ctx context.Context) (string, Source) {
	return r.walk(ctx, refreshTokenChain)
}

func (r *Resolver) walk(ctx context.Context, chain []strategy) (string, Source) {
	for _, s := range chain {
		if v, ok := s.read(ctx, r); ok {
			return v, s.source
		}
	}
	return "", None
}

func unifiedAccessToken(ctx context.Context, r *Resolver) (string, bool) {
	u := r.unifiedSource()
	if u == nil {
		return "", false
	}
	creds, ok := u.Credentials(ctx)
	return creds.AccessToken, ok && creds.AccessToken != ""
}

func unifiedRefreshToken(ctx context.Context, r *Resolver) (string, bool) {
	u := r.unifiedSource()
	if u == nil {
		return "", false
	}
	creds, ok := u.Credentials(ctx)
	return creds.RefreshToken, ok && creds.RefreshToken != ""
}

func cookieValue(key string) func(context.Context, *Resolver) (string, bool) {
	return func(ctx context.Context, r *Resolver) (string, bool) {
		return storage.Lookup(ctx, r.stores.Cookie, key)
	}
}

func opaqueCookie(key string) func(context.Context, *Resolver) (string, bool) {
	return func(ctx context.Context, r *Resolver) (string, bool) {
		if _, ok := storage.Lookup(ctx, r.stores.Cookie, key); !ok {
			return "", false
		}
		return token.OpaqueRefreshToken, true
	}
}

func memoryValue(key string) func(context.Context, *Resolver) (string, bool) {
	return func(ctx context.Context, r *Resolver) (string, bool) {
		return storage.Lookup(ctx, r.stores.Memory, key)
	}
}

// localValue only serves outside production, or in production once cookies proved unusable.
func localValue(key string) func(context.Context, *Resolver) (string, bool) {
	return func(ctx context.Context, r *Resolver) (string, bool) {
		if r.production() && !r.CookiesUnusable() {
			return "", false
		}
		return storage.Lookup(ctx, r.stores.Local, key)
	}
}

// sessionBackupToken serves the backup while it is younger than SessionBackupMaxAge.
// Stale or unreadable backups are deleted.
func sessionBackupToken(ctx context.Context, r *Resolver) (string, bool) {
	raw, ok := storage.Lookup(ctx, r.stores.Session, storage.SessionTokenBackup)
	if !ok {
		return "", false
	}
	var b sessionBackup
	if err := json.Unmarshal([]byte(raw), &b); err != nil || b.Token == "" {
		log.Warn().Err(err).Msg("discarding corrupt session token backup")
		r.discardBackup(ctx)
		return "", false
	}
	if r.now().Sub(b.SavedAt) >= r.cfg.SessionBackupMaxAge {
		log.Debug().Time("saved_at", b.SavedAt).Msg("discarding stale session token backup")
		r.discardBackup(ctx)
		return "", false
	}
	return b.Token, true
}

func (r *Resolver) discardBackup(ctx context.Context) {
	if err := r.stores.Session.Delete(ctx, storage.SessionTokenBackup); err != nil {
		log.Warn().Err(err).Msg("delete session token backup")
	}
}
