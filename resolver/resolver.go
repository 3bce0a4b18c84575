// Package resolver decides where session data is written and in which order it
// is read back, depending on the environment the client serves.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-client/environment"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// UnifiedSource is the optional versioned auth-state record, read before every other store.
type UnifiedSource interface {
	Credentials(ctx context.Context) (token.Credentials, bool)
}

type Config struct {
	Mode environment.Mode
	// SessionBackupMaxAge is the age after which the session backup is discarded.
	SessionBackupMaxAge time.Duration
	CookiePollAttempts  int
	CookiePollInterval  time.Duration
}

func DefaultConfig(mode environment.Mode) Config {
	return Config{
		Mode:                mode,
		SessionBackupMaxAge: time.Hour,
		CookiePollAttempts:  10,
		CookiePollInterval:  500 * time.Millisecond,
	}
}

type Resolver struct {
	stores  storage.Set
	cfg     Config
	now     func() time.Time
	metrics *metrics.Recorder

	mu      sync.RWMutex
	unified UnifiedSource

	// set when the cookie never became readable in production
	cookiesUnusable atomic.Bool
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithUnified(u UnifiedSource) Option {
	return func(r *Resolver) {
		r.unified = u
	}
}

func New(stores storage.Set, cfg Config, options ...Option) *Resolver {
	def := DefaultConfig(cfg.Mode)
	if cfg.SessionBackupMaxAge <= 0 {
		cfg.SessionBackupMaxAge = def.SessionBackupMaxAge
	}
	if cfg.CookiePollAttempts <= 0 {
		cfg.CookiePollAttempts = def.CookiePollAttempts
	}
	if cfg.CookiePollInterval <= 0 {
		cfg.CookiePollInterval = def.CookiePollInterval
	}
	r := &Resolver{
		stores: stores,
		cfg:    cfg,
		now:    token.NowTimeFunc,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Mode returns the environment the resolver was configured for.
func (r *Resolver) Mode() environment.Mode {
	return r.cfg.Mode
}

func (r *Resolver) Stores() storage.Set {
	return r.stores
}

// SetUnified enables (non-nil) or disables (nil) the unified record as first read source.
func (r *Resolver) SetUnified(u UnifiedSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unified = u
}

func (r *Resolver) unifiedSource() UnifiedSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unified
}

// CookiesUnusable reports whether local storage is being used as a last resort in production.
func (r *Resolver) CookiesUnusable() bool {
	return r.cookiesUnusable.Load()
}

func (r *Resolver) production() bool {
	return r.cfg.Mode.IsProductionStorage()
}

type sessionBackup struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

type write struct {
	key   storage.Key
	value string
	// delete instead of set
	remove bool
}

// StoreTokens runs the write path for freshly issued credentials.
//
// Nothing is written when the credentials are invalid. When any write fails,
// every key of this write is removed again and ErrStorageIntegrity is returned.
func (r *Resolver) StoreTokens(ctx context.Context, creds token.Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("[Resolver StoreTokens] %w", err)
	}

	backup, err := json.Marshal(sessionBackup{Token: creds.AccessToken, SavedAt: r.now()})
	if err != nil {
		return fmt.Errorf("[Resolver StoreTokens] encode backup: %w", err)
	}

	refresh, explicit := creds.ExplicitRefreshToken()
	writes := []write{
		{key: storage.Key{Store: storage.Memory, Key: storage.MemoryAccessToken}, value: creds.AccessToken},
		{key: storage.Key{Store: storage.Session, Key: storage.SessionTokenBackup}, value: string(backup)},
	}
	if explicit {
		writes = append(writes, write{key: storage.Key{Store: storage.Memory, Key: storage.MemoryRefreshToken}, value: refresh})
	}

	localAccess := storage.Key{Store: storage.Local, Key: storage.LocalAccessToken}
	localRefresh := storage.Key{Store: storage.Local, Key: storage.LocalRefreshToken}
	if r.production() {
		writes = append(writes, write{key: localAccess, remove: true}, write{key: localRefresh, remove: true})
	} else {
		writes = append(writes, write{key: localAccess, value: creds.AccessToken})
		if explicit {
			writes = append(writes, write{key: localRefresh, value: refresh})
		}
	}
	writes = append(writes, write{
		key:   storage.Key{Store: storage.Local, Key: storage.LocalTokenExpiresAt},
		value: creds.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})

	if err := r.apply(ctx, writes); err != nil {
		return fmt.Errorf("[Resolver StoreTokens] %w: %w", autherrors.ErrStorageIntegrity, err)
	}
	log.Debug().
		Str("mode", r.cfg.Mode.String()).
		Bool("refresh_opaque", creds.RefreshTokenOpaque()).
		Time("expires_at", creds.ExpiresAt).
		Msg("tokens stored")
	return nil
}

// apply performs writes in order and removes every written key if one fails.
func (r *Resolver) apply(ctx context.Context, writes []write) error {
	var done []storage.Key
	for _, w := range writes {
		st := r.stores.Store(w.key.Store)
		if st == nil {
			continue
		}
		var err error
		if w.remove {
			err = st.Delete(ctx, w.key.Key)
		} else {
			err = st.Set(ctx, w.key.Key, w.value)
			done = append(done, w.key)
		}
		if err != nil && !(w.remove && autherrors.Is(err, storage.ErrNotFound)) {
			if rbErr := storage.DeleteAll(ctx, r.stores, done); rbErr != nil {
				log.Error().Err(rbErr).Msg("rollback of partial write failed")
			}
			return fmt.Errorf("%s/%s: %w", w.key.Store, w.key.Key, err)
		}
	}
	return nil
}

// Clear removes every session key from every store.
func (r *Resolver) Clear(ctx context.Context) error {
	r.cookiesUnusable.Store(false)
	if err := storage.DeleteAll(ctx, r.stores, storage.SessionKeys); err != nil {
		return fmt.Errorf("[Resolver Clear] %w", err)
	}
	return nil
}

// ExpiresAt returns the stored expiry of the access token.
func (r *Resolver) ExpiresAt(ctx context.Context) (time.Time, bool) {
	if u := r.unifiedSource(); u != nil {
		if creds, ok := u.Credentials(ctx); ok {
			return creds.ExpiresAt, true
		}
	}
	v, ok := storage.Lookup(ctx, r.stores.Local, storage.LocalTokenExpiresAt)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable token expiry")
		_ = r.stores.Local.Delete(ctx, storage.LocalTokenExpiresAt)
		return time.Time{}, false
	}
	return t, true
}

// Credentials assembles the current credentials from the read chains.
func (r *Resolver) Credentials(ctx context.Context) (token.Credentials, bool) {
	access, src := r.AccessToken(ctx)
	if src == None {
		return token.Credentials{}, false
	}
	refresh, _ := r.RefreshToken(ctx)
	expiresAt, _ := r.ExpiresAt(ctx)
	return token.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    token.DefaultTokenType,
		ExpiresAt:    expiresAt,
	}, true
}
