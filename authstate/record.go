// Package authstate keeps the whole session in one versioned record that is
// written as a single transaction, and migrates the scattered legacy keys into it.
package authstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog/log"
)

// Version is the schema tag of records written by this package.
const Version = "2"

type Record struct {
	Version     string             `json:"version"`
	Credentials token.Credentials  `json:"credentials"`
	User        *users.Profile     `json:"user,omitempty"`
	Tenant      *tenants.Tenant    `json:"tenant,omitempty"`
	Permissions []users.Permission `json:"permissions,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at"`
	PersistedAt time.Time          `json:"persisted_at"`
}

// FromBundle builds a record from a login or refresh result.
func FromBundle(b *token.Bundle) Record {
	return Record{
		Credentials: b.Credentials,
		User:        b.User,
		Tenant:      b.Tenant,
		Permissions: b.Permissions,
		ExpiresAt:   b.ExpiresAt,
	}
}

// Validate checks the record is internally consistent.
func (r Record) Validate() error {
	if err := r.Credentials.Validate(); err != nil {
		return err
	}
	if !r.ExpiresAt.Equal(r.Credentials.ExpiresAt) {
		return fmt.Errorf("%w: expiry does not match credentials", autherrors.ErrCorruptRecord)
	}
	if r.User != nil {
		if err := r.User.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Repo stores the record under storage.LocalAuthState.
type Repo struct {
	local storage.Store
	now   func() time.Time
}

func NewRepo(local storage.Store) *Repo {
	return &Repo{local: local, now: token.NowTimeFunc}
}

// WithClock returns a copy of the repo using now for PersistedAt.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	cp := *r
	cp.now = now
	return &cp
}

// Save writes rec in one transaction: write, read back, compare.
// On any failure the record is removed so it is either complete or absent.
func (r *Repo) Save(ctx context.Context, rec Record) error {
	rec.Version = Version
	rec.PersistedAt = r.now().UTC()
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = rec.Credentials.ExpiresAt
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("[authstate Save] %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("[authstate Save] encode: %w", err)
	}

	if err := r.local.Set(ctx, storage.LocalAuthState, string(data)); err != nil {
		r.rollback(ctx)
		return fmt.Errorf("[authstate Save] %w: %w", autherrors.ErrStorageIntegrity, err)
	}
	stored, err := r.local.Get(ctx, storage.LocalAuthState)
	if err != nil || stored != string(data) {
		r.rollback(ctx)
		return fmt.Errorf("[authstate Save] %w: read back does not match", autherrors.ErrStorageIntegrity)
	}
	return nil
}

func (r *Repo) rollback(ctx context.Context) {
	if err := r.local.Delete(ctx, storage.LocalAuthState); err != nil {
		log.Error().Err(err).Msg("rollback of auth state failed")
	}
}

// Load returns the stored record. Absent records yield storage.ErrNotFound.
// Corrupt or foreign-version records are deleted.
func (r *Repo) Load(ctx context.Context) (*Record, error) {
	raw, err := r.local.Get(ctx, storage.LocalAuthState)
	if err != nil {
		return nil, fmt.Errorf("[authstate Load] %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.rollback(ctx)
		return nil, fmt.Errorf("[authstate Load] %w: %w", autherrors.ErrCorruptRecord, err)
	}
	if rec.Version != Version {
		r.rollback(ctx)
		return nil, fmt.Errorf("[authstate Load] %w: got version %q, want %q", autherrors.ErrSchemaMismatch, rec.Version, Version)
	}
	if err := rec.Validate(); err != nil {
		r.rollback(ctx)
		return nil, fmt.Errorf("[authstate Load] %w: %w", autherrors.ErrCorruptRecord, err)
	}
	return &rec, nil
}

// Credentials returns the credentials of the stored record. Load failures read as absent.
func (r *Repo) Credentials(ctx context.Context) (token.Credentials, bool) {
	rec, err := r.Load(ctx)
	if err != nil {
		if !autherrors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("discarded unified auth state")
		}
		return token.Credentials{}, false
	}
	return rec.Credentials, true
}

func (r *Repo) Clear(ctx context.Context) error {
	if err := r.local.Delete(ctx, storage.LocalAuthState); err != nil && !autherrors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("[authstate Clear] %w", err)
	}
	return nil
}
