package authstate

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// Legacy reads the scattered-key session model.
type Legacy interface {
	Credentials(ctx context.Context) (token.Credentials, bool)
	LoadProfile(ctx context.Context) (resolver.Profile, bool, error)
}

// LegacyKeys are removed once their data lives in the unified record.
// Cookies belong to the backend and are left alone.
var LegacyKeys = []storage.Key{
	{Store: storage.Session, Key: storage.SessionTokenBackup},
	{Store: storage.Local, Key: storage.LocalCurrentUser},
	{Store: storage.Local, Key: storage.LocalTenantInfo},
	{Store: storage.Local, Key: storage.LocalUserPermissions},
	{Store: storage.Local, Key: storage.LocalTokenExpiresAt},
	{Store: storage.Local, Key: storage.LocalAccessToken},
	{Store: storage.Local, Key: storage.LocalRefreshToken},
}

type Result string

const (
	AlreadyMigrated Result = "already_migrated"
	NoLegacyData    Result = "no_legacy_data"
	Migrated        Result = "migrated"
)

type Migrator struct {
	repo    *Repo
	legacy  Legacy
	stores  storage.Set
	metrics *metrics.Recorder
}

func NewMigrator(repo *Repo, legacy Legacy, stores storage.Set, m *metrics.Recorder) *Migrator {
	return &Migrator{repo: repo, legacy: legacy, stores: stores, metrics: m}
}

// Migrated reports whether the one-way migration already ran.
func (m *Migrator) Migrated(ctx context.Context) bool {
	_, ok := storage.Lookup(ctx, m.stores.Local, storage.LocalAuthStateMigrated)
	return ok
}

// Migrate moves legacy session data into the unified record once.
// Legacy keys are only deleted after the record is confirmed written.
func (m *Migrator) Migrate(ctx context.Context) (Result, error) {
	if m.Migrated(ctx) {
		return AlreadyMigrated, nil
	}

	creds, ok := m.legacy.Credentials(ctx)
	if !ok || creds.Validate() != nil {
		if err := m.markDone(ctx); err != nil {
			m.metrics.Migration("error")
			return "", err
		}
		m.metrics.Migration(string(NoLegacyData))
		return NoLegacyData, nil
	}

	rec := Record{Credentials: creds, ExpiresAt: creds.ExpiresAt}
	profile, found, err := m.legacy.LoadProfile(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("migrating credentials without inconsistent profile")
	}
	if found {
		rec.User = profile.User
		rec.Tenant = profile.Tenant
		rec.Permissions = profile.Permissions
	}

	if err := m.repo.Save(ctx, rec); err != nil {
		m.metrics.Migration("error")
		return "", fmt.Errorf("[Migrator Migrate] legacy data kept: %w", err)
	}
	if _, err := m.repo.Load(ctx); err != nil {
		m.metrics.Migration("error")
		return "", fmt.Errorf("[Migrator Migrate] legacy data kept: %w", err)
	}

	if err := storage.DeleteAll(ctx, m.stores, LegacyKeys); err != nil {
		log.Warn().Err(err).Msg("some legacy keys could not be removed")
	}
	if err := m.markDone(ctx); err != nil {
		m.metrics.Migration("error")
		return "", err
	}
	m.metrics.Migration(string(Migrated))
	log.Info().Msg("legacy auth state migrated")
	return Migrated, nil
}

func (m *Migrator) markDone(ctx context.Context) error {
	if err := m.stores.Local.Set(ctx, storage.LocalAuthStateMigrated, "true"); err != nil {
		return fmt.Errorf("[Migrator Migrate] set marker: %w", err)
	}
	return nil
}
