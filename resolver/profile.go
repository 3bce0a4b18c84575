package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/tenants"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/rs/zerolog/log"
)

// Profile is the user data kept next to the credentials.
type Profile struct {
	User        *users.Profile
	Tenant      *tenants.Tenant
	Permissions []users.Permission
}

var profileKeys = []storage.Key{
	{Store: storage.Local, Key: storage.LocalCurrentUser},
	{Store: storage.Local, Key: storage.LocalTenantInfo},
	{Store: storage.Local, Key: storage.LocalUserPermissions},
}

// StoreProfile writes the user, tenant and permissions to local storage.
// A user with an elevated role and no permissions is rejected.
func (r *Resolver) StoreProfile(ctx context.Context, p Profile) error {
	if p.User != nil {
		u := p.User.WithPermissions(p.Permissions)
		if err := u.Validate(); err != nil {
			return fmt.Errorf("[Resolver StoreProfile] %w", err)
		}
		p.User = &u
		if len(p.Permissions) == 0 {
			p.Permissions = u.Permissions
		}
	}

	values := map[string]any{}
	if p.User != nil {
		values[storage.LocalCurrentUser] = p.User
	}
	if p.Tenant != nil {
		values[storage.LocalTenantInfo] = p.Tenant
	}
	if p.Permissions != nil {
		values[storage.LocalUserPermissions] = p.Permissions
	}

	var writes []write
	for _, k := range profileKeys {
		v, ok := values[k.Key]
		if !ok {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("[Resolver StoreProfile] encode %s: %w", k.Key, err)
		}
		writes = append(writes, write{key: k, value: string(data)})
	}
	if err := r.apply(ctx, writes); err != nil {
		return fmt.Errorf("[Resolver StoreProfile] %w: %w", autherrors.ErrStorageIntegrity, err)
	}
	return nil
}

// LoadProfile reads the stored user data. Corrupt entries are deleted and read as absent.
// A stored user failing validation clears the profile and returns the validation error.
func (r *Resolver) LoadProfile(ctx context.Context) (Profile, bool, error) {
	var p Profile
	found := false
	for _, k := range profileKeys {
		raw, ok := storage.Lookup(ctx, r.stores.Local, k.Key)
		if !ok {
			continue
		}
		var target any
		switch k.Key {
		case storage.LocalCurrentUser:
			target = &p.User
		case storage.LocalTenantInfo:
			target = &p.Tenant
		case storage.LocalUserPermissions:
			target = &p.Permissions
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			log.Warn().Err(err).Str("key", k.Key).Msg("discarding corrupt profile entry")
			_ = r.stores.Local.Delete(ctx, k.Key)
			continue
		}
		found = true
	}
	if !found {
		return Profile{}, false, nil
	}

	if p.User != nil {
		if err := p.User.Validate(); err != nil {
			log.Error().Err(err).Msg("stored profile is inconsistent, clearing it")
			_ = storage.DeleteAll(ctx, r.stores, profileKeys)
			return Profile{}, false, fmt.Errorf("[Resolver LoadProfile] %w", err)
		}
	}
	return p, true, nil
}

// ClearProfile removes the cached user data only.
func (r *Resolver) ClearProfile(ctx context.Context) error {
	return storage.DeleteAll(ctx, r.stores, profileKeys)
}
