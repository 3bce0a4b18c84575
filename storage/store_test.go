package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/memstore"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	storage.Store
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("delete failed")
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Set(ctx, "empty", ""))

	v, ok := storage.Lookup(ctx, s, "k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	_, ok = storage.Lookup(ctx, s, "empty")
	require.False(t, ok, "an empty value counts as absent")

	_, ok = storage.Lookup(ctx, s, "missing")
	require.False(t, ok)

	_, ok = storage.Lookup(ctx, nil, "k")
	require.False(t, ok)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	set := storage.Set{
		Memory:  memstore.New(),
		Session: memstore.New(),
		Local:   memstore.New(),
	}
	for _, k := range storage.SessionKeys {
		if st := set.Store(k.Store); st != nil {
			require.NoError(t, st.Set(ctx, k.Key, "x"))
		}
	}
	require.NoError(t, set.Local.Set(ctx, storage.LocalAuthStateMigrated, "true"))

	require.NoError(t, storage.DeleteAll(ctx, set, storage.SessionKeys))

	for _, k := range storage.SessionKeys {
		_, ok := storage.Lookup(ctx, set.Store(k.Store), k.Key)
		require.False(t, ok, "%s/%s should be cleared", k.Store, k.Key)
	}
	_, ok := storage.Lookup(ctx, set.Local, storage.LocalAuthStateMigrated)
	require.True(t, ok, "migration marker survives")
}

func TestDeleteAll_ContinuesPastErrors(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	require.NoError(t, mem.Set(ctx, storage.MemoryAccessToken, "tok"))
	set := storage.Set{
		Session: failingStore{memstore.New()},
		Memory:  mem,
	}

	err := storage.DeleteAll(ctx, set, []storage.Key{
		{Store: storage.Session, Key: storage.SessionTokenBackup},
		{Store: storage.Memory, Key: storage.MemoryAccessToken},
	})
	require.Error(t, err)
	_, ok := storage.Lookup(ctx, mem, storage.MemoryAccessToken)
	require.False(t, ok)
}
