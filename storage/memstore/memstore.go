package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/storage"
	gocache "github.com/patrickmn/go-cache"
)

var _ storage.Store = (*Store)(nil)

// Store is a storage.Store backed by go-cache.
// It serves as the memory slot, the session backup and local storage. Opened on a
// file, it writes the cache through to disk on every change.
type Store struct {
	c          *gocache.Cache
	ttl        time.Duration
	maxEntries int

	path   string
	fileMu sync.Mutex
}

type Option func(*Store)

// WithTTL expires values after ttl. Zero keeps values until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithMaxEntries makes Set fail with storage.ErrQuotaExceeded once n keys are held.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.maxEntries = n
	}
}

func New(options ...Option) *Store {
	s := &Store{}
	for _, opt := range options {
		opt(s)
	}
	ttl := gocache.NoExpiration
	if s.ttl > 0 {
		ttl = s.ttl
	}
	s.c = gocache.New(ttl, time.Minute)
	return s
}

// Open creates a store persisted at path, loading what a previous process saved.
// Expired entries stay expired across processes.
func Open(path string, options ...Option) (*Store, error) {
	s := New(options...)
	s.path = path
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[memstore Open] %w", err)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[memstore Open] %w", err)
	}
	defer f.Close()
	if err := s.c.Load(f); err != nil {
		return nil, fmt.Errorf("[memstore Open] load %s: %w", path, err)
	}
	return s, nil
}

// save writes the cache to a temporary file and renames it over path.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("[memstore save] %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[memstore save] %w", err)
	}
	if err := s.c.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("[memstore save] %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[memstore save] %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("[memstore save] %w", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", storage.ErrNotFound
	}
	str, _ := v.(string)
	return str, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if s.maxEntries > 0 {
		if _, exists := s.c.Get(key); !exists && s.c.ItemCount() >= s.maxEntries {
			return storage.ErrQuotaExceeded
		}
	}
	s.c.Set(key, value, gocache.DefaultExpiration)
	return s.save()
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Delete(key)
	return s.save()
}

// Len returns the number of unexpired keys.
func (s *Store) Len() int {
	return s.c.ItemCount()
}

// Keys returns the unexpired keys, in no particular order.
func (s *Store) Keys() []string {
	items := s.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}
