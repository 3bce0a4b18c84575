// Package sealed wraps a storage.Store so values are encrypted at rest with
// NaCl secretbox. Used for durable local storage that outlives the process.
package sealed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-auth-client/storage"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	prefix    = "sb1:"
)

// ErrOpen is returned when a stored value cannot be decrypted with the key.
var ErrOpen = errors.New("sealed: cannot open value")

var _ storage.Store = (*Store)(nil)

type Store struct {
	inner storage.Store
	key   [keySize]byte
}

// ParseKey decodes a base64 32-byte key, as produced by `openssl rand -base64 32`.
func ParseKey(b64 string) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("[sealed ParseKey] decode: %w", err)
	}
	if len(k) != keySize {
		return nil, fmt.Errorf("[sealed ParseKey] key must be %d bytes, got %d", keySize, len(k))
	}
	return k, nil
}

func New(inner storage.Store, key []byte) (*Store, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("[sealed New] key must be %d bytes, got %d", keySize, len(key))
	}
	s := &Store{inner: inner}
	copy(s.key[:], key)
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := s.open(raw)
	if err != nil {
		return "", fmt.Errorf("[sealed Get] %s: %w", key, err)
	}
	return plain, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("[sealed Set] nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, prefix+base64.RawStdEncoding.EncodeToString(box))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Store) open(raw string) (string, error) {
	if !strings.HasPrefix(raw, prefix) {
		return "", ErrOpen
	}
	box, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(raw, prefix))
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrOpen
	}
	return string(plain), nil
}
