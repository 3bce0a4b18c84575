package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/redis/go-redis/v9"
)

var _ storage.Store = (*Store)(nil)

// Config holds the connection settings of the durable store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key namespace, e.g. "authctl:alice"
	TTL      time.Duration // Zero keeps values until deleted
}

// Store keeps local storage in Redis so it survives restarts and can be shared
// between processes of the same user.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("[redisstore New] ping %s: %w", cfg.Addr, err)
	}

	return NewWithClient(rdb, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("[redisstore Get] %s: %w", key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.client.Set(ctx, s.key(key), value, s.ttl).Err()
	if err != nil {
		if isOOM(err) {
			return fmt.Errorf("[redisstore Set] %s: %w", key, storage.ErrQuotaExceeded)
		}
		return fmt.Errorf("[redisstore Set] %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("[redisstore Delete] %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// isOOM matches the reply Redis sends when maxmemory is reached.
func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		return len(msg) >= 3 && msg[:3] == "OOM"
	}
	return false
}
