package config

import (
	"os"
	"path/filepath"
)

const (
	LocalStoreFile   = "file"
	LocalStoreMemory = "memory"
	LocalStoreRedis  = "redis"
)

type StorageConfig interface {
	GetLocalStore() string
	GetStateDir() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetStorageKey() string
	GetUnifiedStateOverride() (enabled bool, set bool)
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetLocalStore selects the durable local store: "file", "redis" or "memory".
// "memory" does not outlive the process.
func (Storage) GetLocalStore() string {
	return GetEnv("AUTH_LOCAL_STORE", LocalStoreFile)
}

// GetStateDir is where the file store, the session backup and the cookie jar are kept.
// Empty keeps them in memory.
func (Storage) GetStateDir() string {
	def := ""
	if dir, err := os.UserConfigDir(); err == nil {
		def = filepath.Join(dir, "authctl")
	}
	return GetEnv("AUTH_STATE_DIR", def)
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetIntEnv("REDIS_DB", 0)
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "authctl:")
}

// GetStorageKey returns the base64 secretbox key local values are sealed with.
// Empty disables sealing.
func (Storage) GetStorageKey() string {
	return GetEnv("AUTH_STORAGE_KEY", "")
}

// GetUnifiedStateOverride reports AUTH_UNIFIED_STATE when it is set.
func (Storage) GetUnifiedStateOverride() (bool, bool) {
	if GetEnv("AUTH_UNIFIED_STATE", "") == "" {
		return false, false
	}
	return GetBoolEnv("AUTH_UNIFIED_STATE", false), true
}
