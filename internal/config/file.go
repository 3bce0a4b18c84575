package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	fileMu     sync.RWMutex
	fileValues map[string]string
)

// LoadFile reads a flat YAML map of variable names to values, e.g.
//
//	AUTH_API_BASE_URL: https://api.example.com/api/v1
//	AUTH_COOKIE_POLL_ATTEMPTS: 10
//
// Environment variables take precedence over file values.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("[config LoadFile] read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("[config LoadFile] parse %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[k] = fmt.Sprint(v)
	}

	fileMu.Lock()
	fileValues = values
	fileMu.Unlock()
	return nil
}

// ResetFile drops values loaded by LoadFile.
func ResetFile() {
	fileMu.Lock()
	fileValues = nil
	fileMu.Unlock()
}

func fileValue(key string) (string, bool) {
	fileMu.RLock()
	defer fileMu.RUnlock()
	v, ok := fileValues[key]
	return v, ok
}
