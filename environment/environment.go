// Package environment classifies where the client runs so the storage
// resolver can pick a write and read strategy.
//
// The mode is normally injected from configuration. Classify offers the
// hostname/protocol heuristic for callers that only know the app URL.
package environment

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Mode is the deployment environment of the app the client serves.
type Mode string

const (
	Production  Mode = "production"
	Staging     Mode = "staging"
	Development Mode = "development"
)

// Parse converts a configuration value to a Mode. Common abbreviations are accepted.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod", "prd":
		return Production, nil
	case "staging", "stage", "stg":
		return Staging, nil
	case "development", "dev", "local":
		return Development, nil
	default:
		return "", fmt.Errorf("[environment Parse] unknown environment %q", s)
	}
}

// IsProductionStorage reports whether storage must follow the production rules:
// no raw tokens in durable local storage. Staging deliberately behaves like development.
func (m Mode) IsProductionStorage() bool {
	return m == Production
}

// StorageMode is the mode used for storage decisions.
func (m Mode) StorageMode() Mode {
	if m.IsProductionStorage() {
		return Production
	}
	return Development
}

func (m Mode) String() string {
	return string(m)
}

// Overrides lists hostnames whose classification is fixed regardless of the heuristic.
type Overrides struct {
	Staging     []string
	Development []string
}

// Markers are matched against the dash-separated words of the leftmost host label.
var stagingMarkers = []string{"staging", "stage", "stg", "preview", "uat"}
var developmentMarkers = []string{"dev", "sandbox"}

// Classify derives the mode from an app URL.
// Overrides win, then loopback hosts and plain http, then markers in the leftmost label.
// Anything else served over https is production.
func Classify(appURL string, overrides Overrides) Mode {
	u, err := url.Parse(appURL)
	if err != nil || u.Host == "" {
		// A bare hostname was passed
		u = &url.URL{Scheme: "https", Host: appURL}
	}
	host := strings.ToLower(u.Hostname())

	if matchesHost(host, overrides.Development) {
		return Development
	}
	if matchesHost(host, overrides.Staging) {
		return Staging
	}

	if isLocalHost(host) || u.Scheme == "http" {
		return Development
	}
	words := labelWords(host)
	if containsAny(words, developmentMarkers) {
		return Development
	}
	if containsAny(words, stagingMarkers) {
		return Staging
	}
	return Production
}

// labelWords splits the leftmost label of host on dashes.
func labelWords(host string) []string {
	label, _, _ := strings.Cut(host, ".")
	return strings.Split(label, "-")
}

func containsAny(words, markers []string) bool {
	for _, w := range words {
		for _, m := range markers {
			if w == m {
				return true
			}
		}
	}
	return false
}

func matchesHost(host string, candidates []string) bool {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if host == c || strings.HasSuffix(host, "."+c) {
			return true
		}
	}
	return false
}

func isLocalHost(host string) bool {
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
