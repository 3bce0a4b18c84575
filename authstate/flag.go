package authstate

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-auth-client/storage"
)

// QueryParam enables the unified record when present on the app URL, e.g. ?atomic_auth=1.
const QueryParam = "atomic_auth"

// Flag decides whether the unified record is in use.
type Flag struct {
	// Override wins when set, typically from configuration.
	Override *bool
	// AppURL is checked for QueryParam.
	AppURL string
	// Local holds the developer setting storage.LocalUnifiedStateFlag.
	Local storage.Store
}

func (f Flag) Enabled(ctx context.Context) bool {
	if f.Override != nil {
		return *f.Override
	}
	if v, ok := queryValue(f.AppURL); ok {
		return truthy(v)
	}
	if v, ok := storage.Lookup(ctx, f.Local, storage.LocalUnifiedStateFlag); ok {
		return truthy(v)
	}
	return false
}

func queryValue(appURL string) (string, bool) {
	if appURL == "" {
		return "", false
	}
	u, err := url.Parse(appURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if !q.Has(QueryParam) {
		return "", false
	}
	return q.Get(QueryParam), true
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "enabled":
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
