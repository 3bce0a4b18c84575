package cookiestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-client/storage"
)

var _ storage.Store = (*Store)(nil)

// JarKey is the key Save keeps the cookie snapshot under.
const JarKey = "cookie_jar"

// Store exposes the cookies an http.CookieJar holds for one origin.
// The backend writes them through Set-Cookie on the HTTP client that shares the jar,
// so a cookie is "readable" as soon as the jar returns it for the origin.
type Store struct {
	jar    http.CookieJar
	origin *url.URL
	secure bool
}

// New creates a cookie store over jar for the API origin. A nil jar creates a fresh one.
func New(jar http.CookieJar, origin string) (*Store, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("[cookiestore New] invalid origin %q", origin)
	}
	if jar == nil {
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, fmt.Errorf("[cookiestore New] create jar: %w", err)
		}
	}
	return &Store{
		jar:    jar,
		origin: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		secure: u.Scheme == "https",
	}, nil
}

// Jar returns the jar to share with the HTTP client.
func (s *Store) Jar() http.CookieJar {
	return s.jar
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	for _, c := range s.jar.Cookies(s.origin) {
		if c.Name == key && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:     key,
		Value:    value,
		Path:     "/",
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}})
	return nil
}

// Delete expires the cookie in the jar.
func (s *Store) Delete(_ context.Context, key string) error {
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:    key,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(1, 0),
	}})
	return nil
}

// Save writes the name and value of every cookie held for the origin to dst,
// so a later process can pick the session up again. An empty jar removes the snapshot.
func (s *Store) Save(ctx context.Context, dst storage.Store) error {
	cookies := map[string]string{}
	for _, c := range s.jar.Cookies(s.origin) {
		if c.Value != "" {
			cookies[c.Name] = c.Value
		}
	}
	if len(cookies) == 0 {
		return dst.Delete(ctx, JarKey)
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("[cookiestore Save] %w", err)
	}
	if err := dst.Set(ctx, JarKey, string(raw)); err != nil {
		return fmt.Errorf("[cookiestore Save] %w", err)
	}
	return nil
}

// Load restores the cookies a previous Save wrote to src.
func (s *Store) Load(ctx context.Context, src storage.Store) error {
	raw, err := src.Get(ctx, JarKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("[cookiestore Load] %w", err)
	}
	var cookies map[string]string
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return fmt.Errorf("[cookiestore Load] %w", err)
	}
	for name, value := range cookies {
		if err := s.Set(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}
