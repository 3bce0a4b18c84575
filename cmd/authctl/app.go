package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authorize"
	"github.com/jrsteele09/go-auth-client/authstate"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/internal/telemetry"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/resolver"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/cookiestore"
	"github.com/jrsteele09/go-auth-client/storage/memstore"
	"github.com/jrsteele09/go-auth-client/storage/redisstore"
	"github.com/jrsteele09/go-auth-client/storage/sealed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	cookies  *cookiestore.Store
	stores   storage.Set
	resolver *resolver.Resolver
	provider *authapi.ProviderClient
	manager  *session.Manager
	repo     *authstate.Repo
	migrator *authstate.Migrator
	unified  bool

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, telemetry.Setup(ctx, cfg.GetAppName()))

	var err error
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return nil, err
	}
	if err := a.initStores(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	mode := cfg.GetEnvironment()
	a.resolver = resolver.New(a.stores, resolver.Config{
		Mode:                mode,
		SessionBackupMaxAge: cfg.GetSessionBackupMaxAge(),
		CookiePollAttempts:  cfg.GetCookiePollAttempts(),
		CookiePollInterval:  cfg.GetCookiePollInterval(),
	}, resolver.WithMetrics(a.metrics))

	apiClient := authapi.New(cfg.GetAPIBaseURL(),
		authapi.WithJar(a.cookies.Jar()),
		authapi.WithTimeout(cfg.GetRequestTimeout()),
	)
	var backend session.Backend = apiClient
	if cfg.GetAuthMode() == config.AuthModeDirect {
		if cfg.GetOIDCIssuer() == "" {
			a.close(ctx)
			return nil, errors.New("[authctl] direct mode needs OIDC_ISSUER")
		}
		if a.provider, err = authapi.NewProviderClient(ctx, cfg.GetOIDCIssuer(), cfg.GetOIDCClientID(), cfg.GetOIDCClientSecret(), cfg.GetOIDCScopes()); err != nil {
			a.close(ctx)
			return nil, err
		}
		backend = a.provider
	}

	options := []session.Option{
		session.WithMetrics(a.metrics),
		session.WithRedirector(func(target string) {
			fmt.Fprintf(os.Stderr, "Sign in again: %s\n", target)
		}),
	}
	if issuer := cfg.GetOIDCIssuer(); issuer != "" && a.provider == nil {
		verifier, err := authapi.NewIDTokenVerifier(ctx, issuer, cfg.GetOIDCClientID())
		if err != nil {
			log.Warn().Err(err).Msg("id token verification disabled")
		} else {
			options = append(options, session.WithVerifier(verifier))
		}
	}

	a.repo = authstate.NewRepo(a.stores.Local)
	a.migrator = authstate.NewMigrator(a.repo, a.resolver, a.stores, a.metrics)
	flag := authstate.Flag{AppURL: cfg.GetAppURL(), Local: a.stores.Local}
	if enabled, set := cfg.GetUnifiedStateOverride(); set {
		flag.Override = utils.Ptr(enabled)
	}
	if a.unified = flag.Enabled(ctx); a.unified {
		options = append(options, session.WithUnifiedState(a.repo, a.migrator))
	}

	a.manager = session.New(backend, a.resolver, session.Config{
		LoginURL:           cfg.GetLoginURL(),
		RefreshThreshold:   cfg.GetRefreshThreshold(),
		ProcessedCodeTTL:   cfg.GetProcessedCodeTTL(),
		ProcessedCodeLimit: cfg.GetProcessedCodeLimit(),
		ConfirmCookies:     true,
	}, options...)

	log.Debug().
		Stringer("environment", mode).
		Str("auth_mode", cfg.GetAuthMode()).
		Str("local_store", cfg.GetLocalStore()).
		Bool("unified_state", a.unified).
		Msg("auth client ready")
	return a, nil
}

func (a *app) initStores(ctx context.Context) error {
	var err error
	if a.cookies, err = cookiestore.New(nil, origin(a.cfg.GetAPIBaseURL())); err != nil {
		return err
	}

	var key []byte
	if raw := a.cfg.GetStorageKey(); raw != "" {
		if key, err = sealed.ParseKey(raw); err != nil {
			return err
		}
	}
	dir := a.cfg.GetStateDir()

	var local storage.Store
	switch a.cfg.GetLocalStore() {
	case config.LocalStoreFile:
		if dir == "" {
			return errors.New("[authctl] the file store needs AUTH_STATE_DIR")
		}
		if local, err = memstore.Open(filepath.Join(dir, "local.gob")); err != nil {
			return err
		}
	case config.LocalStoreRedis:
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:     a.cfg.GetRedisAddr(),
			Password: a.cfg.GetRedisPassword(),
			DB:       a.cfg.GetRedisDB(),
			Prefix:   a.cfg.GetRedisPrefix(),
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		local = rs
	case config.LocalStoreMemory:
		local = memstore.New()
	default:
		return fmt.Errorf("[authctl] unknown local store %q", a.cfg.GetLocalStore())
	}
	if local, err = seal(local, key); err != nil {
		return err
	}

	backupTTL := memstore.WithTTL(a.cfg.GetSessionBackupMaxAge())
	var backup storage.Store = memstore.New(backupTTL)
	if dir != "" {
		// The session backup and the cookie jar outlive one command the way a
		// browser tab keeps them across reloads.
		if backup, err = openSealed(filepath.Join(dir, "session.gob"), key, backupTTL); err != nil {
			return err
		}
		jar, err := openSealed(filepath.Join(dir, "cookies.gob"), key)
		if err != nil {
			return err
		}
		if err := a.cookies.Load(ctx, jar); err != nil {
			log.Warn().Err(err).Msg("cookie jar not restored")
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return a.cookies.Save(ctx, jar) })
	}

	a.stores = storage.Set{
		Cookie:  a.cookies,
		Memory:  memstore.New(),
		Session: backup,
		Local:   local,
	}
	return nil
}

func openSealed(path string, key []byte, options ...memstore.Option) (storage.Store, error) {
	s, err := memstore.Open(path, options...)
	if err != nil {
		return nil, err
	}
	return seal(s, key)
}

// seal wraps s in a sealed store when a storage key is configured.
func seal(s storage.Store, key []byte) (storage.Store, error) {
	if key == nil {
		return s, nil
	}
	return sealed.New(s, key)
}

// authorizer builds the authorization flow helper for the configured provider.
func (a *app) authorizer(ctx context.Context) (*authorize.Authorizer, error) {
	var oc xoauth2.Config
	switch {
	case a.provider != nil:
		oc = a.provider.OAuth2Config()
	case a.cfg.GetOIDCIssuer() != "":
		p, err := oidc.NewProvider(ctx, a.cfg.GetOIDCIssuer())
		if err != nil {
			return nil, fmt.Errorf("[authctl] discover issuer: %w", err)
		}
		oc = xoauth2.Config{ClientID: a.cfg.GetOIDCClientID(), Endpoint: p.Endpoint(), Scopes: a.cfg.GetOIDCScopes()}
	case a.cfg.GetOIDCAuthURL() != "":
		oc = xoauth2.Config{
			ClientID: a.cfg.GetOIDCClientID(),
			Endpoint: xoauth2.Endpoint{AuthURL: a.cfg.GetOIDCAuthURL(), TokenURL: a.cfg.GetOIDCTokenURL()},
			Scopes:   a.cfg.GetOIDCScopes(),
		}
	default:
		return nil, errors.New("[authctl] no authorization endpoint: set OIDC_ISSUER or OIDC_AUTH_URL")
	}
	oc.RedirectURL = a.cfg.GetRedirectURI()
	return authorize.New(oc, a.cfg.GetAuthFlowMaxAge()), nil
}

func (a *app) close(ctx context.Context) {
	if a.manager != nil {
		a.manager.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}
}

// origin reduces the API base URL to the scheme and host cookies are scoped to.
func origin(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL
	}
	return u.Scheme + "://" + u.Host
}
