// Package callback runs the loopback HTTP server that receives the
// authorization redirect and completes the login.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-auth-client/authorize"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	RouteCallback = "/callback"
	RouteHealth   = "/healthz"
	RouteMetrics  = "/metrics"
)

// Logins completes a login for a verified callback.
type Logins interface {
	LoginWithOptions(ctx context.Context, req oauth2.LoginRequest, opts session.LoginOptions) (*token.Bundle, error)
}

// Result is the outcome of the first completed callback.
type Result struct {
	Bundle    *token.Bundle
	ReturnURL string
	Err       error
}

type Server struct {
	env      string
	loginURL string
	router   chi.Router
	routes   []string
	auth     *authorize.Authorizer
	logins   Logins
	gatherer prometheus.Gatherer
	results  chan Result
	once     sync.Once

	mu  sync.Mutex
	srv *http.Server
}

type Option func(*Server)

// WithLoginURL sends failed callbacks to the login page instead of answering with an error page.
func WithLoginURL(u string) Option {
	return func(s *Server) {
		s.loginURL = u
	}
}

// WithMetrics exposes gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func New(env string, auth *authorize.Authorizer, logins Logins, options ...Option) *Server {
	s := &Server{
		env:     env,
		router:  chi.NewRouter(),
		auth:    auth,
		logins:  logins,
		results: make(chan Result, 1),
	}
	for _, opt := range options {
		opt(s)
	}
	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) initRoutes() {
	mw := s.middleware()
	s.registerRoute(http.MethodGet, RouteCallback, ChainMiddleware(s.CallbackHandler(), mw...))
	s.registerRoute(http.MethodPost, RouteCallback, ChainMiddleware(s.CallbackHandler(), mw...))
	s.registerRoute(http.MethodGet, RouteHealth, s.HealthHandler())
	if s.gatherer != nil {
		s.registerRoute(http.MethodGet, RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

func (s *Server) registerRoute(method, pattern string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		var method, path string
		if _, err := fmt.Sscanf(route, "%s %s", &method, &path); err == nil {
			logRoute(method, path)
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the router with tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "auth-callback")
}

// Results delivers the first completed callback.
func (s *Server) Results() <-chan Result {
	return s.results
}

func (s *Server) deliver(res Result) {
	s.once.Do(func() {
		s.results <- res
	})
}

// ListenAndServe serves on addr until Shutdown. It returns once the listener
// is bound, so the authorization URL can be opened right after.
func (s *Server) ListenAndServe(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("[callback ListenAndServe] %w", err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("callback server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("callback server stopped")
			s.deliver(Result{Err: fmt.Errorf("[callback Serve] %w", err)})
		}
	}()
	return ln.Addr().String(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("[callback Shutdown] %w", err)
	}
	return nil
}
