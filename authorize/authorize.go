// Package authorize starts OAuth2 authorization code flows with PKCE and
// checks the callback against the flow it belongs to.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

const DefaultMaxAge = 15 * time.Minute

// Authorizer issues authorization URLs and validates callbacks.
type Authorizer struct {
	cfg    xoauth2.Config
	repo   Repo
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Authorizer)

func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

func WithRepo(repo Repo) Option {
	return func(a *Authorizer) {
		a.repo = repo
	}
}

func New(cfg xoauth2.Config, maxAge time.Duration, options ...Option) *Authorizer {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	a := &Authorizer{
		cfg:    cfg,
		repo:   NewInMemoryRepo(),
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// RedirectURI is the callback address registered with the provider.
func (a *Authorizer) RedirectURI() string {
	return a.cfg.RedirectURL
}

// Begin records a new flow and returns the URL to send the user to, plus its state.
func (a *Authorizer) Begin(returnURL string) (string, string, error) {
	state := uuid.NewString()
	flow := &Flow{
		CodeVerifier: xoauth2.GenerateVerifier(),
		Nonce:        uuid.NewString(),
		ReturnURL:    returnURL,
		CreatedAt:    a.now(),
	}
	if err := a.repo.Upsert(state, flow); err != nil {
		return "", "", fmt.Errorf("[Authorizer Begin] %w", err)
	}

	authURL := a.cfg.AuthCodeURL(state,
		xoauth2.S256ChallengeOption(flow.CodeVerifier),
		oidc.Nonce(flow.Nonce),
	)
	log.Debug().Str("state", state).Str("method", string(oauth2.CodeMethodTypeS256)).Msg("authorization flow started")
	return authURL, state, nil
}

// Consume matches a callback to its flow. The first code delivered for a state
// is bound to it; a repeat of that code is accepted, any other code is not.
func (a *Authorizer) Consume(state, code string) (*Flow, error) {
	if state == "" || code == "" {
		return nil, fmt.Errorf("[Authorizer Consume] %w: missing code or state", autherrors.ErrInvalidRequest)
	}

	flow, err := a.repo.Get(state)
	if err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return nil, fmt.Errorf("[Authorizer Consume] %w: unknown state", autherrors.ErrInvalidState)
		}
		return nil, fmt.Errorf("[Authorizer Consume] %w", err)
	}
	if a.now().Sub(flow.CreatedAt) > a.maxAge {
		_ = a.repo.Delete(state)
		return nil, fmt.Errorf("[Authorizer Consume] %w: flow expired", autherrors.ErrInvalidState)
	}

	flow, err = a.repo.Bind(state, code)
	if err != nil {
		return nil, fmt.Errorf("[Authorizer Consume] %w", err)
	}
	return flow, nil
}

// LoginRequest builds the exchange request for a consumed flow.
func (a *Authorizer) LoginRequest(state string, flow *Flow) oauth2.LoginRequest {
	return oauth2.LoginRequest{
		Code:         flow.Code,
		RedirectURI:  a.cfg.RedirectURL,
		State:        state,
		CodeVerifier: flow.CodeVerifier,
	}
}

// Prune drops flows older than the maximum age until ctx is done.
func (a *Authorizer) Prune(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.repo.DeleteCreatedBefore(a.now().Add(-a.maxAge)); n > 0 {
				log.Debug().Int("count", n).Msg("expired authorization flows removed")
			}
		}
	}
}
