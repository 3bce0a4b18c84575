package callback

import (
	"fmt"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog/log"
)

const completePage = `<!doctype html><title>Signed in</title><p>Login complete. You can close this window.</p>`

// CallbackHandler accepts the authorization response as query parameters (GET)
// or as a form post.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		if errorParam != "" {
			err := fmt.Errorf("[callback] %w: %s %s", autherrors.ErrAuthFailed, errorParam, errorDesc)
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}

		flow, err := s.auth.Consume(state, code)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}

		b, err := s.logins.LoginWithOptions(r.Context(), s.auth.LoginRequest(state, flow), session.LoginOptions{Nonce: flow.Nonce})
		if err != nil {
			s.fail(w, r, statusFor(err), err)
			return
		}

		s.deliver(Result{Bundle: b, ReturnURL: flow.ReturnURL})
		if flow.ReturnURL != "" {
			redirectSuccess(w, r, flow.ReturnURL)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(completePage))
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	log.Warn().Err(err).Msg("callback failed")
	s.deliver(Result{Err: err})
	if s.loginURL != "" {
		redirectWithError(w, r, s.loginURL, err)
		return
	}
	http.Error(w, autherrors.UserMessage(err), status)
}

func statusFor(err error) int {
	switch {
	case autherrors.Is(err, autherrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case autherrors.Is(err, autherrors.ErrNetwork):
		return http.StatusBadGateway
	case autherrors.Is(err, autherrors.ErrInvalidGrant), autherrors.Is(err, autherrors.ErrInvalidRequest), autherrors.Is(err, autherrors.ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, loginURL string, err error) {
	http.Redirect(w, r, session.LoginRedirect(loginURL, err), http.StatusSeeOther)
}
