package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/rs/zerolog/log"
)

// ErrCookieUnavailable is returned by ConfirmCookie when the access token cookie
// never became readable.
var ErrCookieUnavailable = errors.New("access token cookie not readable")

// ConfirmCookie polls the cookie store until the access token cookie is readable.
//
// On success the temporary memory slot is dropped. When the cookie never shows
// up the memory slot is kept as fallback and a warning is logged; in production
// cookies are then marked unusable so local storage may serve reads.
func (r *Resolver) ConfirmCookie(ctx context.Context) error {
	if r.stores.Cookie == nil {
		return ErrCookieUnavailable
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		v, ok := storage.Lookup(ctx, r.stores.Cookie, storage.CookieAccessToken)
		if !ok {
			return "", ErrCookieUnavailable
		}
		return v, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.CookiePollInterval)),
		backoff.WithMaxTries(uint(r.cfg.CookiePollAttempts)),
		backoff.WithMaxElapsedTime(time.Duration(r.cfg.CookiePollAttempts+1)*r.cfg.CookiePollInterval),
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("[Resolver ConfirmCookie] %w", ctxErr)
	}

	if err != nil {
		r.metrics.CookieConfirm(false)
		log.Warn().
			Int("attempts", attempt).
			Str("mode", r.cfg.Mode.String()).
			Msg("access token cookie not readable, keeping in-memory token as fallback")
		if r.production() {
			r.cookiesUnusable.Store(true)
		}
		return fmt.Errorf("[Resolver ConfirmCookie] %w", ErrCookieUnavailable)
	}

	r.metrics.CookieConfirm(true)
	r.cookiesUnusable.Store(false)
	if r.stores.Memory != nil {
		if err := r.stores.Memory.Delete(ctx, storage.MemoryAccessToken); err != nil {
			log.Warn().Err(err).Msg("drop temporary access token")
		}
	}
	log.Debug().Int("attempts", attempt).Msg("access token cookie readable")
	return nil
}
