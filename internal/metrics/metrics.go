// Package metrics records session coordinator activity as Prometheus counters.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authclient"

type Recorder struct {
	exchanges      *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	coalesced      *prometheus.CounterVec
	tokenReads     *prometheus.CounterVec
	cookieConfirms *prometheus.CounterVec
	logouts        *prometheus.CounterVec
	migrations     *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
// Counters already registered with reg are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_exchanges_total",
			Help:      "Authorization code exchanges by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refreshes by result.",
		}, []string{"result"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_calls_total",
			Help:      "Calls that joined an in-flight operation instead of starting one.",
		}, []string{"operation"}),
		tokenReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_reads_total",
			Help:      "Access token reads by the store that served them.",
		}, []string{"source"}),
		cookieConfirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookie_confirmations_total",
			Help:      "Cookie availability checks by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Logouts by server-side invalidation result.",
		}, []string{"server"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_state_migrations_total",
			Help:      "Legacy to unified auth state migrations by result.",
		}, []string{"result"}),
	}

	for _, c := range []**prometheus.CounterVec{
		&r.exchanges, &r.refreshes, &r.coalesced, &r.tokenReads,
		&r.cookieConfirms, &r.logouts, &r.migrations,
	} {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("[metrics New] register: %w", err)
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, fmt.Errorf("[metrics New] collector type mismatch: %w", err)
			}
			*c = existing
		}
	}
	return r, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Recorder) Exchange(err error) {
	if r == nil {
		return
	}
	r.exchanges.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) Refresh(err error) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) Coalesced(operation string) {
	if r == nil {
		return
	}
	r.coalesced.WithLabelValues(operation).Inc()
}

// TokenRead counts a token read served by source; "none" when nothing was found.
func (r *Recorder) TokenRead(source string) {
	if r == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	r.tokenReads.WithLabelValues(source).Inc()
}

func (r *Recorder) CookieConfirm(ok bool) {
	if r == nil {
		return
	}
	res := "readable"
	if !ok {
		res = "unreadable"
	}
	r.cookieConfirms.WithLabelValues(res).Inc()
}

func (r *Recorder) Logout(serverErr error) {
	if r == nil {
		return
	}
	r.logouts.WithLabelValues(result(serverErr)).Inc()
}

func (r *Recorder) Migration(res string) {
	if r == nil {
		return
	}
	r.migrations.WithLabelValues(res).Inc()
}
