package metrics_test

import (
	"errors"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := metrics.New(reg)
	require.NoError(t, err)

	r.Exchange(nil)
	r.Exchange(errors.New("boom"))
	r.Coalesced("login")
	r.TokenRead("cookie")
	r.TokenRead("")
	r.CookieConfirm(false)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	require.Equal(t, 2, mustCount(t, reg, "authclient_code_exchanges_total"))
	require.Equal(t, 2, mustCount(t, reg, "authclient_token_reads_total"))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := metrics.New(reg)
	require.NoError(t, err)
	b, err := metrics.New(reg)
	require.NoError(t, err)

	a.Refresh(nil)
	b.Refresh(nil)
	require.Equal(t, 1, mustCount(t, reg, "authclient_token_refreshes_total"))
}

func TestNilRecorder(t *testing.T) {
	var r *metrics.Recorder
	require.NotPanics(t, func() {
		r.Exchange(nil)
		r.Refresh(nil)
		r.Coalesced("refresh")
		r.TokenRead("memory")
		r.CookieConfirm(true)
		r.Logout(nil)
		r.Migration("migrated")
	})
}

func mustCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}
