package session

import (
	"fmt"
	"net/url"
	"testing"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unauthenticated, Authenticating, true},
		{Unauthenticated, Authenticated, true},
		{Unauthenticated, RefreshPending, false},
		{Authenticating, Authenticated, true},
		{Authenticating, RefreshPending, false},
		{Authenticated, RefreshPending, true},
		{RefreshPending, Authenticated, true},
		{RefreshPending, Authenticating, false},
		{RefreshPending, Unauthenticated, true},
		{Authenticating, Unauthenticated, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			require.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
	require.Equal(t, "unknown", State(42).String())
}

func TestLoginRedirect(t *testing.T) {
	require.Equal(t, "/login", LoginRedirect("/login", nil))

	err := fmt.Errorf("[test] %w", autherrors.ErrNetwork)
	got := LoginRedirect("https://app.example.com/login", err)
	u, parseErr := url.Parse(got)
	require.NoError(t, parseErr)
	require.Equal(t, autherrors.UserMessage(err), u.Query().Get("error"))

	got = LoginRedirect("/login?next=%2Fhome", err)
	u, parseErr = url.Parse(got)
	require.NoError(t, parseErr)
	require.Equal(t, "/home", u.Query().Get("next"))
	require.NotEmpty(t, u.Query().Get("error"))
}
