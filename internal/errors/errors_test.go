package errors_test

import (
	"fmt"
	"testing"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	require.Nil(t, autherrors.Wrapf(nil, "ignored"))

	err := autherrors.Wrapf(autherrors.ErrNetwork, "[Client Login] post %s", "/auth/login")
	require.EqualError(t, err, "[Client Login] post /auth/login: network error")
	require.True(t, autherrors.Is(err, autherrors.ErrNetwork))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, autherrors.IsRetryable(fmt.Errorf("wrapped: %w", autherrors.ErrNetwork)))
	require.False(t, autherrors.IsRetryable(autherrors.ErrInvalidGrant))
	require.False(t, autherrors.IsRetryable(autherrors.ErrRateLimited))
}

func TestUserMessage_DistinctPerCategory(t *testing.T) {
	categories := []error{
		autherrors.ErrNetwork,
		autherrors.ErrRateLimited,
		autherrors.ErrInvalidGrant,
		autherrors.ErrAuthFailed,
		autherrors.ErrEmptyToken,
		autherrors.ErrNotAuthenticated,
	}
	seen := map[string]error{}
	for _, c := range categories {
		msg := autherrors.UserMessage(c)
		require.NotEmpty(t, msg)
		prev, dup := seen[msg]
		require.False(t, dup, "%v and %v share a message", prev, c)
		seen[msg] = c
	}
	require.Empty(t, autherrors.UserMessage(nil))
}

func TestIsIntegrity(t *testing.T) {
	require.True(t, autherrors.IsIntegrity(autherrors.ErrSchemaMismatch))
	require.True(t, autherrors.IsIntegrity(fmt.Errorf("x: %w", autherrors.ErrInconsistentPermissions)))
	require.False(t, autherrors.IsIntegrity(autherrors.ErrNetwork))
}
