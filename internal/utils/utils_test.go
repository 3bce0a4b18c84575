package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestClaimStrings(t *testing.T) {
	require.Equal(t, []string{"admin"}, utils.ClaimStrings("admin"))
	require.Equal(t, []string{"a", "b"}, utils.ClaimStrings([]string{"a", "b"}))
	require.Equal(t, []string{"a", "c"}, utils.ClaimStrings([]any{"a", 2, "c"}))
	require.Nil(t, utils.ClaimStrings(42))
}

func TestPointers(t *testing.T) {
	require.Equal(t, "", utils.Value[string](nil))
	require.Equal(t, "x", utils.Value(utils.Ptr("x")))
	require.Nil(t, utils.NonZeroPtr(""))
	require.Equal(t, "ref1", *utils.NonZeroPtr("ref1"))
}
