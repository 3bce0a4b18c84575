package authapi_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/authapi"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.com/"
	testClientID = "authctl"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestIDTokenVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier := authapi.NewIDTokenVerifierWithKeySet(testIssuer, testClientID,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}})

	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "user-1",
		"email": "analyst@example.com",
		"nonce": "n-1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	raw := signIDToken(t, key, claims)

	got, err := verifier.Verify(context.Background(), raw, "user-1", "n-1")
	require.NoError(t, err)
	require.Equal(t, "analyst@example.com", got.Email)

	_, err = verifier.Verify(context.Background(), raw, "user-2", "")
	require.ErrorIs(t, err, autherrors.ErrIDTokenMismatch)

	_, err = verifier.Verify(context.Background(), raw, "", "other-nonce")
	require.ErrorIs(t, err, autherrors.ErrIDTokenMismatch)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), signIDToken(t, other, claims), "", "")
	require.ErrorIs(t, err, autherrors.ErrAuthFailed)
}
