package authapi

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// IDTokenVerifier checks ID tokens issued by the identity provider.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// IDClaims are the ID token claims the session relies on.
type IDClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Nonce   string `json:"nonce"`
}

// NewIDTokenVerifier discovers the provider at issuer.
func NewIDTokenVerifier(ctx context.Context, issuer, clientID string) (*IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("[authapi NewIDTokenVerifier] discover %s: %w", issuer, err)
	}
	return &IDTokenVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewIDTokenVerifierWithKeySet verifies against a fixed key set, skipping discovery.
func NewIDTokenVerifierWithKeySet(issuer, clientID string, keySet oidc.KeySet) *IDTokenVerifier {
	return &IDTokenVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})}
}

// Verify checks signature, issuer, audience and expiry of raw, then that it belongs
// to subject and carries nonce. Empty subject or nonce are not checked.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw, subject, nonce string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("[IDTokenVerifier Verify] %w: %w", autherrors.ErrAuthFailed, err)
	}
	var claims IDClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[IDTokenVerifier Verify] %w: claims: %w", autherrors.ErrAuthFailed, err)
	}
	if subject != "" && claims.Subject != subject {
		return nil, fmt.Errorf("[IDTokenVerifier Verify] %w: subject %q", autherrors.ErrIDTokenMismatch, claims.Subject)
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, fmt.Errorf("[IDTokenVerifier Verify] %w: nonce", autherrors.ErrIDTokenMismatch)
	}
	return &claims, nil
}
