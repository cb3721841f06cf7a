package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/sakif/linkedin-profile-viewer/internal/apperror"
)

// LinkedIn OpenID Connect values.
const (
	DefaultIssuer  = "https://www.linkedin.com/oauth"
	DefaultJWKSURL = "https://www.linkedin.com/oauth/openid/jwks"
)

// IDClaims are the id_token claims the sign-in flow relies on.
type IDClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
}

// IDTokenVerifier checks LinkedIn id_tokens: signature against LinkedIn's
// JWKS, issuer, audience (our client id) and expiry.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewIDTokenVerifier fetches signing keys from jwksURL lazily, through
// httpClient, and caches them.
func NewIDTokenVerifier(issuer, jwksURL, clientID string, httpClient *http.Client) *IDTokenVerifier {
	ctx := oidc.ClientContext(context.Background(), httpClient)
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return newIDTokenVerifier(issuer, clientID, keySet, time.Now)
}

func newIDTokenVerifier(issuer, clientID string, keySet oidc.KeySet, now func() time.Time) *IDTokenVerifier {
	return &IDTokenVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID: clientID,
			Now:      now,
		}),
	}
}

// Verify returns the claims of a valid raw id_token. Any failure is
// apperror.ErrUnauthorized.
func (v *IDTokenVerifier) Verify(ctx context.Context, raw string) (*IDClaims, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrUnauthorized,
			Message: "id token verification failed",
			Cause:   err,
		}
	}

	var c IDClaims
	if err := tok.Claims(&c); err != nil {
		return nil, &apperror.AppError{
			Err:     apperror.ErrUnauthorized,
			Message: "id token claims unreadable",
			Cause:   err,
		}
	}
	if c.Subject == "" {
		c.Subject = tok.Subject
	}
	return &c, nil
}
