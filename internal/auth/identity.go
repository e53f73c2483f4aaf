package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Identity is what a successfully authenticated request carries forward.
// github_webhook bypasses per-source ACL but not id existence, per spec.md
// §4.1.
type Identity struct {
	Subject     string
	MasterLevel bool
	IsWebhook   bool
}

// SessionVerifier is the OAuth sign-in external collaborator spec.md §1
// names ("Out of scope, treated only as external collaborators with
// specified interfaces: ... OAuth sign-in"). The core only needs to know
// whether a bearer token is currently valid and, if so, who it belongs to.
type SessionVerifier interface {
	Verify(ctx context.Context, bearerToken string) (Identity, error)
}

// OAuthVerifier validates a bearer token by using it as a Cloud-provider
// access token and calling a userinfo-shaped endpoint, the same
// oauth2.StaticTokenSource + oauth2.NewClient pattern used for
// token-authenticated API calls throughout the example pack.
type OAuthVerifier struct {
	UserInfoURL string
	HTTPClient  *http.Client
}

var _ SessionVerifier = (*OAuthVerifier)(nil)

// NewOAuthVerifier builds an OAuthVerifier that checks tokens against
// userInfoURL.
func NewOAuthVerifier(userInfoURL string) *OAuthVerifier {
	return &OAuthVerifier{UserInfoURL: userInfoURL, HTTPClient: http.DefaultClient}
}

func (v *OAuthVerifier) Verify(ctx context.Context, bearerToken string) (Identity, error) {
	if bearerToken == "" {
		return Identity{}, fmt.Errorf("empty bearer token")
	}

	// When the bearer token is a self-contained JWT (as opposed to an
	// opaque provider token), pull its subject and reject it early on an
	// expired exp claim without spending a userinfo round-trip. The
	// provider's signature is still the one checked below; this is a
	// cheap pre-filter, not an independent trust root.
	subject := bearerToken[:min(8, len(bearerToken))]
	if claims, _, err := jwt.NewParser().ParseUnverified(bearerToken, jwt.MapClaims{}); err == nil {
		if sub, subErr := claims.GetSubject(); subErr == nil && sub != "" {
			subject = sub
		}
		if exp, expErr := claims.GetExpirationTime(); expErr == nil && exp != nil && exp.Before(time.Now()) {
			return Identity{}, fmt.Errorf("oauth token expired")
		}
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken})
	client := oauth2.NewClient(ctx, ts)
	if v.HTTPClient != nil {
		client.Transport = &oauth2.Transport{Source: ts, Base: v.HTTPClient.Transport}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.UserInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("building userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("verifying oauth session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("oauth session rejected: status %d", resp.StatusCode)
	}

	return Identity{Subject: subject, MasterLevel: true}, nil
}

// VerifySharedSecret checks X-Scm-Secret against the configured internal
// secret, granting master-level identity (every source, every operation).
func VerifySharedSecret(provided, configured string) (Identity, bool) {
	if configured == "" || provided == "" || provided != configured {
		return Identity{}, false
	}
	return Identity{Subject: "shared-secret", MasterLevel: true}, true
}

// VerifyWebhookSignature checks an X-Hub-Signature-256 header and, on
// success, returns the github_webhook identity spec.md §4.1 describes.
func VerifyWebhookSignature(payload []byte, signature, secret string) (Identity, error) {
	if err := ValidateHMAC(payload, signature, secret); err != nil {
		return Identity{}, err
	}
	return Identity{Subject: "github_webhook", IsWebhook: true}, nil
}
