// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// Claims holds the normalized identity returned by a provider after a verified exchange.
// Optional fields are empty strings when the provider did not supply them.
// Name, GivenName and FamilyName seed the username of a newly provisioned account.
type Claims struct {
	Sub           string // provider-specific stable user ID
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string // avatar URL
}

// Provider is an OAuth2 identity provider using the authorization code flow with PKCE.
// Callers pass the S256 challenge to AuthCodeURL and the matching verifier to Exchange.
type Provider interface {
	// Name is the URL path segment and the value stored in users.provider.
	Name() string

	AuthCodeURL(state, codeChallenge string) string

	Exchange(ctx context.Context, code, codeVerifier string) (*Claims, error)
}

// PKCE is a code verifier and its S256 challenge (RFC 7636).
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a fresh verifier/challenge pair.
func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{Verifier: v, Challenge: oauth2.S256ChallengeFromVerifier(v)}
}

// NewState returns 32 random bytes, base64url encoded, for the OAuth state parameter.
func NewState() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// authCodeURL is shared by providers: state plus S256 challenge.
func authCodeURL(cfg *oauth2.Config, state, codeChallenge string) string {
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}
