// facebook.go -- Facebook Login provider. Identity comes from the Graph API /me endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const facebookMeURL = "https://graph.facebook.com/v19.0/me?fields=id,name,first_name,last_name,email,picture.type(large)"

// FacebookProvider exchanges codes against Facebook and reads the profile from Graph.
type FacebookProvider struct {
	config *oauth2.Config
	meURL  string
}

// NewFacebookProvider builds a provider for the given app credentials. No network I/O.
func NewFacebookProvider(appID, appSecret, redirectURL string) *FacebookProvider {
	return &FacebookProvider{
		config: &oauth2.Config{
			ClientID:     appID,
			ClientSecret: appSecret,
			RedirectURL:  redirectURL,
			Endpoint:     facebook.Endpoint,
			Scopes:       []string{"email", "public_profile"},
		},
		meURL: facebookMeURL,
	}
}

func (p *FacebookProvider) Name() string { return "facebook" }

func (p *FacebookProvider) AuthCodeURL(state, codeChallenge string) string {
	return authCodeURL(p.config, state, codeChallenge)
}

// Exchange trades the code for an access token and fetches /me with it.
// Graph only returns an email the user has confirmed, so a present email counts as verified.
func (p *FacebookProvider) Exchange(ctx context.Context, code, codeVerifier string) (*Claims, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.meURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building graph request: %w", err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching graph profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph profile: unexpected status %d", resp.StatusCode)
	}

	var me struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Picture   struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("decoding graph profile: %w", err)
	}

	return &Claims{
		Sub:           me.ID,
		Email:         me.Email,
		EmailVerified: me.Email != "",
		Name:          me.Name,
		GivenName:     me.FirstName,
		FamilyName:    me.LastName,
		Picture:       me.Picture.Data.URL,
	}, nil
}
