// oauth.go -- Generic OAuth2 redirect, callback and profile completion handlers.
// Provider-specific logic lives in internal/oauth/*.go.
// Adding a new provider: implement oauth.Provider, register it in OAuthProviders in main.go.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wenclerfic/wenclerfic/internal/metrics"
	"github.com/wenclerfic/wenclerfic/internal/oauth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

const (
	oauthStateCookieName = "wenclerfic_oauth_state"
	oauthStateCookiePath = "/api/auth/oauth"
	oauthStateTTL        = 10 * time.Minute
	oauthStateIssuer     = "wenclerfic"
)

var errInvalidOAuthState = errors.New("invalid oauth state")

// oauthStateClaims is the signed payload of the state cookie. Signing stops a client
// from substituting its own verifier; the state value still binds the browser.
type oauthStateClaims struct {
	jwt.RegisteredClaims
	State    string `json:"st"`
	Verifier string `json:"cv"`
	Provider string `json:"prv"`
}

func (h *AuthHandler) signOAuthState(c oauthStateClaims) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    oauthStateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(h.OAuthStateSecret)
}

func (h *AuthHandler) parseOAuthState(raw string) (*oauthStateClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &oauthStateClaims{}, func(t *jwt.Token) (any, error) {
		return h.OAuthStateSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(oauthStateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errInvalidOAuthState
	}
	claims, ok := token.Claims.(*oauthStateClaims)
	if !ok || !token.Valid {
		return nil, errInvalidOAuthState
	}
	return claims, nil
}

// OAuthRedirect handles GET /oauth/{provider} -- generates PKCE + state, stores them in a
// short-lived signed cookie, and redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	state, err := oauth.NewState()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	pkce := oauth.NewPKCE()

	signed, err := h.signOAuthState(oauthStateClaims{State: state, Verifier: pkce.Verifier, Provider: provider.Name()})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    signed,
		Path:     oauthStateCookiePath,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateTTL.Seconds()),
	})
	http.Redirect(w, r, provider.AuthCodeURL(state, pkce.Challenge), http.StatusFound)
}

// OAuthCallback handles GET /oauth/{provider}/callback -- verifies state, exchanges the
// code for identity claims, then either issues a session or a pending completion token.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	// Read and immediately clear the state cookie to prevent replay.
	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		logWarn(r, "oauth callback: missing state cookie")
		BadRequest(w, r, "missing oauth state")
		return
	}
	h.clearOAuthStateCookie(w)

	sc, err := h.parseOAuthState(stateCookie.Value)
	if err != nil {
		logWarn(r, "oauth callback: bad state cookie", "error", err)
		BadRequest(w, r, "invalid oauth state")
		return
	}
	if sc.Provider != provider.Name() {
		logWarn(r, "oauth callback: provider mismatch", "cookie_provider", sc.Provider, "provider", provider.Name())
		BadRequest(w, r, "invalid oauth state")
		return
	}
	if subtle.ConstantTimeCompare([]byte(sc.State), []byte(r.URL.Query().Get("state"))) != 1 {
		logWarn(r, "oauth callback: state mismatch")
		Unauthorized(w, r, "invalid oauth state")
		return
	}

	if e := r.URL.Query().Get("error"); e != "" {
		logInfo(r, "oauth callback: provider returned error", "error", e, "provider", provider.Name())
		Unauthorized(w, r, "oauth authentication failed")
		return
	}

	claims, err := provider.Exchange(r.Context(), r.URL.Query().Get("code"), sc.Verifier)
	if err != nil {
		logWarn(r, "oauth callback: exchange failed", "error", err, "provider", provider.Name())
		metrics.Login(provider.Name(), "failed")
		Unauthorized(w, r, "oauth authentication failed")
		return
	}
	if !claims.EmailVerified {
		metrics.Login(provider.Name(), "failed")
		Unauthorized(w, r, "oauth account email is not verified")
		return
	}

	res, err := h.Profiles.Provision(r.Context(), provider.Name(), claims)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if res.ProfileRequired() {
		metrics.Login(provider.Name(), "profile_required")
		logInfo(r, "oauth user needs profile completion", "user_id", res.User.ID, "provider", provider.Name())
		JSON(w, http.StatusOK, struct {
			Status       string    `json:"status"`
			PendingToken string    `json:"pendingToken"`
			Email        string    `json:"email"`
			Username     string    `json:"username"`
			Avatar       *string   `json:"avatar"`
			ExpiresAt    time.Time `json:"expiresAt"`
		}{"profile_required", res.PendingToken, res.Meta.Email, res.Meta.SuggestedUsername, res.Meta.Avatar, res.PendingExpiresAt})
		return
	}

	metrics.Login(provider.Name(), "ok")
	meta, _ := json.Marshal(struct {
		Provider string `json:"provider"`
	}{provider.Name()})
	LogAction(r, h.PS, store.UserAction{UserID: res.User.ID, ActionType: "login", Metadata: meta})
	logInfo(r, "oauth user logged in", "user_id", res.User.ID, "provider", provider.Name())

	SetSessionCookie(w, h.Cookie, res.Session)
	JSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		sessionResponse
	}{"ok", sessionResponse{User: res.User, Token: res.Session.Token, ExpiresAt: res.Session.ExpiresAt}})
}

// CompleteProfile handles POST /complete-profile -- redeems a pending token.
// 400 missing or invalid fields, 404 unknown or consumed token, 410 expired, 409 username taken.
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token    string `json:"token"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode complete profile input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}
	if msg := firstFailure(h.Policy, in.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	res, err := h.Profiles.Complete(r.Context(), in.Token, in.Username, in.Password)
	if err != nil {
		if StatusFor(err) != http.StatusInternalServerError {
			logInfo(r, "profile completion rejected", "error", err)
		}
		WriteError(w, r, err)
		return
	}

	LogAction(r, h.PS, store.UserAction{UserID: res.User.ID, ActionType: "complete_profile"})
	logInfo(r, "profile completed", "user_id", res.User.ID)
	h.issue(w, http.StatusOK, res.User, res.Session)
}

// firstFailure applies an opt-in complexity policy to a non-empty password.
// Empty passwords are left for the completion flow to reject in order.
func firstFailure(p PasswordPolicy, password string) string {
	if password == "" {
		return ""
	}
	if failures := p.Validate(password); len(failures) > 0 {
		return failures[0]
	}
	return ""
}

// oauthProvider resolves {provider} from the route, writing 404 if unknown.
func (h *AuthHandler) oauthProvider(w http.ResponseWriter, r *http.Request) (oauth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.OAuthProviders[name]
	if !ok {
		NotFound(w, "unknown oauth provider")
		return nil, false
	}
	return provider, true
}

// clearOAuthStateCookie expires the OAuth state cookie immediately.
func (h *AuthHandler) clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     oauthStateCookiePath,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
