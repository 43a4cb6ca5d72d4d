// oauth_test.go

// unit tests for OAuthRedirect, OAuthCallback and CompleteProfile.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wenclerfic/wenclerfic/internal/oauth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// mockProvider returns fixed claims or an error from Exchange.
type mockProvider struct {
	name     string
	claims   *oauth.Claims
	err      error
	verifier string
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) AuthCodeURL(state, challenge string) string {
	return "https://idp.example/auth?state=" + url.QueryEscape(state) + "&code_challenge=" + url.QueryEscape(challenge)
}
func (m *mockProvider) Exchange(_ context.Context, _, verifier string) (*oauth.Claims, error) {
	m.verifier = verifier
	return m.claims, m.err
}

// withProvider sets chi's {provider} URL param on r.
func withProvider(r *http.Request, name string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", name)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// newOAuthEnv registers a google mockProvider returning claims.
func newOAuthEnv(t *testing.T, claims *oauth.Claims, users ...*store.User) (*testEnv, *mockProvider) {
	t.Helper()
	e := newTestEnv(t, users...)
	p := &mockProvider{name: "google", claims: claims}
	e.h.OAuthProviders["google"] = p
	return e, p
}

// stateCookie signs a state cookie the way OAuthRedirect would.
func stateCookie(t *testing.T, h *AuthHandler, state, verifier, provider string) *http.Cookie {
	t.Helper()
	signed, err := h.signOAuthState(oauthStateClaims{State: state, Verifier: verifier, Provider: provider})
	if err != nil {
		t.Fatalf("signOAuthState: %v", err)
	}
	return &http.Cookie{Name: oauthStateCookieName, Value: signed}
}

// callbackRequest builds GET /oauth/google/callback with the given query and cookie.
func callbackRequest(cookie *http.Cookie, query string) *http.Request {
	r := httptest.NewRequest("GET", "/api/auth/oauth/google/callback?"+query, nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	return withProvider(r, "google")
}

type profileRequiredBody struct {
	Status       string    `json:"status"`
	PendingToken string    `json:"pendingToken"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	Avatar       *string   `json:"avatar"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// --- OAuthRedirect ---

func TestOAuthRedirect(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		e := newTestEnv(t)
		w := httptest.NewRecorder()
		e.h.OAuthRedirect(w, withProvider(httptest.NewRequest("GET", "/oauth/myspace", nil), "myspace"))
		assertMessage(t, w, http.StatusNotFound, "unknown oauth provider")
	})

	t.Run("redirects with state and signed cookie", func(t *testing.T) {
		e, _ := newOAuthEnv(t, nil)
		w := httptest.NewRecorder()
		e.h.OAuthRedirect(w, withProvider(httptest.NewRequest("GET", "/oauth/google", nil), "google"))

		if w.Code != http.StatusFound {
			t.Fatalf("status: expected 302, got %d", w.Code)
		}
		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil || loc.Host != "idp.example" {
			t.Fatalf("unexpected Location %q", w.Header().Get("Location"))
		}
		state := loc.Query().Get("state")
		if state == "" || loc.Query().Get("code_challenge") == "" {
			t.Error("redirect should carry state and code_challenge")
		}

		c := findCookie(w, oauthStateCookieName)
		if c == nil {
			t.Fatal("state cookie not set")
		}
		if !c.HttpOnly || c.Path != oauthStateCookiePath || c.MaxAge != int(oauthStateTTL.Seconds()) {
			t.Errorf("unexpected cookie attributes %+v", c)
		}
		claims, err := e.h.parseOAuthState(c.Value)
		if err != nil {
			t.Fatalf("cookie does not parse: %v", err)
		}
		if claims.State != state || claims.Provider != "google" || claims.Verifier == "" {
			t.Errorf("unexpected claims %+v", claims)
		}
	})
}

// --- OAuth state cookie ---

func TestParseOAuthState(t *testing.T) {
	e := newTestEnv(t)

	t.Run("wrong secret", func(t *testing.T) {
		other := &AuthHandler{OAuthStateSecret: []byte("someone-else")}
		signed, _ := other.signOAuthState(oauthStateClaims{State: "s", Verifier: "v", Provider: "google"})
		if _, err := e.h.parseOAuthState(signed); !errors.Is(err, errInvalidOAuthState) {
			t.Errorf("expected errInvalidOAuthState, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		c := oauthStateClaims{State: "s", Verifier: "v", Provider: "google"}
		c.RegisteredClaims = jwt.RegisteredClaims{
			Issuer:    oauthStateIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(e.h.OAuthStateSecret)
		if _, err := e.h.parseOAuthState(signed); err == nil {
			t.Error("expired state should be rejected")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		c := oauthStateClaims{State: "s", Verifier: "v", Provider: "google"}
		c.RegisteredClaims = jwt.RegisteredClaims{Issuer: oauthStateIssuer}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(e.h.OAuthStateSecret)
		if _, err := e.h.parseOAuthState(signed); err == nil {
			t.Error("state without expiry should be rejected")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := e.h.parseOAuthState("not.a.jwt"); err == nil {
			t.Error("garbage should be rejected")
		}
	})
}

// --- OAuthCallback ---

func TestOAuthCallback(t *testing.T) {
	t.Run("missing state cookie", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(nil, "state=s&code=c"))
		assertBadRequest(t, w, "missing oauth state")
	})

	t.Run("tampered cookie", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(&http.Cookie{Name: oauthStateCookieName, Value: "forged"}, "state=s&code=c"))
		assertBadRequest(t, w, "invalid oauth state")
	})

	t.Run("cookie for another provider", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "facebook"), "state=s&code=c"))
		assertBadRequest(t, w, "invalid oauth state")
	})

	t.Run("state mismatch", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=other&code=c"))
		assertUnauthorized(t, w, "invalid oauth state")
		if c := findCookie(w, oauthStateCookieName); c == nil || c.MaxAge != -1 {
			t.Error("state cookie should be cleared")
		}
	})

	t.Run("provider error", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=s&error=access_denied"))
		assertUnauthorized(t, w, "oauth authentication failed")
	})

	t.Run("exchange failure", func(t *testing.T) {
		e, p := newOAuthEnv(t, nil)
		p.err = errors.New("bad code")
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=s&code=c"))
		assertUnauthorized(t, w, "oauth authentication failed")
	})

	t.Run("unverified email", func(t *testing.T) {
		c := bobClaims()
		c.EmailVerified = false
		e, _ := newOAuthEnv(t, c)
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=s&code=c"))
		assertUnauthorized(t, w, "oauth account email is not verified")
		if len(e.ms.Users) != 0 {
			t.Error("no user should be provisioned")
		}
	})

	t.Run("new identity requires profile", func(t *testing.T) {
		e, p := newOAuthEnv(t, bobClaims())
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "the-verifier", "google"), "state=s&code=c"))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if p.verifier != "the-verifier" {
			t.Errorf("exchange should receive the cookie's verifier, got %q", p.verifier)
		}
		var body profileRequiredBody
		json.NewDecoder(w.Body).Decode(&body)
		if body.Status != "profile_required" || body.PendingToken == "" {
			t.Fatalf("unexpected body %+v", body)
		}
		if body.Email != "bob@x.com" || body.Username != "bob_builder" {
			t.Errorf("unexpected meta %+v", body)
		}
		if body.Avatar == nil || *body.Avatar != "https://img.example/bob.png" {
			t.Errorf("avatar: got %v", body.Avatar)
		}
		if findCookie(w, SessionCookieName) != nil {
			t.Error("no session cookie before completion")
		}
	})

	t.Run("complete user gets a session", func(t *testing.T) {
		bob := newUserWithPassword(t, "bob", "bob@x.com", "secret-pass")
		e, _ := newOAuthEnv(t, bobClaims(), bob)
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=s&code=c"))

		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", w.Code)
		}
		var body struct {
			Status string      `json:"status"`
			Token  string      `json:"token"`
			User   *store.User `json:"user"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if body.Status != "ok" || body.Token == "" || body.User == nil || body.User.ID != bob.ID {
			t.Fatalf("unexpected body %+v", body)
		}
		assertSessionCookie(t, w, body.Token, DefaultRememberTTL)
		if got := e.ms.ActionTypes(bob.ID); len(got) != 1 || got[0] != "login" {
			t.Errorf("expected login action, got %v", got)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		e, _ := newOAuthEnv(t, bobClaims())
		e.ms.GetUserErr = errors.New("db down")
		w := httptest.NewRecorder()
		e.h.OAuthCallback(w, callbackRequest(stateCookie(t, e.h, "s", "v", "google"), "state=s&code=c"))
		assertInternalServerError(t, w)
	})
}

// --- CompleteProfile ---

func TestCompleteProfile(t *testing.T) {
	complete := func(e *testEnv, token, username, password string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		e.h.CompleteProfile(w, jsonRequest("POST", "/complete-profile",
			fmt.Sprintf(`{"token":%q,"username":%q,"password":%q}`, token, username, password)))
		return w
	}

	t.Run("issues session on success", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)

		w := complete(e, pending.PendingToken, "bobby", "longpass1")
		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeSession(t, w)
		assertSessionCookie(t, w, resp.Token, DefaultRememberTTL)
		if resp.User.Username != "bobby" || !resp.User.IsProfileComplete {
			t.Errorf("unexpected user %+v", resp.User)
		}
		if got := e.ms.ActionTypes(resp.User.ID); len(got) != 1 || got[0] != "complete_profile" {
			t.Errorf("expected complete_profile action, got %v", got)
		}
	})

	t.Run("second redemption is not found", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)
		complete(e, pending.PendingToken, "bobby", "longpass1")
		assertMessage(t, complete(e, pending.PendingToken, "bobby2", "longpass1"), http.StatusNotFound, "pending profile not found")
	})

	t.Run("expired token is gone", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)
		e.clock.Advance(DefaultPendingTTL + time.Second)
		assertMessage(t, complete(e, pending.PendingToken, "bobby", "longpass1"), http.StatusGone, "pending profile expired, sign in again")
	})

	t.Run("username conflict", func(t *testing.T) {
		e := newTestEnv(t, newUserWithPassword(t, "taken", "t@x.com", "secret-pass"))
		pending := provisionPending(t, e.h.Profiles)
		assertMessage(t, complete(e, pending.PendingToken, "taken", "longpass1"), http.StatusConflict, "username already taken")
	})

	t.Run("missing fields", func(t *testing.T) {
		e := newTestEnv(t)
		assertBadRequest(t, complete(e, "", "bobby", "longpass1"), "token, username and password are required")
	})

	t.Run("short password", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)
		assertBadRequest(t, complete(e, pending.PendingToken, "bobby", "short"), "Password too short!")
	})

	t.Run("policy applies", func(t *testing.T) {
		e := newTestEnv(t)
		e.h.Policy = PasswordPolicy{RequireUppercase: true}
		pending := provisionPending(t, e.h.Profiles)
		assertBadRequest(t, complete(e, pending.PendingToken, "bobby", "longpass1"), "Password must contain at least one uppercase letter")
		if e.ms.PendingCount() != 1 {
			t.Error("rejected input must not consume the token")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		e := newTestEnv(t)
		w := httptest.NewRecorder()
		e.h.CompleteProfile(w, jsonRequest("POST", "/complete-profile", "{"))
		assertBadRequest(t, w, "error decoding request body")
	})

	t.Run("login works after completion", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)
		complete(e, pending.PendingToken, "bobby", "longpass1")

		w := httptest.NewRecorder()
		e.h.Login(w, jsonRequest("POST", "/login", `{"email":"bob@x.com","password":"longpass1"}`))
		if w.Code != http.StatusOK {
			t.Errorf("password login after completion: expected 200, got %d", w.Code)
		}
	})

	t.Run("body never exposes the hash", func(t *testing.T) {
		e := newTestEnv(t)
		pending := provisionPending(t, e.h.Profiles)
		w := complete(e, pending.PendingToken, "bobby", "longpass1")
		if strings.Contains(w.Body.String(), "argon2id") {
			t.Error("response leaks the password hash")
		}
	})
}
