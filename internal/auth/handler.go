// handler.go -- HTTP handlers for the /api/auth endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/captcha"
	"github.com/wenclerfic/wenclerfic/internal/metrics"
	"github.com/wenclerfic/wenclerfic/internal/oauth"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// UserStore is the credential store surface. Satisfied by *store.PostgresStore;
// defined here (at consumer) per Go convention.
type UserStore interface {
	// CreateUser inserts u and fills its ID and timestamps.
	// Returns store.ErrDuplicateUsername or store.ErrDuplicateEmail on collision.
	CreateUser(ctx context.Context, u *store.User) error

	// GetUserByID, GetUserByEmail and GetUserByUsername return pgx.ErrNoRows when absent.
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)

	// UpdatePasswordHash replaces the stored credential.
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error

	// SwapPasswordHash replaces the credential only if it still equals oldHash.
	SwapPasswordHash(ctx context.Context, userID int64, oldHash, newHash string) (bool, error)
}

// SessionStore is the durable session surface used by SessionManager.
type SessionStore interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)

	CreateSession(ctx context.Context, userID int64, tokenHash []byte, expiresAt time.Time) error

	// GetSessionByTokenHash returns the row even when expired; pgx.ErrNoRows when absent.
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*store.Session, error)

	// DeleteSession is a no-op for unknown hashes.
	DeleteSession(ctx context.Context, tokenHash []byte) error

	DeleteAllUserSessions(ctx context.Context, userID int64) error
}

// ProfileStore is the surface ProfileFlow needs.
type ProfileStore interface {
	UserStore

	// ReplacePendingProfile supersedes any pending profile already held by p.UserID.
	ReplacePendingProfile(ctx context.Context, p *store.PendingProfile) error

	// GetPendingProfileByTokenHash returns the row even when expired; pgx.ErrNoRows when absent.
	GetPendingProfileByTokenHash(ctx context.Context, tokenHash []byte) (*store.PendingProfile, error)

	DeletePendingProfile(ctx context.Context, tokenHash []byte) error

	// CompletePendingProfile consumes the token and completes the user atomically.
	// pgx.ErrNoRows when the token is already gone; ErrDuplicateUsername on collision.
	CompletePendingProfile(ctx context.Context, tokenHash []byte, username, passwordHash string) (*store.User, error)
}

// ActionLogger appends to the user action log.
type ActionLogger interface {
	LogAction(ctx context.Context, a store.UserAction) error
}

// Store is everything the auth handlers touch in Postgres.
type Store interface {
	ProfileStore
	SessionStore
	ActionLogger
	Sweeper
	CheckHealth(ctx context.Context) error
}

// SessionCache defines session cache operations. Satisfied by *store.RedisStore
// and store.NoopSessionCache.
type SessionCache interface {
	// GetSession returns store.ErrCacheMiss when the key is absent.
	GetSession(ctx context.Context, tokenHash string) (*store.CachedSession, error)

	// SetSession caches sess for ttl. Non-positive ttl is skipped.
	SetSession(ctx context.Context, tokenHash string, sess store.CachedSession, ttl time.Duration) error

	// DeleteSession removes the session and its entry in the user tracking set.
	DeleteSession(ctx context.Context, tokenHash string, userID int64) error

	// DeleteAllUserSessions removes all cached sessions for a user.
	DeleteAllUserSessions(ctx context.Context, userID int64) error

	CheckHealth(ctx context.Context) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow returns store.ErrRateLimitExceeded when locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// invalidCredentials is the single message for every failed password login.
const invalidCredentials = "invalid email or password"

// LoginEmailPolicy is the default per-email limit on login attempts.
var LoginEmailPolicy = store.RateLimit{
	MaxAttempts: 10,
	Window:      10 * time.Minute,
	LockoutTTL:  15 * time.Minute,
}

// AuthHandler holds dependencies for all /api/auth HTTP handlers and middleware.
type AuthHandler struct {
	PS Store
	RS SessionCache
	RL RateLimiter

	Sessions *SessionManager
	Profiles *ProfileFlow
	Hasher   Hasher
	Policy   PasswordPolicy

	// Captcha guards registration; nil disables the check.
	Captcha captcha.Verifier

	OAuthProviders   map[string]oauth.Provider
	OAuthStateSecret []byte

	Cookie         CookieOptions
	LoginRateLimit store.RateLimit

	dummyOnce sync.Once
	dummyHash string
}

// dummyPasswordHash is a live Argon2id hash made with h.Hasher on first use.
// Logins for unknown or incomplete accounts verify against it, so they cost the
// same as a wrong password under whatever ARGON2_* parameters are configured.
func (h *AuthHandler) dummyPasswordHash() string {
	h.dummyOnce.Do(func() {
		hash, err := h.Hasher.Hash("dummy-password")
		if err != nil {
			slog.Error("failed to build dummy password hash", "error", err)
			return
		}
		h.dummyHash = hash
	})
	return h.dummyHash
}

// sessionResponse is the body returned whenever a session is issued.
type sessionResponse struct {
	User      *store.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func (h *AuthHandler) issue(w http.ResponseWriter, status int, user *store.User, s *IssuedSession) {
	SetSessionCookie(w, h.Cookie, s)
	JSON(w, status, sessionResponse{User: user, Token: s.Token, ExpiresAt: s.ExpiresAt})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Register handles POST /register: username + email + password signup.
// Returns 201 with a session, 400 for validation errors, 409 for duplicates.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username     string `json:"username"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		RememberMe   *bool  `json:"rememberMe"`
		CaptchaToken string `json:"captchaToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode register input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if msg := ValidateUsername(in.Username); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if msg := ValidateEmail(in.Email); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if msg := ValidatePassword(in.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if failures := h.Policy.Validate(in.Password); len(failures) > 0 {
		BadRequest(w, r, failures[0])
		return
	}

	if h.Captcha != nil {
		if err := h.Captcha.Verify(r.Context(), in.CaptchaToken, clientIP(r)); err != nil {
			logInfo(r, "registration captcha rejected", "error", err)
			BadRequest(w, r, "captcha verification failed")
			return
		}
	}

	hash, err := h.Hasher.Hash(in.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	user := &store.User{
		Username:          in.Username,
		Email:             in.Email,
		PasswordHash:      hash,
		IsProfileComplete: true,
	}
	if err := h.PS.CreateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			Conflict(w, "username already taken")
		case errors.Is(err, store.ErrDuplicateEmail):
			Conflict(w, "email already registered")
		default:
			logError(r, "failed to create user", "error", err)
			InternalServerError(w, r, err)
		}
		return
	}

	remember := in.RememberMe == nil || *in.RememberMe
	sess, err := h.Sessions.Create(r.Context(), user.ID, remember)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	LogAction(r, h.PS, store.UserAction{UserID: user.ID, ActionType: "register"})
	logInfo(r, "user registered", "user_id", user.ID)
	h.issue(w, http.StatusCreated, user, sess)
}

// Login handles POST /login: email + password authentication.
// Every credential failure is the same vague 401. The dummy hash equalises timing
// when the account doesn't exist.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		BadRequest(w, r, "email and password are required")
		return
	}
	// Malformed addresses never become rate-limit keys; same vague 401 as a bad password.
	if msg := ValidateEmail(email); msg != "" {
		logInfo(r, "login attempted with malformed email")
		metrics.Login("password", "failed")
		Unauthorized(w, r, invalidCredentials)
		return
	}

	// Checked before any DB work so rejected requests never reach Argon2id.
	if err := h.RL.Allow(r.Context(), "login:email:"+email, h.LoginRateLimit); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "login rate limited")
			metrics.Login("password", "rate_limited")
			TooManyRequests(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			InternalServerError(w, r, err)
			return
		}
		h.Hasher.Verify(in.Password, h.dummyPasswordHash())
		logInfo(r, "login attempted with non-existent email")
		metrics.Login("password", "failed")
		Unauthorized(w, r, invalidCredentials)
		return
	}

	if !user.IsProfileComplete || IsPlaceholder(user.PasswordHash) {
		h.Hasher.Verify(in.Password, h.dummyPasswordHash())
		logInfo(r, "password login attempted on incomplete oauth account", "user_id", user.ID)
		metrics.Login("password", "failed")
		Unauthorized(w, r, invalidCredentials)
		return
	}

	if !h.Hasher.Verify(in.Password, user.PasswordHash) {
		logInfo(r, "login attempted with incorrect password", "user_id", user.ID)
		metrics.Login("password", "failed")
		Unauthorized(w, r, invalidCredentials)
		return
	}

	if NeedsRehash(user.PasswordHash) {
		h.migratePassword(r, user.ID, in.Password, user.PasswordHash)
	}

	sess, err := h.Sessions.Create(r.Context(), user.ID, in.RememberMe)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	metrics.Login("password", "ok")
	LogAction(r, h.PS, store.UserAction{UserID: user.ID, ActionType: "login"})
	logInfo(r, "user logged in successfully", "user_id", user.ID, "remember_me", in.RememberMe)
	h.issue(w, http.StatusOK, user, sess)
}

// migratePassword rehashes a legacy credential in the background. The login that
// triggered it never waits on or fails because of it.
func (h *AuthHandler) migratePassword(r *http.Request, userID int64, password, stored string) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := h.Hasher.MigrateIfNeeded(ctx, h.PS, userID, password, stored); err != nil {
			logWarn(r, "legacy password migration failed", "error", err, "user_id", userID)
			return
		}
		logInfo(r, "migrated legacy password hash", "user_id", userID)
	}()
}

// Session handles GET /session: returns the caller's user or 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		var err error
		user, err = h.Sessions.Resolve(r.Context(), ExtractToken(r))
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
	}
	if user == nil {
		ClearSessionCookie(w, h.Cookie)
		Unauthorized(w, r, "not authenticated")
		return
	}
	JSON(w, http.StatusOK, struct {
		User *store.User `json:"user"`
	}{user})
}

// Logout handles POST /logout: ends the presented session, if any. Always 200.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Destroy(r.Context(), ExtractToken(r)); err != nil {
		logError(r, "failed to delete session", "error", err)
		InternalServerError(w, r, err)
		return
	}
	if u, ok := UserFromContext(r.Context()); ok {
		LogAction(r, h.PS, store.UserAction{UserID: u.ID, ActionType: "logout"})
	}
	ClearSessionCookie(w, h.Cookie)
	logInfo(r, "user logged out")
	OK(w, "logged out")
}

// LogoutAll handles POST /logout-all: ends every session for the authenticated user.
// Mount behind RequireAuth.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		logError(r, "logout-all called without user in context")
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	if err := h.Sessions.DestroyAllForUser(r.Context(), user.ID); err != nil {
		InternalServerError(w, r, err)
		return
	}

	ClearSessionCookie(w, h.Cookie)
	logInfo(r, "user logged out of all devices", "user_id", user.ID)
	OK(w, "logged out of all devices")
}

// PasswordChange handles POST /password/change: verifies the current password,
// stores the new hash and ends every session. Mount behind RequireAuth.
func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode password change input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}
	if in.CurrentPassword == "" {
		BadRequest(w, r, "currentPassword required")
		return
	}
	if msg := ValidatePassword(in.NewPassword); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if failures := h.Policy.Validate(in.NewPassword); len(failures) > 0 {
		BadRequest(w, r, failures[0])
		return
	}

	ctxUser, ok := UserFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	// Re-read: the context copy may predate a concurrent change.
	user, err := h.PS.GetUserByID(r.Context(), ctxUser.ID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if !h.Hasher.Verify(in.CurrentPassword, user.PasswordHash) {
		Unauthorized(w, r, "invalid credentials")
		return
	}

	hash, err := h.Hasher.Hash(in.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	// Revoke first: if revocation fails the old password stays and the user can retry.
	if err := h.Sessions.DestroyAllForUser(r.Context(), user.ID); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.PS.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
		InternalServerError(w, r, err)
		return
	}

	LogAction(r, h.PS, store.UserAction{UserID: user.ID, ActionType: "password_change"})
	ClearSessionCookie(w, h.Cookie)
	logInfo(r, "user changed password", "user_id", user.ID)
	OK(w, "password updated")
}

// LogAction records a in the user action log. Failures are logged and never fail the request.
func LogAction(r *http.Request, l ActionLogger, a store.UserAction) {
	if err := l.LogAction(r.Context(), a); err != nil {
		logWarn(r, "failed to record user action", "error", err, "action", a.ActionType)
	}
}
