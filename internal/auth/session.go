// session.go

// Session issuance, resolution and teardown, plus token transport helpers.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wenclerfic/wenclerfic/internal/metrics"
	"github.com/wenclerfic/wenclerfic/internal/store"
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "wenclerfic_session"

const (
	tokenBytes = 32
	// DefaultSessionTTL and DefaultRememberTTL apply when the manager's TTLs are zero.
	DefaultSessionTTL  = 7 * 24 * time.Hour
	DefaultRememberTTL = 30 * 24 * time.Hour
)

// legacyTokenPattern matches tokens minted by the pre-session-table deployment.
var legacyTokenPattern = regexp.MustCompile(`^token_(\d+)_\d+$`)

// IssuedSession is what a caller needs to hand a new session to the client.
type IssuedSession struct {
	Token     string
	TTL       time.Duration
	ExpiresAt time.Time
}

// SessionManager is stateless logic over the session store and its cache.
type SessionManager struct {
	Store SessionStore
	Cache SessionCache

	TTL         time.Duration
	RememberTTL time.Duration

	// AllowLegacyTokens accepts token_<userID>_<ts> bearer strings. Off unless migrating.
	AllowLegacyTokens bool

	// Now defaults to time.Now; tests override it.
	Now func() time.Time
}

func (m *SessionManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *SessionManager) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		if m.RememberTTL > 0 {
			return m.RememberTTL
		}
		return DefaultRememberTTL
	}
	if m.TTL > 0 {
		return m.TTL
	}
	return DefaultSessionTTL
}

// GenerateToken returns a 256-bit random token as hex and the SHA-256 of its raw bytes.
// Token goes to the client; hash goes in storage.
func GenerateToken() (string, []byte, error) {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", nil, fmt.Errorf("generating token with rand: %w", err)
	}
	sum := sha256.Sum256(raw[:])
	return hex.EncodeToString(raw[:]), sum[:], nil
}

// HashToken decodes a client token and returns its storage hash.
// ok is false for anything that GenerateToken could not have produced.
func HashToken(token string) ([]byte, bool) {
	if len(token) != tokenBytes*2 {
		return nil, false
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, false
	}
	sum := sha256.Sum256(raw)
	return sum[:], true
}

// cacheKey is the Redis form of a token hash.
func cacheKey(hash []byte) string { return hex.EncodeToString(hash) }

// Create issues a session for userID. Postgres is the source of truth; the cache
// write is best-effort.
func (m *SessionManager) Create(ctx context.Context, userID int64, rememberMe bool) (*IssuedSession, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	ttl := m.ttl(rememberMe)
	expiresAt := m.now().Add(ttl)

	if err := m.Store.CreateSession(ctx, userID, hash, expiresAt); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	err = m.Cache.SetSession(ctx, cacheKey(hash), store.CachedSession{UserID: userID, ExpiresAt: expiresAt}, ttl)
	if err != nil {
		slog.Warn("failed to cache session in redis", "error", err, "user_id", userID)
	}

	metrics.SessionCreated()
	return &IssuedSession{Token: token, TTL: ttl, ExpiresAt: expiresAt}, nil
}

// Resolve maps a token to its user. A missing, malformed, expired or orphaned
// token yields (nil, nil); errors are store failures only.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}

	hash, ok := HashToken(token)
	if !ok {
		if m.AllowLegacyTokens {
			return m.resolveLegacy(ctx, token)
		}
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}

	now := m.now()
	key := cacheKey(hash)

	cached, err := m.Cache.GetSession(ctx, key)
	switch {
	case err == nil && now.Before(cached.ExpiresAt):
		return m.loadUser(ctx, cached.UserID)
	case err != nil && !errors.Is(err, store.ErrCacheMiss):
		slog.Warn("session cache lookup failed, falling back to postgres", "error", err)
	}

	sess, err := m.Store.GetSessionByTokenHash(ctx, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	if !now.Before(sess.ExpiresAt) {
		m.purge(ctx, hash, sess.UserID)
		metrics.SessionResolved(metrics.ResolveExpired)
		return nil, nil
	}

	// Re-warm the cache for the remaining lifetime.
	if err := m.Cache.SetSession(ctx, key, store.CachedSession{UserID: sess.UserID, ExpiresAt: sess.ExpiresAt}, sess.ExpiresAt.Sub(now)); err != nil {
		slog.Warn("failed to re-cache session", "error", err)
	}
	return m.loadUser(ctx, sess.UserID)
}

func (m *SessionManager) loadUser(ctx context.Context, userID int64) (*store.User, error) {
	u, err := m.Store.GetUserByID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}
	metrics.SessionResolved(metrics.ResolveValid)
	return u, nil
}

// resolveLegacy is the only place the old token_<id>_<ts> format is understood.
// New sessions are never minted in this form.
func (m *SessionManager) resolveLegacy(ctx context.Context, token string) (*store.User, error) {
	match := legacyTokenPattern.FindStringSubmatch(token)
	if match == nil {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}
	userID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}
	u, err := m.Store.GetUserByID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.SessionResolved(metrics.ResolveMissing)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading legacy session user: %w", err)
	}
	metrics.SessionResolved(metrics.ResolveLegacy)
	return u, nil
}

// purge removes an expired session from both tiers. Failures are logged only;
// the session is already unusable.
func (m *SessionManager) purge(ctx context.Context, hash []byte, userID int64) {
	if err := m.Cache.DeleteSession(ctx, cacheKey(hash), userID); err != nil {
		slog.Warn("failed to delete expired session from redis", "error", err)
	}
	if err := m.Store.DeleteSession(ctx, hash); err != nil {
		slog.Warn("failed to delete expired session", "error", err)
	}
}

// Destroy ends the session for token. Unknown or malformed tokens are not an error.
// Resolve trusts a cache hit, so a failed cache delete is returned before Postgres
// is touched; the session stays intact and the caller can retry.
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	hash, ok := HashToken(token)
	if !ok {
		return nil
	}

	var userID int64
	if sess, err := m.Store.GetSessionByTokenHash(ctx, hash); err == nil {
		userID = sess.UserID
	}
	if err := m.Cache.DeleteSession(ctx, cacheKey(hash), userID); err != nil {
		return fmt.Errorf("deleting cached session: %w", err)
	}
	if err := m.Store.DeleteSession(ctx, hash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DestroyAllForUser ends every session belonging to userID. Like Destroy, a cache
// failure aborts before Postgres so nothing reports revoked while still cached.
func (m *SessionManager) DestroyAllForUser(ctx context.Context, userID int64) error {
	if err := m.Cache.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting cached user sessions: %w", err)
	}
	if err := m.Store.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// Sweeper is the store surface Sweep needs.
type Sweeper interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
	CleanupExpiredPendingProfiles(ctx context.Context) (int64, error)
}

// Sweep deletes expired sessions and pending profiles. Lazy expiry in Resolve and
// Complete is enough for correctness; this only bounds table growth.
func Sweep(ctx context.Context, s Sweeper) error {
	sessions, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("sweeping sessions: %w", err)
	}
	pending, err := s.CleanupExpiredPendingProfiles(ctx)
	if err != nil {
		return fmt.Errorf("sweeping pending profiles: %w", err)
	}
	slog.Info("swept expired records", "sessions", sessions, "pending_profiles", pending)
	return nil
}

// RunSweeper calls Sweep immediately and then every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if err := Sweep(ctx, s); err != nil {
		slog.Error("expiry sweep failed", "error", err)
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := Sweep(ctx, s); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// ExtractToken reads the session token from "Authorization: Bearer" first, then
// the session cookie. Empty when neither is present.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// CookieOptions are the deployment-specific cookie attributes.
type CookieOptions struct {
	Secure bool
	Domain string
}

// SetSessionCookie writes the session cookie with HttpOnly, SameSite=Lax and Max-Age = TTL.
func SetSessionCookie(w http.ResponseWriter, opts CookieOptions, s *IssuedSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.Token,
		Path:     "/",
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.TTL.Seconds()),
	})
}

// ClearSessionCookie overwrites the session cookie with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
