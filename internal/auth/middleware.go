// middleware.go

// Session authentication middleware.
package auth

import (
	"context"
	"net/http"

	"github.com/wenclerfic/wenclerfic/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

// WithUser returns ctx carrying user. Exported for handler tests in other packages.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user. false when the request is anonymous
// or LoadUser hasn't run.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey).(*store.User)
	return u, ok && u != nil
}

// LoadUser resolves the request's token, if any, and stores the user in context.
// Anonymous requests pass through untouched; reads are public.
func (h *AuthHandler) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.Sessions.Resolve(r.Context(), token)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if user == nil {
			logDebug(r, "request carried an unusable session token")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAuth returns 401 unless the request resolves to a user. Runs LoadUser's
// resolution itself when it hasn't happened yet.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.Sessions.Resolve(r.Context(), ExtractToken(r))
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if user == nil {
			logWarn(r, "require auth failed", "reason", "no_valid_session")
			Unauthorized(w, r, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
