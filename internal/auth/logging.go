// logging.go -- Request-scoped logging helpers.
//
// Wraps slog with the request's id, client address, method and path, plus the
// authenticated user when LoadUser has run.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if u, ok := UserFromContext(r.Context()); ok {
		attrs = append(attrs, "user_id", u.ID)
	}
	return attrs
}

func logDebug(r *http.Request, msg string, args ...any) {
	slog.Debug(msg, append(reqAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	slog.Info(msg, append(reqAttrs(r), args...)...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	slog.Warn(msg, append(reqAttrs(r), args...)...)
}

func logError(r *http.Request, msg string, args ...any) {
	slog.Error(msg, append(reqAttrs(r), args...)...)
}

// LogInfo is logInfo for other packages' handlers.
func LogInfo(r *http.Request, msg string, args ...any) { logInfo(r, msg, args...) }

// LogWarn is logWarn for other packages' handlers.
func LogWarn(r *http.Request, msg string, args ...any) { logWarn(r, msg, args...) }
