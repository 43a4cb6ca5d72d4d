// responses.go -- Package-wide HTTP response helpers.
//
// Shared by auth handlers, middleware and the resource API. Bodies are always JSON.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// message writes {"message": msg}.
func message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, struct {
		Message string `json:"message"`
	}{msg})
}

// InternalServerError logs the error, reports it to Sentry when a hub is attached,
// and returns a generic 500. Never exposes internal error details.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
	message(w, http.StatusInternalServerError, "internal server error")
}

// WriteError maps err to a status via StatusFor. Kind errors expose their message;
// anything unclassified becomes a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalServerError(w, r, err)
		return
	}
	var ke *kindError
	msg := http.StatusText(status)
	if errors.As(err, &ke) {
		msg = ke.msg
	}
	message(w, status, msg)
}

// BadRequest returns a 400 with the given message. Use for input validation failures.
func BadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	message(w, http.StatusBadRequest, msg)
}

// Unauthorized returns a 401. Keep msg generic to prevent user enumeration.
func Unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	message(w, http.StatusUnauthorized, msg)
}

// NotFound returns a 404 with the given message.
func NotFound(w http.ResponseWriter, msg string) {
	message(w, http.StatusNotFound, msg)
}

// Conflict returns a 409 with the given message.
func Conflict(w http.ResponseWriter, msg string) {
	message(w, http.StatusConflict, msg)
}

// TooManyRequests returns a 429.
func TooManyRequests(w http.ResponseWriter) {
	message(w, http.StatusTooManyRequests, "too many requests")
}

// OK returns a 200 with the given message.
func OK(w http.ResponseWriter, msg string) {
	message(w, http.StatusOK, msg)
}
