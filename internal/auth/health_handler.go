// health_handler.go -- GET /health.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wenclerfic/wenclerfic/internal/store"
)

// healthTimeout bounds each dependency ping so a hung backend can't stall the health check.
const healthTimeout = 2 * time.Second

type healthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth reports "ok", "error" or "disabled" per dependency plus an overall status.
// 503 when any configured dependency fails; a Redis-less deployment is still healthy.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	deps := []struct {
		name    string
		checker healthChecker
	}{
		{"postgres", h.PS},
		{"redis", h.RS},
	}

	body := map[string]string{"status": "ok"}
	status := http.StatusOK
	for _, d := range deps {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := d.checker.CheckHealth(ctx)
		cancel()

		switch {
		case err == nil:
			body[d.name] = "ok"
		case errors.Is(err, store.ErrCacheDisabled):
			body[d.name] = "disabled"
		default:
			logError(r, "health check failed", "dependency", d.name, "error", err)
			body[d.name] = "error"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	JSON(w, status, body)
}
