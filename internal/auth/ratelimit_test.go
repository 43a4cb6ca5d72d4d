// ratelimit_test.go

// unit tests for the per-IP token bucket.
package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPRateLimiter(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	request := func(addr string) *http.Request {
		r := httptest.NewRequest("POST", "/login", nil)
		r.RemoteAddr = addr
		return r
	}

	t.Run("burst then 429", func(t *testing.T) {
		rl := NewIPRateLimiter(t.Context(), 0.001, 3)
		h := rl.Middleware(ok)
		for i := range 3 {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, request("10.0.0.1:1234"))
			if w.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, w.Code)
			}
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("10.0.0.1:5678"))
		assertMessage(t, w, http.StatusTooManyRequests, "too many requests")
	})

	t.Run("buckets are per ip", func(t *testing.T) {
		rl := NewIPRateLimiter(t.Context(), 0.001, 1)
		h := rl.Middleware(ok)
		h.ServeHTTP(httptest.NewRecorder(), request("10.0.0.1:1"))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("10.0.0.2:1"))
		if w.Code != http.StatusOK {
			t.Errorf("second ip should have its own bucket, got %d", w.Code)
		}
	})

	t.Run("address without port", func(t *testing.T) {
		rl := NewIPRateLimiter(t.Context(), 0.001, 1)
		h := rl.Middleware(ok)
		h.ServeHTTP(httptest.NewRecorder(), request("10.0.0.3"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("10.0.0.3"))
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", w.Code)
		}
	})
}
