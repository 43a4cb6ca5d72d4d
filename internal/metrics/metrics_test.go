package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/fics/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/fics/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/api/fics/"+id, nil))
		if w.Code != http.StatusTeapot {
			t.Fatalf("status: expected 418, got %d", w.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/fics/{id}", "418"))
	if after-before != 2 {
		t.Errorf("expected both requests under one route label, got delta %v", after-before)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(sessionResolutions.WithLabelValues(ResolveExpired))
	SessionResolved(ResolveExpired)
	if got := testutil.ToFloat64(sessionResolutions.WithLabelValues(ResolveExpired)); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "wenclerfic_session_resolutions_total") {
		t.Error("expected /metrics to expose session resolutions")
	}
}
