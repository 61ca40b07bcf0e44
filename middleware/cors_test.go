package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	mw := CORSMiddleware([]string{"https://example.com"})
	h := mw(noopHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("expected origin to be echoed back, got %s", got)
	}
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	mw := CORSMiddleware([]string{"https://example.com"})
	h := mw(noopHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Access-Control-Allow-Origin for an unlisted origin, got %s", got)
	}
}

func TestCORSWildcardAllowsAnyOrigin(t *testing.T) {
	mw := CORSMiddleware([]string{"*"})
	h := mw(noopHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Errorf("expected wildcard config to echo any origin, got %s", got)
	}
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := CORSMiddleware([]string{"*"})
	h := mw(next)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Error("expected preflight to short-circuit before reaching the next handler")
	}
}

func TestRequestIDMiddlewarePreservesExistingID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	})
	h := RequestIDMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "caller-supplied-id" {
		t.Errorf("expected caller-supplied X-Request-ID to be preserved, got %s", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "caller-supplied-id" {
		t.Errorf("expected response header to echo the same id, got %s", got)
	}
}

func TestRequestIDMiddlewareGeneratesWhenAbsent(t *testing.T) {
	h := RequestIDMiddleware(noopHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("expected a generated X-Request-ID when the request carries none")
	}
}
