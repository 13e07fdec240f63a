package tenant

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type stubAuthenticator struct {
	info *Info
	ok   bool
	err  error
}

func (s stubAuthenticator) Authenticate(_ context.Context, _ string) (*Info, bool, error) {
	return s.info, s.ok, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddleware_MissingHeader(t *testing.T) {
	mw := Middleware(stubAuthenticator{}, discardLogger())
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if called {
		t.Error("next handler should not run without an API key")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidKey(t *testing.T) {
	mw := Middleware(stubAuthenticator{ok: false}, discardLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "al_bogus")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ValidKeyInjectsTenant(t *testing.T) {
	info := &Info{ID: uuid.New(), Slug: "acme", Tier: "pro"}
	mw := Middleware(stubAuthenticator{info: info, ok: true}, discardLogger())

	var seen *Info
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "al_validkey")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if seen == nil || seen.ID != info.ID {
		t.Fatalf("expected tenant info injected into context, got %v", seen)
	}
}
