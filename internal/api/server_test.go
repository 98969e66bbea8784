package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"pharmacy-finder/internal/config"
)

func adminServer(token string) *Server {
	return &Server{cfg: config.Config{AdminToken: token}}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid token", func(t *testing.T) {
		s := adminServer("secret")
		req := httptest.NewRequest(http.MethodPost, "/admin/generate", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		s.requireAdmin(ok).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		s := adminServer("secret")
		req := httptest.NewRequest(http.MethodPost, "/admin/generate", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		s.requireAdmin(ok).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		s := adminServer("secret")
		req := httptest.NewRequest(http.MethodPost, "/admin/generate", nil)
		rec := httptest.NewRecorder()
		s.requireAdmin(ok).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("no token configured disables surface", func(t *testing.T) {
		s := adminServer("")
		req := httptest.NewRequest(http.MethodPost, "/admin/generate", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rec := httptest.NewRecorder()
		s.requireAdmin(ok).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:55001"
	if got := clientAddr(req); got != "10.1.2.3" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientAddr(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
