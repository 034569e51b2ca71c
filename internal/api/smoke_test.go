package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duelbackend/arena/internal/config"
)

// TestSetupRouter_Health exercises route construction end-to-end (every
// handler is wired with nil collaborators, which is fine: health doesn't
// touch any of them) and checks the one route with no auth, no params, and
// no domain behavior of its own.
func TestSetupRouter_Health(t *testing.T) {
	cfg := &config.Config{}
	r := SetupRouter(RouterDeps{Cfg: cfg})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// TestSetupRouter_AuthRequired confirms a protected route rejects an
// unauthenticated request rather than panicking on a nil dependency.
func TestSetupRouter_AuthRequired(t *testing.T) {
	cfg := &config.Config{}
	r := SetupRouter(RouterDeps{Cfg: cfg})

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
