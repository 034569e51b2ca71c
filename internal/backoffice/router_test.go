package backoffice

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duelbackend/arena/internal/config"
)

// TestSetupBackofficeRouter_IPWhitelist confirms a request from an
// unlisted IP is rejected before auth even runs.
func TestSetupBackofficeRouter_IPWhitelist(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.BackofficeAllowedIPs = "10.0.0.1"
	r := SetupBackofficeRouter(BackofficeDeps{Cfg: cfg})

	req := httptest.NewRequest(http.MethodGet, "/admin/ledger/rake", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

// TestSetupBackofficeRouter_AuthRequired confirms an allowlisted IP still
// needs a valid bearer token.
func TestSetupBackofficeRouter_AuthRequired(t *testing.T) {
	cfg := &config.Config{}
	r := SetupBackofficeRouter(BackofficeDeps{Cfg: cfg})

	req := httptest.NewRequest(http.MethodGet, "/admin/ledger/rake", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
