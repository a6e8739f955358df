package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rekwert/tesor/internal/broker"
	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/internal/websocket"
	"github.com/rekwert/tesor/pkg/crypto"
)

func testDependencies(t *testing.T) *Dependencies {
	t.Helper()

	cfg := &config.Config{}
	cfg.Exchanges.Enabled = []string{"alpha", "beta"}
	cfg.Scanner.Symbols = []string{"BTC/USDT"}

	store := marketdata.NewStore(cfg.Exchanges.Enabled)
	b := broker.New()
	t.Cleanup(b.Close)

	return &Dependencies{
		Config:     cfg,
		Store:      store,
		Broker:     b,
		Hub:        websocket.NewHub(b),
		Supervisor: marketdata.NewSupervisor(cfg, store),
	}
}

func TestSetupRoutes(t *testing.T) {
	router := SetupRoutes(testDependencies(t))

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK, wantBody: "OK"},
		{name: "status", path: "/status", wantStatus: http.StatusOK, wantBody: `"status":"running"`},
		{name: "opportunities", path: "/api/v1/opportunities", wantStatus: http.StatusOK, wantBody: "[]"},
		{name: "monitored pairs", path: "/api/v1/monitored_pairs", wantStatus: http.StatusOK, wantBody: `"alpha"`},
		{name: "tickers", path: "/api/v1/tickers", wantStatus: http.StatusOK, wantBody: "{}"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "go_goroutines"},
		{name: "unknown route", path: "/api/v1/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSetupRoutesAPIKeyProtection(t *testing.T) {
	hash, err := crypto.HashSecret("dashboard-key")
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}

	deps := testDependencies(t)
	deps.Config.Security.APIKeyHash = hash
	router := SetupRoutes(deps)

	// Без ключа API закрыт
	req := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without key, got %d", rec.Code)
	}

	// С ключом проходит
	req = httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	req.Header.Set("X-API-Key", "dashboard-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 with key, got %d", rec.Code)
	}

	// Корневые маршруты не защищаются ключом
	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for /status without key, got %d", rec.Code)
	}
}

func TestSetupRoutesNilDependencies(t *testing.T) {
	router := SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected health to work without dependencies, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unregistered handler, got %d", rec.Code)
	}
}
