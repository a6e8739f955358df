package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rekwert/tesor/pkg/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := crypto.HashSecret("top-secret")
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}

	tests := []struct {
		name       string
		keyHash    string
		requestKey string
		wantStatus int
	}{
		{
			name:       "no hash configured allows everything",
			keyHash:    "",
			requestKey: "",
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid key passes",
			keyHash:    hash,
			requestKey: "top-secret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong key rejected",
			keyHash:    hash,
			requestKey: "wrong",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing key rejected",
			keyHash:    hash,
			requestKey: "",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyAuth(tt.keyHash)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
			if tt.requestKey != "" {
				req.Header.Set("X-API-Key", tt.requestKey)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func setDebugCredentials(t *testing.T, username, passwordHash string) {
	t.Helper()
	prevUser, prevHash := debugUsername, debugPasswordHash
	debugUsername, debugPasswordHash = username, passwordHash
	t.Cleanup(func() {
		debugUsername, debugPasswordHash = prevUser, prevHash
	})
}

func TestDebugAuthDevPassthrough(t *testing.T) {
	setDebugCredentials(t, "", "")
	t.Setenv("ENV", "development")

	rec := httptest.NewRecorder()
	DebugAuth(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 in development, got %d", rec.Code)
	}
}

func TestDebugAuthDisabledInProduction(t *testing.T) {
	setDebugCredentials(t, "", "")
	t.Setenv("ENV", "production")

	rec := httptest.NewRecorder()
	DebugAuth(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403 without credentials, got %d", rec.Code)
	}
}

func TestDebugAuthBasicAuth(t *testing.T) {
	hash, err := crypto.HashSecret("debug-pass")
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	setDebugCredentials(t, "admin", hash)

	tests := []struct {
		name       string
		user       string
		pass       string
		noAuth     bool
		wantStatus int
	}{
		{name: "valid credentials", user: "admin", pass: "debug-pass", wantStatus: http.StatusOK},
		{name: "wrong password", user: "admin", pass: "nope", wantStatus: http.StatusUnauthorized},
		{name: "wrong username", user: "root", pass: "debug-pass", wantStatus: http.StatusUnauthorized},
		{name: "no credentials", noAuth: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			DebugAuth(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}
