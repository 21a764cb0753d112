package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type countingMetrics struct {
	failures  map[string]int
	successes map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{failures: map[string]int{}, successes: map[string]int{}}
}

func (m *countingMetrics) IncAuthFailure(t string) { m.failures[t]++ }
func (m *countingMetrics) IncAuthSuccess(t string) { m.successes[t]++ }

// --- GenerateAPIKey tests ---

func TestGenerateAPIKey_PrefixAndLength(t *testing.T) {
	key, plaintext, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("plaintext key should start with %q, got %q", KeyPrefix, plaintext)
	}
	// "pantry_" (7) + 32 random chars = 39
	if len(plaintext) != 39 {
		t.Errorf("expected plaintext length 39, got %d", len(plaintext))
	}
	if key.Prefix != plaintext[:14] {
		t.Errorf("expected prefix %q, got %q", plaintext[:14], key.Prefix)
	}
	if key.Hash != HashKey(plaintext) {
		t.Error("hash does not match HashKey(plaintext)")
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		_, plaintext, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate key generated: %s", plaintext)
		}
		seen[plaintext] = true
	}
}

func TestHashKey(t *testing.T) {
	if HashKey("a") != HashKey("a") {
		t.Error("HashKey should be deterministic")
	}
	if HashKey("a") == HashKey("b") {
		t.Error("different inputs should hash differently")
	}
	if len(HashKey("a")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashKey("a")))
	}
}

func TestClientContext_RoundTrip(t *testing.T) {
	ctx := ContextWithClient(context.Background(), &Client{Name: "ios-backend"})
	got := ClientFromContext(ctx)
	if got == nil || got.Name != "ios-backend" {
		t.Fatalf("expected client from context, got %+v", got)
	}
	if ClientFromContext(context.Background()) != nil {
		t.Error("expected nil from empty context")
	}
}

// --- ServiceKeyMiddleware tests ---

func TestServiceKeyMiddleware(t *testing.T) {
	plaintext := "pantry_validkey1234567890abcdefgh"
	svc := NewService(map[string]string{"ios-backend": HashKey(plaintext)}, "")
	m := newCountingMetrics()
	svc.SetMetrics(m)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClientFromContext(r.Context()); c == nil || c.Name != "ios-backend" {
			t.Errorf("expected client in context inside handler, got %+v", c)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid key", "Bearer " + plaintext, http.StatusOK},
		{"invalid key", "Bearer pantry_wrongkey000000000000000000", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header no bearer", "Token " + plaintext, http.StatusUnauthorized},
		{"bearer only no token", "Bearer", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/u1/requests", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			ServiceKeyMiddleware(svc)(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus != http.StatusOK {
				assertJSONError(t, rr, "unauthorized")
			}
		})
	}

	if m.successes["service"] != 1 || m.failures["service"] != 4 {
		t.Errorf("unexpected auth metrics: successes=%v failures=%v", m.successes, m.failures)
	}
}

// --- AdminAuthMiddleware tests ---

func TestAdminAuthMiddleware(t *testing.T) {
	adminKey := "super-secret-admin-key"
	hash, err := HashAdminKey(adminKey)
	if err != nil {
		t.Fatalf("HashAdminKey: %v", err)
	}
	svc := NewService(nil, hash)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"valid admin key", adminKey, http.StatusOK},
		{"wrong admin key", "wrong-key", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/metrics", nil)
			if tt.key != "" {
				req.Header.Set(AdminKeyHeader, tt.key)
			}
			rr := httptest.NewRecorder()

			AdminAuthMiddleware(svc)(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus != http.StatusOK {
				assertJSONError(t, rr, "unauthorized")
			}
		})
	}
}

func TestAdminAuthMiddleware_Disabled(t *testing.T) {
	svc := NewService(nil, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/metrics", nil)
	req.Header.Set(AdminKeyHeader, "anything")
	rr := httptest.NewRecorder()

	AdminAuthMiddleware(svc)(http.NotFoundHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	assertJSONError(t, rr, "forbidden")
}

// assertJSONError checks that the response body contains the expected error JSON structure.
func assertJSONError(t *testing.T, rr *httptest.ResponseRecorder, code string) {
	t.Helper()

	ct := rr.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != code {
		t.Errorf("expected error code %q, got %q", code, resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
