package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingers    map[string]Pinger
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "no dependencies",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ok"},
		},
		{
			name:       "all dependencies up",
			pingers:    map[string]Pinger{"database": &fakePinger{}, "devices": &fakePinger{}},
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ok", "database": "connected", "devices": "connected"},
		},
		{
			name:       "one dependency down",
			pingers:    map[string]Pinger{"database": &fakePinger{}, "devices": &fakePinger{err: errors.New("gone")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"status": "degraded", "database": "connected", "devices": "unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRouter(RouterDeps{Pingers: tt.pingers})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			for k, want := range tt.wantBody {
				if body[k] != want {
					t.Errorf("%s: got %q, want %q", k, body[k], want)
				}
			}
		})
	}
}

func TestWellKnownHandler(t *testing.T) {
	handler := NewRouter(RouterDeps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/pantry.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var manifest map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	for _, field := range []string{"name", "api_base", "auth", "endpoints", "health"} {
		if _, ok := manifest[field]; !ok {
			t.Errorf("manifest missing required field %q", field)
		}
	}
	endpoints, ok := manifest["endpoints"].(map[string]interface{})
	if !ok {
		t.Fatal("endpoints field is not an object")
	}
	for _, ep := range []string{"accounts", "account_usage", "device_requests", "recipes"} {
		if _, ok := endpoints[ep]; !ok {
			t.Errorf("endpoints missing %q", ep)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name            string
		allowedOrigins  []string
		requestOrigin   string
		method          string
		wantStatus      int
		wantAllowOrigin string
	}{
		{"wildcard", []string{"*"}, "https://example.com", http.MethodGet, http.StatusOK, "*"},
		{"listed origin echoed", []string{"https://app.example.com"}, "https://app.example.com", http.MethodGet, http.StatusOK, "https://app.example.com"},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.com", http.MethodGet, http.StatusOK, ""},
		{"no origin header", []string{"*"}, "", http.MethodGet, http.StatusOK, ""},
		{"preflight", []string{"*"}, "https://example.com", http.MethodOptions, http.StatusNoContent, "*"},
		{"nothing allowed", nil, "https://example.com", http.MethodGet, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := corsMiddleware(tt.allowedOrigins)(inner)

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Access-Control-Allow-Origin: got %q, want %q", got, tt.wantAllowOrigin)
			}
			if tt.wantAllowOrigin != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Key") {
				t.Error("expected X-Admin-Key in Access-Control-Allow-Headers")
			}
		})
	}
}

func TestSecureHeaders(t *testing.T) {
	handler := NewRouter(RouterDeps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(captured) != 32 {
		t.Errorf("expected generated 32-char ID, got %q", captured)
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Errorf("response header %q does not match context %q", rec.Header().Get("X-Request-ID"), captured)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "  abc-123 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if captured != "abc-123" {
		t.Errorf("expected forwarded ID abc-123, got %q", captured)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var hasDeadline bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	timeoutMiddleware(time.Second)(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("expected a deadline on the request context")
	}

	timeoutMiddleware(0)(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if hasDeadline {
		t.Error("expected no deadline when the timeout is disabled")
	}
}

func TestReadJSON(t *testing.T) {
	var result struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"test"}`))
	if err := readJSON(req, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "test" {
		t.Errorf("unexpected result: %+v", result)
	}

	for _, body := range []string{"", "{not json"} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := readJSON(req, &result); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-10-12", time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), false},
		{"2026-10-12T08:30:00Z", time.Date(2026, 10, 12, 8, 30, 0, 0, time.UTC), false},
		{"12/10/2026", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTimeParam(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimeParam(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimeParam(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRouter_NotFound(t *testing.T) {
	handler := NewRouter(RouterDeps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
