package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// AdminKeyHeader carries the admin key on admin routes.
const AdminKeyHeader = "X-Admin-Key"

type contextKey int

const clientContextKey contextKey = iota

// ContextWithClient returns a new context carrying the given client.
func ContextWithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// ClientFromContext extracts the client from the context, or nil if not present.
func ClientFromContext(ctx context.Context) *Client {
	c, _ := ctx.Value(clientContextKey).(*Client)
	return c
}

// ServiceKeyMiddleware authenticates requests carrying a service key in the
// Authorization header and injects the resolved client into the context.
func ServiceKeyMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				svc.record("service", false)
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			client, ok := svc.lookupClient(token)
			if !ok {
				svc.record("service", false)
				writeUnauthorized(w, "invalid service key")
				return
			}

			svc.record("service", true)
			next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
		})
	}
}

// AdminAuthMiddleware requires the X-Admin-Key header to match the configured
// bcrypt hash. With no admin key configured every request is forbidden.
func AdminAuthMiddleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(svc.adminKeyHash) == 0 {
				svc.record("admin", false)
				writeForbidden(w, "admin access is disabled")
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				svc.record("admin", false)
				writeUnauthorized(w, "missing admin key")
				return
			}
			if !svc.checkAdminKey(key) {
				svc.record("admin", false)
				writeUnauthorized(w, "invalid admin key")
				return
			}

			svc.record("admin", true)
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "forbidden", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{Code: code, Message: message},
	})
}
