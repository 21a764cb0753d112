package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/pantry/internal/auth"
)

// auditLog emits a structured audit log entry for an account administration
// action.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", clientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if c := auth.ClientFromContext(r.Context()); c != nil {
		attrs = append(attrs, "client", c.Name)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
