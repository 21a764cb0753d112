package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/pantry/internal/account"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/alecgard/pantry/internal/recipe"
)

// maxBodySize is the default request body limit (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// quotaEnvelope is the 429 body for a weekly quota rejection. ResetsOn lets
// the client render the upgrade or sign-up prompt.
type quotaEnvelope struct {
	Error    errorDetail `json:"error"`
	Used     int         `json:"used"`
	Limit    int         `json:"limit"`
	ResetsOn string      `json:"resets_on"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeDomainError maps tracker, account and recipe errors onto HTTP
// responses. Unknown errors are logged and reported as 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *quota.LimitError
	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusTooManyRequests, quotaEnvelope{
			Error:    errorDetail{Code: "quota_exceeded", Message: "weekly request limit reached"},
			Used:     limitErr.Used,
			Limit:    limitErr.Limit,
			ResetsOn: limitErr.ResetsOn,
		})
	case errors.Is(err, quota.ErrInvalidSubject),
		errors.Is(err, recipe.ErrInvalidPreferences),
		errors.Is(err, recipe.ErrNoCaller):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, quota.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no usage record for this identity")
	case errors.Is(err, quota.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "operation restricted to test accounts")
	case errors.Is(err, account.ErrExists):
		writeError(w, http.StatusConflict, "conflict", "usage record already exists")
	case errors.Is(err, quota.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "usage store unavailable, try again later")
	case errors.Is(err, recipe.ErrGeneration):
		writeError(w, http.StatusBadGateway, "generation_failed", "recipe generation failed")
	default:
		slog.Error("unhandled request error", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
