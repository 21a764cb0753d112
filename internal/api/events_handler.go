package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/pantry/internal/metering"
	"github.com/alecgard/pantry/internal/quota"
)

// eventsHandler serves the admin view of recorded quota decisions.
type eventsHandler struct {
	store EventQuerier
}

func newEventsHandler(store EventQuerier) *eventsHandler {
	return &eventsHandler{store: store}
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// buildEventQuery constructs a Query from the request's query params.
func buildEventQuery(r *http.Request) (metering.Query, error) {
	params := r.URL.Query()
	q := metering.Query{
		Subject:     params.Get("subject"),
		SubjectKind: quota.SubjectKind(params.Get("subject_kind")),
		Op:          params.Get("op"),
		Outcome:     quota.Outcome(params.Get("outcome")),
		Cursor:      params.Get("cursor"),
	}

	var err error
	if q.From, err = parseTimeParam(params.Get("from")); err != nil {
		return q, errors.New("invalid 'from' parameter")
	}
	if q.To, err = parseTimeParam(params.Get("to")); err != nil {
		return q, errors.New("invalid 'to' parameter")
	}

	if s := params.Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 || l > 500 {
			return q, errors.New("limit must be between 1 and 500")
		}
		q.Limit = l
	}
	return q, nil
}

// GetSummary handles GET /api/v1/admin/events/summary.
func (h *eventsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q, err := buildEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	summary, err := h.store.GetSummary(r.Context(), q)
	if err != nil {
		slog.Error("failed to get event summary", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get event summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type listEventsResponse struct {
	Events     []*metering.Event `json:"events"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ListEvents handles GET /api/v1/admin/events.
func (h *eventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q, err := buildEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}

	events, next, err := h.store.ListEvents(r.Context(), q)
	if err != nil {
		slog.Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list events")
		return
	}
	if events == nil {
		events = []*metering.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, NextCursor: next})
}
