package api

import (
	"context"
	"net/http"

	"github.com/alecgard/pantry/internal/account"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/go-chi/chi/v5"
)

// AccountCreator provisions usage records for new identities.
type AccountCreator interface {
	Create(ctx context.Context, in account.CreateInput) (*quota.UsageRecord, error)
}

// accountsHandler groups identified-caller HTTP handlers.
type accountsHandler struct {
	tracker  *quota.Tracker
	accounts AccountCreator
}

func newAccountsHandler(tracker *quota.Tracker, accounts AccountCreator) *accountsHandler {
	return &accountsHandler{tracker: tracker, accounts: accounts}
}

// CreateAccount handles POST /api/v1/accounts.
func (h *accountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in account.CreateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	rec, err := h.accounts.Create(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	auditLog(r, "create", "account", rec.Identity, "is_test_account", rec.IsTestAccount)
	writeJSON(w, http.StatusCreated, rec)
}

// RecordRequest handles POST /api/v1/accounts/{identity}/requests. On
// success it returns the caller's weekly usage after the increment.
func (h *accountsHandler) RecordRequest(w http.ResponseWriter, r *http.Request) {
	usage, err := h.tracker.AdmitRequest(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// GetWeeklyUsage handles GET /api/v1/accounts/{identity}/usage/weekly.
func (h *accountsHandler) GetWeeklyUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.tracker.GetWeeklyUsage(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ResetTestAccount handles POST /api/v1/accounts/{identity}/test/reset.
func (h *accountsHandler) ResetTestAccount(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if err := h.tracker.ResetForTestAccount(r.Context(), identity); err != nil {
		writeDomainError(w, r, err)
		return
	}

	auditLog(r, "reset", "account", identity)
	w.WriteHeader(http.StatusNoContent)
}

type togglePlanResponse struct {
	Plan quota.Plan `json:"plan"`
}

// TogglePlan handles POST /api/v1/accounts/{identity}/test/toggle-plan.
func (h *accountsHandler) TogglePlan(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	plan, err := h.tracker.TogglePlanForTestAccount(r.Context(), identity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	auditLog(r, "toggle_plan", "account", identity, "plan", plan)
	writeJSON(w, http.StatusOK, togglePlanResponse{Plan: plan})
}
