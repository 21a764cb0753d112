package api

import (
	"net/http"

	"github.com/alecgard/pantry/internal/quota"
	"github.com/go-chi/chi/v5"
)

// devicesHandler groups anonymous-caller HTTP handlers. Devices have no
// provisioning step; the first recorded request creates the counter.
type devicesHandler struct {
	tracker *quota.Tracker
}

func newDevicesHandler(tracker *quota.Tracker) *devicesHandler {
	return &devicesHandler{tracker: tracker}
}

// RecordRequest handles POST /api/v1/devices/{deviceID}/requests and returns
// the device's weekly usage after the increment.
func (h *devicesHandler) RecordRequest(w http.ResponseWriter, r *http.Request) {
	usage, err := h.tracker.AdmitAnonymousRequest(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// GetWeeklyUsage handles GET /api/v1/devices/{deviceID}/usage/weekly.
func (h *devicesHandler) GetWeeklyUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.tracker.GetAnonymousUsage(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
