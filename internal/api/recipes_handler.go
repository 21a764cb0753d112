package api

import (
	"net/http"

	"github.com/alecgard/pantry/internal/recipe"
)

type recipesHandler struct {
	service *recipe.Service
}

func newRecipesHandler(service *recipe.Service) *recipesHandler {
	return &recipesHandler{service: service}
}

type generateRequest struct {
	Caller      recipe.Caller      `json:"caller"`
	Preferences recipe.Preferences `json:"preferences"`
}

// Generate handles POST /api/v1/recipes. The caller's quota is charged
// before the generator runs.
func (h *recipesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	rec, err := h.service.Generate(r.Context(), req.Caller, req.Preferences)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
