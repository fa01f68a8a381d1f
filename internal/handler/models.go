package handler

import (
	"net/http"

	"arbor/internal/capabilities"
	"arbor/internal/httputil"
)

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	catalog *capabilities.Registry
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(catalog *capabilities.Registry) *ModelsHandler {
	return &ModelsHandler{catalog: catalog}
}

// ListModels returns the full model catalog in catalog order
// GET /api/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"providers": h.catalog.ListModels(),
	})
}
