package handler

import (
	"net/http"

	"github.com/harmoni/backend/internal/domain"
)

// PlansHandler serves the single price table.
type PlansHandler struct{}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler() *PlansHandler {
	return &PlansHandler{}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"currency": domain.Currency,
		"free":     domain.FreePlanID,
		"plans":    domain.Plans(),
	})
}
