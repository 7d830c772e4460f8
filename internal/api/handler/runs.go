// Package handler holds the HTTP handlers for the linter API.
package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/splashkes/eventlinter/internal/api/response"
	"github.com/splashkes/eventlinter/pkg/models"
)

// RunController owns the active linter run. *run.Coordinator satisfies it.
type RunController interface {
	Start(ctx context.Context, scope models.Scope) models.RunStatus
	Status() models.RunStatus
	// Snapshot returns the status and the findings of the same run.
	Snapshot() (models.RunStatus, []models.Finding)
	Diagnostics() []models.RuleStats
}

// NewStartRunHandler returns an http.HandlerFunc for POST /api/v1/runs.
// Any run in flight is superseded.
func NewStartRunHandler(runs RunController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Future bool `json:"future"`
			Active bool `json:"active"`
		}
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		status := runs.Start(r.Context(), models.Scope{FutureOnly: req.Future, ActiveOnly: req.Active})
		response.Accepted(w, status)
	}
}

// NewCurrentRunHandler returns an http.HandlerFunc for GET /api/v1/runs/current.
func NewCurrentRunHandler(runs RunController) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := runs.Status()
		if status.ID == uuid.Nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No run has been started", nil)
			return
		}
		response.JSON(w, status)
	}
}
