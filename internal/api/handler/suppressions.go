package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	mw "github.com/splashkes/eventlinter/internal/api/middleware"
	"github.com/splashkes/eventlinter/internal/api/response"
	"github.com/splashkes/eventlinter/internal/store"
	"github.com/splashkes/eventlinter/internal/suppress"
	"github.com/splashkes/eventlinter/pkg/models"
)

// Suppressor records suppressions. *suppress.Service satisfies it.
type Suppressor interface {
	Suppress(ctx context.Context, req suppress.Request) (*suppress.Result, error)
}

// SuppressionLister pages through stored suppressions.
type SuppressionLister interface {
	ListSuppressions(ctx context.Context, filter store.SuppressionFilter) ([]*models.Suppression, int, error)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// suppressRequest is echoed back in error details so the client can retry
// without re-entering the form.
type suppressRequest struct {
	RuleID   string `json:"rule_id"`
	EventID  string `json:"event_id,omitempty"`
	ArtistID string `json:"artist_id,omitempty"`
	Duration string `json:"duration"`
	Reason   string `json:"reason,omitempty"`
}

// NewSuppressHandler returns an http.HandlerFunc for POST /api/v1/suppressions.
// A successful write starts a re-run with the current scope.
func NewSuppressHandler(svc Suppressor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suppressRequest
		if err := response.Decode(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		by, _ := mw.GetKeyName(r)
		res, err := svc.Suppress(r.Context(), suppress.Request{
			RuleID:       req.RuleID,
			EventID:      req.EventID,
			ArtistID:     req.ArtistID,
			Duration:     req.Duration,
			Reason:       req.Reason,
			SuppressedBy: by,
		})
		if err != nil {
			switch {
			case errors.Is(err, suppress.ErrMissingRule),
				errors.Is(err, suppress.ErrMissingEntity),
				errors.Is(err, suppress.ErrInvalidDuration):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), req)
			default:
				response.Error(w, http.StatusBadGateway, "SUPPRESSION_FAILED",
					"Could not store suppression", req)
			}
			return
		}

		response.JSON(w, res)
	}
}

// NewListSuppressionsHandler returns an http.HandlerFunc for GET /api/v1/suppressions.
func NewListSuppressionsHandler(s SuppressionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := store.SuppressionFilter{
			RuleID:   q.Get("rule_id"),
			EventID:  q.Get("event_id"),
			ArtistID: q.Get("artist_id"),
			Page:     1,
			Limit:    defaultPageLimit,
		}

		if v := q.Get("active"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "active must be a boolean", nil)
				return
			}
			f.ActiveOnly = b
		}
		if v := q.Get("page"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
			f.Page = n
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			f.Limit = min(n, maxPageLimit)
		}

		items, total, err := s.ListSuppressions(r.Context(), f)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list suppressions", nil)
			return
		}
		if items == nil {
			items = []*models.Suppression{}
		}

		response.Collection(w, items, response.NewPaginationMeta(f.Page, f.Limit, total))
	}
}
