package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/splashkes/eventlinter/internal/api/response"
	"github.com/splashkes/eventlinter/internal/filter"
	"github.com/splashkes/eventlinter/pkg/models"
)

type findingsResponse struct {
	Run            models.RunStatus        `json:"run"`
	Findings       []models.Finding        `json:"findings"`
	Total          int                     `json:"total"`
	Visible        int                     `json:"visible"`
	SeverityCounts map[models.Severity]int `json:"severity_counts"`
	Categories     []string                `json:"categories"`
	Contexts       []string                `json:"contexts"`
}

// NewFindingsHandler returns an http.HandlerFunc for GET /api/v1/findings.
// Counts and facet lists cover the whole run; only Findings is filtered.
func NewFindingsHandler(runs RunController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, details := parseFilter(r.URL.Query())
		if len(details) > 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid filter parameters", details)
			return
		}

		status, all := runs.Snapshot()
		visible := filter.Apply(all, st)

		response.JSON(w, findingsResponse{
			Run:            status,
			Findings:       visible,
			Total:          len(all),
			Visible:        len(visible),
			SeverityCounts: filter.SeverityCounts(all),
			Categories:     filter.Categories(all),
			Contexts:       filter.Contexts(all),
		})
	}
}

// parseFilter maps query parameters onto a filter state. details is keyed
// by parameter name and is empty when every parameter is valid.
func parseFilter(q url.Values) (filter.State, map[string]string) {
	st := filter.DefaultState()
	details := map[string]string{}

	st.Search = q.Get("q")
	if v := q.Get("category"); v != "" {
		st.Category = v
	}
	if v := q.Get("context"); v != "" {
		st.Context = v
	}

	for _, raw := range strings.Split(q.Get("severity"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			details["severity"] = "unknown severity " + strconv.Quote(raw)
			continue
		}
		st.Severities[sev] = struct{}{}
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"overview_only", &st.OverviewOnly},
		{"hide_artist", &st.HideArtistFindings},
		{"hide_event", &st.HideEventFindings},
		{"hide_city", &st.HideCityFindings},
	}
	for _, f := range flags {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			details[f.name] = "must be a boolean"
			continue
		}
		*f.dst = b
	}

	return st, details
}
