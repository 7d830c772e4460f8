// Package filter narrows a run's findings to the visible set.
//
// Apply is pure: it never mutates its input, never reorders, and is
// recomputed from the full accumulated set on every state change.
package filter

import (
	"sort"
	"strings"

	"github.com/splashkes/eventlinter/pkg/models"
)

// All is the category/context choice that applies no restriction.
const All = "all"

// SeveritySet is an OR-set of severities. The empty set restricts nothing.
type SeveritySet map[models.Severity]struct{}

// NewSeveritySet builds a set from the given severities.
func NewSeveritySet(sevs ...models.Severity) SeveritySet {
	s := make(SeveritySet, len(sevs))
	for _, sev := range sevs {
		s[sev] = struct{}{}
	}
	return s
}

// Has reports whether sev is in the set.
func (s SeveritySet) Has(sev models.Severity) bool {
	_, ok := s[sev]
	return ok
}

// State is the client-side facet selection. It is never persisted.
type State struct {
	Search     string
	Severities SeveritySet
	Category   string
	Context    string

	// Scope toggles select the backend run, not the visible subset;
	// Apply ignores them and a change to either starts a new run.
	Scope models.Scope

	OverviewOnly       bool
	HideArtistFindings bool
	HideEventFindings  bool
	HideCityFindings   bool
}

// DefaultState is the state a fresh view starts with.
func DefaultState() State {
	return State{
		Severities: SeveritySet{},
		Category:   All,
		Context:    All,
	}
}

// Apply returns the findings that pass every predicate, in input order.
// The result is never nil.
func Apply(all []models.Finding, st State) []models.Finding {
	search := strings.ToLower(st.Search)
	out := make([]models.Finding, 0, len(all))
	for _, f := range all {
		if keep(f, st, search) {
			out = append(out, f)
		}
	}
	return out
}

func keep(f models.Finding, st State, search string) bool {
	if st.OverviewOnly && f.Severity != models.SeverityOverview {
		return false
	}
	if len(st.Severities) > 0 && !st.Severities.Has(f.Severity) {
		return false
	}
	if restricted(st.Category) && f.Category != st.Category {
		return false
	}
	if restricted(st.Context) && f.Context != st.Context {
		return false
	}
	// The three hide toggles each drop one specific scoping shape; a
	// finding scoped to more than one entity kind survives the artist and
	// event toggles.
	if st.HideArtistFindings && f.ArtistID != "" && f.EventID == "" {
		return false
	}
	if st.HideEventFindings && f.EventID != "" && f.ArtistID == "" && f.CityID == "" {
		return false
	}
	if st.HideCityFindings && f.CityID != "" {
		return false
	}
	if search != "" && !matches(f, search) {
		return false
	}
	return true
}

func restricted(choice string) bool {
	return choice != "" && choice != All
}

func matches(f models.Finding, lowered string) bool {
	for _, field := range []string{f.Message, f.EventEID, f.EventName, f.RuleName} {
		if strings.Contains(strings.ToLower(field), lowered) {
			return true
		}
	}
	return false
}

// SeverityCounts tallies findings per severity. Every known severity is
// present, zero or not.
func SeverityCounts(all []models.Finding) map[models.Severity]int {
	counts := make(map[models.Severity]int, len(models.AllSeverities))
	for _, sev := range models.AllSeverities {
		counts[sev] = 0
	}
	for _, f := range all {
		counts[f.Severity]++
	}
	return counts
}

// Categories returns the sorted distinct categories present in all.
func Categories(all []models.Finding) []string {
	return distinct(all, func(f models.Finding) string { return f.Category })
}

// Contexts returns the sorted distinct contexts present in all.
func Contexts(all []models.Finding) []string {
	return distinct(all, func(f models.Finding) string { return f.Context })
}

func distinct(all []models.Finding, key func(models.Finding) string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, f := range all {
		k := key(f)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
