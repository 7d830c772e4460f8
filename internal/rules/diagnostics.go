package rules

import (
	"sort"

	"github.com/splashkes/eventlinter/pkg/models"
)

// Diagnostics joins rules against the full accumulated finding set and
// returns per-rule trigger statistics sorted by descending finding count.
// Ties keep catalogue order. An empty rule list yields an empty result.
func Diagnostics(rules []models.Rule, findings []models.Finding) []models.RuleStats {
	type tally struct {
		count    int
		entities map[string]struct{}
	}
	byRule := make(map[string]*tally)
	for _, f := range findings {
		t, ok := byRule[f.RuleID]
		if !ok {
			t = &tally{entities: make(map[string]struct{})}
			byRule[f.RuleID] = t
		}
		t.count++
		for _, ref := range entityRefs(f) {
			t.entities[ref] = struct{}{}
		}
	}

	stats := make([]models.RuleStats, 0, len(rules))
	for _, rule := range rules {
		s := models.RuleStats{Rule: rule}
		if t, ok := byRule[rule.ID]; ok {
			s.FindingCount = t.count
			s.EntityCount = len(t.entities)
		}
		s.Active = s.FindingCount > 0
		stats = append(stats, s)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].FindingCount > stats[j].FindingCount
	})
	return stats
}

// entityRefs lists the non-empty entity ids a finding references, tagged
// by kind so an event and an artist sharing an id stay distinct.
func entityRefs(f models.Finding) []string {
	var refs []string
	if f.EventID != "" {
		refs = append(refs, "event:"+f.EventID)
	}
	if f.ArtistID != "" {
		refs = append(refs, "artist:"+f.ArtistID)
	}
	if f.CityID != "" {
		refs = append(refs, "city:"+f.CityID)
	}
	return refs
}
