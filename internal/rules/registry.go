// Package rules holds the rule catalogue and joins it against findings.
package rules

import (
	"sync"

	"github.com/splashkes/eventlinter/pkg/models"
)

// Registry keeps the rule definitions known to the current run. Rules
// reported inline by a run take precedence over the static catalogue; when
// neither is available only the bare count reported by the run is kept.
type Registry struct {
	mu        sync.RWMutex
	inline    []models.Rule
	catalogue []models.Rule
	loaded    int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ResetRun forgets rules and counts reported by the previous run. The
// static catalogue is kept.
func (r *Registry) ResetRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline = nil
	r.loaded = 0
}

// SetRunRules records the rule list from a run's complete frame.
func (r *Registry) SetRunRules(rules []models.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inline = append([]models.Rule(nil), rules...)
}

// SetRunCount records the bare rule count from a run's complete frame.
func (r *Registry) SetRunCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = n
}

// SetCatalogue replaces the statically loaded rule definitions.
func (r *Registry) SetCatalogue(rules []models.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogue = append([]models.Rule(nil), rules...)
}

// Rules returns a copy of the effective rule list.
func (r *Registry) Rules() []models.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.inline
	if len(src) == 0 {
		src = r.catalogue
	}
	return append([]models.Rule{}, src...)
}

// Count is the number of rules to display: the effective list length when
// definitions are known, else the count reported by the run.
func (r *Registry) Count() int {
	if n := len(r.Rules()); n > 0 {
		return n
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}
