package models

import "encoding/json"

// Rule is a static check definition loaded from the rule registry,
// independent of any run. ID is the join key against Finding.RuleID.
type Rule struct {
	ID          string   `json:"id"                    yaml:"id"`
	Name        string   `json:"name,omitempty"        yaml:"name"`
	Severity    Severity `json:"severity,omitempty"    yaml:"severity"`
	Category    string   `json:"category,omitempty"    yaml:"category"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Context     string   `json:"context,omitempty"     yaml:"context"`
	Source      string   `json:"source,omitempty"      yaml:"-"`
}

// RuleStats is a rule joined against the accumulated findings of a run.
type RuleStats struct {
	Rule
	FindingCount int  `json:"finding_count"`
	EntityCount  int  `json:"entity_count"`
	Active       bool `json:"active"`
}

// UnmarshalJSON accepts the registry's "rule_id" column name as well as "id".
func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	var aux struct {
		plain
		RuleID string `json:"rule_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = Rule(aux.plain)
	if r.ID == "" {
		r.ID = aux.RuleID
	}
	return nil
}

// UnmarshalJSON decodes the stats fields alongside the embedded Rule,
// whose own UnmarshalJSON would otherwise consume the whole object.
func (s *RuleStats) UnmarshalJSON(b []byte) error {
	if err := s.Rule.UnmarshalJSON(b); err != nil {
		return err
	}
	var stats struct {
		FindingCount int  `json:"finding_count"`
		EntityCount  int  `json:"entity_count"`
		Active       bool `json:"active"`
	}
	if err := json.Unmarshal(b, &stats); err != nil {
		return err
	}
	s.FindingCount = stats.FindingCount
	s.EntityCount = stats.EntityCount
	s.Active = stats.Active
	return nil
}
