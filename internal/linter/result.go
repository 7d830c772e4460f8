package linter

import (
	"encoding/json"
	"fmt"

	"github.com/splashkes/eventlinter/pkg/models"
)

// OneShotResult is the body of a non-streaming run.
type OneShotResult struct {
	Success    bool             `json:"success"`
	Findings   []models.Finding `json:"findings"`
	RulesCount int              `json:"rules_count"`
	Debug      json.RawMessage  `json:"debug,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RuleTestResult is the diagnostic report for a single rule. Raw keeps the
// whole backend response so fields not modelled here are not lost.
type RuleTestResult struct {
	Rule            json.RawMessage `json:"rule"`
	Diagnostics     RuleDiagnostics `json:"diagnostics"`
	Recommendations []string        `json:"recommendations"`
	Raw             json.RawMessage `json:"-"`
}

type RuleDiagnostics struct {
	TotalEventsChecked   int                      `json:"totalEventsChecked"`
	MatchingEvents       int                      `json:"matchingEvents"`
	AlmostMatchingEvents []json.RawMessage        `json:"almostMatchingEvents"`
	FieldPresence        map[string]FieldPresence `json:"fieldPresence"`
}

type FieldPresence struct {
	Present int   `json:"present"`
	Missing int   `json:"missing"`
	Sample  []any `json:"sample,omitempty"`
}

// RuleTestError is a failure reported by the rule test endpoint itself.
type RuleTestError struct {
	RuleID  string
	Message string
	Details json.RawMessage
}

func (e *RuleTestError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrRuleTestFailed, e.RuleID, e.Message)
}

func (e *RuleTestError) Unwrap() error { return ErrRuleTestFailed }
