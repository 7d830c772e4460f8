package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// Scope selects which events the backend lints. Changing it starts a new run.
type Scope struct {
	FutureOnly bool `json:"future"`
	ActiveOnly bool `json:"active"`
}

// RunStatus describes the current (or last) linter run.
type RunStatus struct {
	ID            uuid.UUID       `json:"id"`
	Strategy      string          `json:"strategy"`
	Scope         Scope           `json:"scope"`
	Status        string          `json:"status"`
	Phase         string          `json:"phase,omitempty"`
	Progress      string          `json:"progress,omitempty"`
	Error         string          `json:"error,omitempty"`
	Summary       json.RawMessage `json:"summary,omitempty"`
	Debug         json.RawMessage `json:"debug,omitempty"`
	FindingsCount int             `json:"findings_count"`
	RulesLoaded   int             `json:"rules_loaded"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Partial reports whether the run failed after collecting some findings.
func (s RunStatus) Partial() bool {
	return s.Status == RunStatusFailed && s.FindingsCount > 0
}
