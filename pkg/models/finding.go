// Package models contains shared data models used across the eventlinter codebase.
package models

import (
	"bytes"
	"encoding/json"
)

// Severity classifies a finding. The set is closed; unknown values pass
// through decoding untouched but never match a severity filter they are not in.
type Severity string

const (
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityReminder Severity = "reminder"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityOverview Severity = "overview"
)

// AllSeverities lists every known severity in display order.
var AllSeverities = []Severity{
	SeverityError,
	SeverityWarning,
	SeverityReminder,
	SeverityInfo,
	SeveritySuccess,
	SeverityOverview,
}

var severityEmoji = map[Severity]string{
	SeverityError:    "❌",
	SeverityWarning:  "⚠️",
	SeverityReminder: "🔔",
	SeverityInfo:     "📊",
	SeveritySuccess:  "✅",
	SeverityOverview: "📊",
}

var severityRank = map[Severity]int{
	SeverityError:    0,
	SeverityWarning:  1,
	SeverityReminder: 2,
	SeverityInfo:     3,
	SeveritySuccess:  4,
	SeverityOverview: 5,
}

// SeverityEmoji returns the display glyph for a severity, or "" if unknown.
func SeverityEmoji(s Severity) string {
	return severityEmoji[s]
}

// SeverityRank orders severities from most to least urgent. Unknown
// severities sort last.
func SeverityRank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// ParseSeverity reports whether s names a known severity.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	_, ok := severityRank[sev]
	return sev, ok
}

// Finding is one rule's output against one entity in one run.
// Findings are immutable once received.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Context  string   `json:"context"`
	Message  string   `json:"message"`
	Emoji    string   `json:"emoji,omitempty"`

	EventID   string `json:"eventId,omitempty"`
	EventEID  string `json:"eventEid,omitempty"`
	EventName string `json:"eventName,omitempty"`

	ArtistID     string `json:"artistId,omitempty"`
	ArtistNumber Text   `json:"artistNumber,omitempty"`
	ArtistName   string `json:"artistName,omitempty"`

	CityID      string `json:"cityId,omitempty"`
	CityName    string `json:"cityName,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`

	// Timestamp is when the backend generated the finding, as sent (RFC 3339).
	Timestamp string `json:"timestamp,omitempty"`
}

// EntityID returns the id of the subject the finding is attached to, in
// event, artist, city precedence. Returns "" for unattached findings.
func (f Finding) EntityID() string {
	switch {
	case f.EventID != "":
		return f.EventID
	case f.ArtistID != "":
		return f.ArtistID
	case f.CityID != "":
		return f.CityID
	default:
		return ""
	}
}

// Text is a string field the backend sometimes encodes as a JSON number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}
