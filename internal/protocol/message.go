// Package protocol decodes linter stream frames into typed messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/splashkes/eventlinter/pkg/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unrecognized frame shape")
)

// Kind discriminates the Message variants.
type Kind string

const (
	KindProgress Kind = "progress"
	KindBatch    Kind = "batch"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Message is one decoded frame: Progress, Batch, Complete or Error.
type Message interface {
	Kind() Kind
}

// Progress is informational and never touches accumulated findings.
type Progress struct {
	Phase string
	Text  string
}

// Batch carries findings to append in arrival order.
type Batch struct {
	Phase    string
	Findings []models.Finding
}

// Complete ends a run successfully.
type Complete struct {
	Summary json.RawMessage
	Debug   CompleteDebug
}

// CompleteDebug is the debug payload of a Complete frame. Raw keeps the
// whole object so diagnostics can be shown verbatim. Rules and RulesLoaded
// are left unset when their keys are absent or unparseable.
type CompleteDebug struct {
	Rules       []models.Rule
	RulesLoaded *int
	Raw         json.RawMessage
}

// Error ends a run as failed.
type Error struct {
	Message string
	Debug   json.RawMessage
}

func (Progress) Kind() Kind { return KindProgress }
func (Batch) Kind() Kind    { return KindBatch }
func (Complete) Kind() Kind { return KindComplete }
func (Error) Kind() Kind    { return KindError }

// RuleCount is the number of rules the run reported: the inline rule list
// when present, else the bare count, else zero.
func (d CompleteDebug) RuleCount() int {
	if len(d.Rules) > 0 {
		return len(d.Rules)
	}
	if d.RulesLoaded != nil {
		return *d.RulesLoaded
	}
	return 0
}

// frame mirrors every key any variant may carry. Pointer fields record
// presence so the discriminator can tell an absent key from a zero value.
type frame struct {
	Phase    *string          `json:"phase"`
	Progress *string          `json:"progress"`
	Findings *json.RawMessage `json:"findings"`
	Complete *bool            `json:"complete"`
	Summary  json.RawMessage  `json:"summary"`
	Debug    json.RawMessage  `json:"debug"`
	Error    *string          `json:"error"`
}

// Decode parses one frame payload. Errors wrap ErrMalformedFrame or
// ErrUnknownFrame; callers drop the frame and keep reading.
func Decode(payload []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch kindOf(f) {
	case KindError:
		return Error{Message: *f.Error, Debug: nullable(f.Debug)}, nil

	case KindComplete:
		debug, err := DecodeDebug(f.Debug)
		if err != nil {
			return nil, err
		}
		return Complete{Summary: nullable(f.Summary), Debug: debug}, nil

	case KindBatch:
		var findings []models.Finding
		if err := json.Unmarshal(*f.Findings, &findings); err != nil {
			return nil, fmt.Errorf("%w: findings: %v", ErrMalformedFrame, err)
		}
		if findings == nil {
			findings = []models.Finding{}
		}
		return Batch{Phase: deref(f.Phase), Findings: findings}, nil

	case KindProgress:
		return Progress{Phase: deref(f.Phase), Text: *f.Progress}, nil
	}

	return nil, ErrUnknownFrame
}

// kindOf is the single discriminator for frame shapes. A terminal key wins
// over payload keys so a frame can never both end and extend a run.
func kindOf(f frame) Kind {
	switch {
	case f.Error != nil:
		return KindError
	case f.Complete != nil && *f.Complete:
		return KindComplete
	case f.Findings != nil:
		return KindBatch
	case f.Progress != nil:
		return KindProgress
	default:
		return ""
	}
}

// DecodeDebug reads a completion debug object. Unreadable rules or
// rules_loaded values are left unset; only a non-object payload is an error.
func DecodeDebug(raw json.RawMessage) (CompleteDebug, error) {
	raw = nullable(raw)
	if raw == nil {
		return CompleteDebug{}, nil
	}
	var keys struct {
		Rules       json.RawMessage `json:"rules"`
		RulesLoaded json.RawMessage `json:"rules_loaded"`
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return CompleteDebug{}, fmt.Errorf("%w: debug: %v", ErrMalformedFrame, err)
	}

	d := CompleteDebug{Raw: raw}
	if keys.Rules != nil {
		var rules []models.Rule
		if json.Unmarshal(keys.Rules, &rules) == nil {
			d.Rules = rules
		}
	}
	if keys.RulesLoaded != nil {
		var n int
		if json.Unmarshal(keys.RulesLoaded, &n) == nil {
			d.RulesLoaded = &n
		}
	}
	return d, nil
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
