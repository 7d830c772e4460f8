// Package suppress records decisions to hide a rule for one entity and
// triggers a re-run so the backend can apply them.
package suppress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/splashkes/eventlinter/internal/metrics"
	"github.com/splashkes/eventlinter/pkg/models"
)

var (
	ErrInvalidDuration = errors.New("duration must be \"forever\" or a positive number of days")
	ErrMissingRule     = errors.New("rule_id is required")
	ErrMissingEntity   = errors.New("event_id or artist_id is required")
)

// Forever is the duration value for a suppression with no expiry.
const Forever = "forever"

// Store persists suppressions with upsert semantics on
// (rule_id, event_id, artist_id).
type Store interface {
	UpsertSuppression(ctx context.Context, s *models.Suppression) (*models.Suppression, error)
}

// Rerunner starts a fresh linter run with the current scope.
type Rerunner interface {
	Refresh(ctx context.Context) models.RunStatus
}

// Request is one suppression decision.
type Request struct {
	RuleID       string
	EventID      string
	ArtistID     string
	Duration     string
	Reason       string
	SuppressedBy string
}

// Result is the stored record and the run started to reflect it.
type Result struct {
	Suppression *models.Suppression `json:"suppression"`
	Run         *models.RunStatus   `json:"run,omitempty"`
}

// Service writes suppressions. Expiry is enforced by the backend; the
// service never filters findings itself.
type Service struct {
	store  Store
	rerun  Rerunner
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service. rerun may be nil.
func NewService(store Store, rerun Rerunner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, rerun: rerun, logger: logger, now: time.Now}
}

// Suppress validates req, upserts the record and, on success only, starts
// a re-run. On failure nothing is re-run and the error is returned.
func (s *Service) Suppress(ctx context.Context, req Request) (*Result, error) {
	rec, err := s.build(req)
	if err != nil {
		metrics.SuppressionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	stored, err := s.store.UpsertSuppression(ctx, rec)
	if err != nil {
		metrics.SuppressionsTotal.WithLabelValues("error").Inc()
		s.logger.Error("suppression write failed", "rule_id", rec.RuleID, "error", err)
		return nil, fmt.Errorf("storing suppression: %w", err)
	}
	metrics.SuppressionsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("suppression stored",
		"rule_id", stored.RuleID,
		"suppressed_by", stored.SuppressedBy,
		"forever", stored.SuppressedUntil == nil,
	)

	res := &Result{Suppression: stored}
	if s.rerun != nil {
		st := s.rerun.Refresh(ctx)
		res.Run = &st
	}
	return res, nil
}

func (s *Service) build(req Request) (*models.Suppression, error) {
	ruleID := strings.TrimSpace(req.RuleID)
	if ruleID == "" {
		return nil, ErrMissingRule
	}
	eventID := optional(req.EventID)
	artistID := optional(req.ArtistID)
	if eventID == nil && artistID == nil {
		return nil, ErrMissingEntity
	}

	days, err := ParseDuration(req.Duration)
	if err != nil {
		return nil, err
	}
	var until *time.Time
	if days > 0 {
		t := s.now().UTC().AddDate(0, 0, days)
		until = &t
	}

	return &models.Suppression{
		RuleID:          ruleID,
		EventID:         eventID,
		ArtistID:        artistID,
		SuppressedBy:    req.SuppressedBy,
		SuppressedUntil: until,
		Reason:          optional(req.Reason),
	}, nil
}

// ParseDuration returns the number of days in d, or 0 for Forever.
func ParseDuration(d string) (int, error) {
	d = strings.TrimSpace(d)
	if strings.EqualFold(d, Forever) {
		return 0, nil
	}
	days, err := strconv.Atoi(d)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, d)
	}
	return days, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
