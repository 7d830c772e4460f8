package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/splashkes/eventlinter/internal/api/response"
	"github.com/splashkes/eventlinter/internal/cache"
	"github.com/splashkes/eventlinter/internal/linter"
)

// RuleTestTTL is how long a rule test report is served from cache.
const RuleTestTTL = time.Minute

// RuleTester runs the backend's single-rule diagnostic.
type RuleTester interface {
	TestRule(ctx context.Context, ruleID string) (*linter.RuleTestResult, error)
}

// ResultCache stores rule test reports. cache.Cache satisfies it.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NewRulesHandler returns an http.HandlerFunc for GET /api/v1/rules.
func NewRulesHandler(runs RunController) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, runs.Diagnostics())
	}
}

// NewTestRuleHandler returns an http.HandlerFunc for
// POST /api/v1/rules/{ruleID}/test. c may be nil.
func NewTestRuleHandler(tester RuleTester, c ResultCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID := strings.TrimSpace(chi.URLParam(r, "ruleID"))
		if ruleID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "rule id is required", nil)
			return
		}
		key := cache.RuleTestKey(ruleID)

		if c != nil {
			cached, found, err := c.Get(r.Context(), key)
			if err != nil {
				slog.Warn("rule test cache read failed", "rule_id", ruleID, "error", err)
			} else if found {
				w.Header().Set("X-Cache", "hit")
				response.JSON(w, json.RawMessage(cached))
				return
			}
		}

		res, err := tester.TestRule(r.Context(), ruleID)
		if err != nil {
			writeRuleTestError(w, ruleID, err)
			return
		}

		body := res.Raw
		if len(body) == 0 {
			if body, err = json.Marshal(res); err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to encode rule test", nil)
				return
			}
		}

		if c != nil {
			if err := c.Set(r.Context(), key, body, RuleTestTTL); err != nil {
				slog.Warn("rule test cache write failed", "rule_id", ruleID, "error", err)
			}
		}
		w.Header().Set("X-Cache", "miss")
		response.JSON(w, json.RawMessage(body))
	}
}

func writeRuleTestError(w http.ResponseWriter, ruleID string, err error) {
	var testErr *linter.RuleTestError
	switch {
	case errors.As(err, &testErr):
		response.Error(w, http.StatusUnprocessableEntity, "RULE_TEST_FAILED", testErr.Message, map[string]any{
			"rule_id": ruleID,
			"details": testErr.Details,
		})
	case errors.Is(err, linter.ErrBackendTimeout):
		response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
			"The linter backend took too long to respond", nil)
	case errors.Is(err, linter.ErrBackendUnreachable), errors.Is(err, linter.ErrBackendStatus):
		slog.Error("rule test failed", "rule_id", ruleID, "error", err)
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE",
			"The linter backend is not available", nil)
	default:
		slog.Error("rule test failed", "rule_id", ruleID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
