package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/splashkes/eventlinter/internal/api/handler"
	mw "github.com/splashkes/eventlinter/internal/api/middleware"
	"github.com/splashkes/eventlinter/internal/linter"
	"github.com/splashkes/eventlinter/internal/store"
	"github.com/splashkes/eventlinter/internal/suppress"
	"github.com/splashkes/eventlinter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stubs ---

type stubRuns struct {
	status    models.RunStatus
	findings  []models.Finding
	stats     []models.RuleStats
	lastScope *models.Scope
}

func (s *stubRuns) Start(_ context.Context, scope models.Scope) models.RunStatus {
	s.lastScope = &scope
	s.status = models.RunStatus{ID: uuid.New(), Status: models.RunStatusRunning, Scope: scope}
	return s.status
}
func (s *stubRuns) Status() models.RunStatus        { return s.status }
func (s *stubRuns) Diagnostics() []models.RuleStats { return s.stats }
func (s *stubRuns) Snapshot() (models.RunStatus, []models.Finding) {
	return s.status, s.findings
}

type stubTester struct {
	calls int
	res   *linter.RuleTestResult
	err   error
}

func (s *stubTester) TestRule(_ context.Context, _ string) (*linter.RuleTestResult, error) {
	s.calls++
	return s.res, s.err
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttl[key] = ttl
	return nil
}

type stubSuppressor struct {
	got suppress.Request
	err error
}

func (s *stubSuppressor) Suppress(_ context.Context, req suppress.Request) (*suppress.Result, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &suppress.Result{Suppression: &models.Suppression{ID: uuid.New(), RuleID: req.RuleID, SuppressedBy: req.SuppressedBy}}, nil
}

type stubLister struct {
	got   store.SuppressionFilter
	items []*models.Suppression
	total int
	err   error
}

func (s *stubLister) ListSuppressions(_ context.Context, f store.SuppressionFilter) ([]*models.Suppression, int, error) {
	s.got = f
	return s.items, s.total, s.err
}

type stubKeyManager struct {
	created   []*models.APIKey
	keys      []*models.APIKey
	createErr error
	revokeErr error
	revoked   uuid.UUID
}

func (s *stubKeyManager) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, k)
	return nil
}
func (s *stubKeyManager) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) { return s.keys, nil }
func (s *stubKeyManager) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.revoked = id
	return s.revokeErr
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// --- helpers ---

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func errObj(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error
}

// withRuleID routes the request through chi so URL params resolve.
func withRuleID(h http.HandlerFunc, ruleID string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/rules/{ruleID}/test", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rules/"+ruleID+"/test", nil))
	return w
}

// --- runs ---

func TestStartRun_202WithScope(t *testing.T) {
	runs := &stubRuns{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", jsonBody(t, map[string]bool{"future": true}))

	handler.NewStartRunHandler(runs).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, runs.lastScope)
	assert.True(t, runs.lastScope.FutureOnly)
	assert.False(t, runs.lastScope.ActiveOnly)
	assert.Equal(t, "running", data(t, w)["status"])
}

func TestStartRun_EmptyBodyUsesDefaultScope(t *testing.T) {
	runs := &stubRuns{}
	w := httptest.NewRecorder()
	handler.NewStartRunHandler(runs).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.Scope{}, *runs.lastScope)
}

func TestStartRun_InvalidJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString(`{"future":`))
	handler.NewStartRunHandler(&stubRuns{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errObj(t, w)["code"])
}

func TestCurrentRun_404BeforeFirstRun(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewCurrentRunHandler(&stubRuns{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/current", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errObj(t, w)["code"])
}

func TestCurrentRun_ExposesSummaryVerbatim(t *testing.T) {
	runs := &stubRuns{status: models.RunStatus{
		ID:            uuid.New(),
		Status:        models.RunStatusComplete,
		Summary:       json.RawMessage(`{"total":3,"by_phase":{"events":2}}`),
		FindingsCount: 3,
	}}
	w := httptest.NewRecorder()
	handler.NewCurrentRunHandler(runs).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/current", nil))

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, "complete", d["status"])
	assert.Equal(t, map[string]any{"total": float64(3), "by_phase": map[string]any{"events": float64(2)}}, d["summary"])
}

// --- findings ---

func sampleFindings() []models.Finding {
	return []models.Finding{
		{RuleID: "r1", Severity: models.SeverityError, Category: "data", Context: "event", Message: "Missing city", EventID: "e1"},
		{RuleID: "r2", Severity: models.SeverityWarning, Category: "ops", Context: "artist", Message: "No bio", ArtistID: "a1"},
		{RuleID: "r3", Severity: models.SeverityOverview, Category: "data", Context: "global", Message: "Totals"},
		{RuleID: "r1", Severity: models.SeverityError, Category: "data", Context: "event", Message: "Missing venue", EventID: "e2", ArtistID: "a2"},
	}
}

func getFindings(t *testing.T, query string) *httptest.ResponseRecorder {
	t.Helper()
	runs := &stubRuns{status: models.RunStatus{ID: uuid.New(), Status: models.RunStatusComplete}, findings: sampleFindings()}
	w := httptest.NewRecorder()
	handler.NewFindingsHandler(runs).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/findings"+query, nil))
	return w
}

func ruleIDs(d map[string]any) []string {
	var out []string
	for _, f := range d["findings"].([]any) {
		out = append(out, f.(map[string]any)["ruleId"].(string))
	}
	return out
}

func TestFindings_NoFilter(t *testing.T) {
	w := getFindings(t, "")
	require.Equal(t, http.StatusOK, w.Code)

	d := data(t, w)
	assert.Equal(t, float64(4), d["total"])
	assert.Equal(t, float64(4), d["visible"])
	assert.Equal(t, []string{"r1", "r2", "r3", "r1"}, ruleIDs(d))
	assert.Equal(t, []any{"data", "ops"}, d["categories"])
	assert.Equal(t, []any{"artist", "event", "global"}, d["contexts"])

	counts := d["severity_counts"].(map[string]any)
	assert.Equal(t, float64(2), counts["error"])
	assert.Equal(t, float64(0), counts["reminder"])
	assert.Len(t, counts, len(models.AllSeverities))
}

func TestFindings_SeverityAndSearch(t *testing.T) {
	d := data(t, getFindings(t, "?severity=error,warning&q=VENUE"))
	assert.Equal(t, []string{"r1"}, ruleIDs(d))
	assert.Equal(t, float64(1), d["visible"])
	assert.Equal(t, float64(4), d["total"], "total covers the whole run")
}

func TestFindings_HideArtistKeepsEventScoped(t *testing.T) {
	d := data(t, getFindings(t, "?hide_artist=true"))
	assert.Equal(t, []string{"r1", "r3", "r1"}, ruleIDs(d))
}

func TestFindings_OverviewOnly(t *testing.T) {
	d := data(t, getFindings(t, "?overview_only=1"))
	assert.Equal(t, []string{"r3"}, ruleIDs(d))
}

func TestFindings_CategoryAndContext(t *testing.T) {
	d := data(t, getFindings(t, "?category=data&context=event"))
	assert.Equal(t, []string{"r1", "r1"}, ruleIDs(d))
}

func TestFindings_InvalidParams(t *testing.T) {
	w := getFindings(t, "?severity=fatal&hide_city=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e := errObj(t, w)
	details := e["details"].(map[string]any)
	assert.Contains(t, details, "severity")
	assert.Contains(t, details, "hide_city")
}

func TestFindings_EmptyRun(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewFindingsHandler(&stubRuns{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/findings", nil))

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, []any{}, d["findings"])
	assert.Equal(t, []any{}, d["categories"])
}

// --- rules ---

func TestRules_ReturnsDiagnostics(t *testing.T) {
	runs := &stubRuns{stats: []models.RuleStats{
		{Rule: models.Rule{ID: "r1", Name: "Missing city"}, FindingCount: 2, EntityCount: 2, Active: true},
		{Rule: models.Rule{ID: "r9"}},
	}}
	w := httptest.NewRecorder()
	handler.NewRulesHandler(runs).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rules", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []models.RuleStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, "r1", env.Data[0].ID)
	assert.Equal(t, "Missing city", env.Data[0].Name)
	assert.Equal(t, 2, env.Data[0].FindingCount)
	assert.Equal(t, 2, env.Data[0].EntityCount)
	assert.True(t, env.Data[0].Active)
	assert.False(t, env.Data[1].Active)
}

func TestTestRule_CachesRawResult(t *testing.T) {
	raw := json.RawMessage(`{"rule":{"id":"r1"},"diagnostics":{"totalEventsChecked":10},"recommendations":["add city"],"extra":true}`)
	tester := &stubTester{res: &linter.RuleTestResult{Raw: raw}}
	c := newMemCache()
	h := handler.NewTestRuleHandler(tester, c)

	w := withRuleID(h, "r1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "miss", w.Header().Get("X-Cache"))
	assert.Equal(t, true, data(t, w)["extra"], "unmodelled fields pass through")
	assert.Equal(t, handler.RuleTestTTL, c.ttl["rules:test:r1"])

	w = withRuleID(h, "r1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get("X-Cache"))
	assert.Equal(t, 1, tester.calls)
}

func TestTestRule_NoCache(t *testing.T) {
	tester := &stubTester{res: &linter.RuleTestResult{Recommendations: []string{}}}
	h := handler.NewTestRuleHandler(tester, nil)

	w := withRuleID(h, "r1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, data(t, w), "recommendations")
}

func TestTestRule_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rule error", &linter.RuleTestError{RuleID: "r1", Message: "rule not found"}, http.StatusUnprocessableEntity, "RULE_TEST_FAILED"},
		{"timeout", fmt.Errorf("%w: deadline", linter.ErrBackendTimeout), http.StatusGatewayTimeout, "BACKEND_TIMEOUT"},
		{"unreachable", fmt.Errorf("%w: refused", linter.ErrBackendUnreachable), http.StatusBadGateway, "BACKEND_UNAVAILABLE"},
		{"status", fmt.Errorf("%w: 500", linter.ErrBackendStatus), http.StatusBadGateway, "BACKEND_UNAVAILABLE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newMemCache()
			w := withRuleID(handler.NewTestRuleHandler(&stubTester{err: tc.err}, c), "r1")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errObj(t, w)["code"])
			assert.Empty(t, c.data, "failures are not cached")
		})
	}
}

func TestTestRule_ErrorMessageSurfaced(t *testing.T) {
	err := &linter.RuleTestError{RuleID: "r1", Message: "rule not found", Details: json.RawMessage(`"at line 3"`)}
	w := withRuleID(handler.NewTestRuleHandler(&stubTester{err: err}, nil), "r1")

	e := errObj(t, w)
	assert.Equal(t, "rule not found", e["message"])
	assert.Equal(t, map[string]any{"rule_id": "r1", "details": "at line 3"}, e["details"])
}

// --- suppressions ---

func TestSuppress_RecordsKeyName(t *testing.T) {
	svc := &stubSuppressor{}
	req := httptest.NewRequest(http.MethodPost, "/suppressions", jsonBody(t, map[string]string{
		"rule_id": "r1", "event_id": "e1", "duration": "7", "reason": "known",
	}))
	req = req.WithContext(mw.SetKeyName(req.Context(), "ops-team"))
	w := httptest.NewRecorder()

	handler.NewSuppressHandler(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, suppress.Request{
		RuleID: "r1", EventID: "e1", Duration: "7", Reason: "known", SuppressedBy: "ops-team",
	}, svc.got)
	s := data(t, w)["suppression"].(map[string]any)
	assert.Equal(t, "ops-team", s["suppressed_by"])
}

func TestSuppress_ValidationEchoesRequest(t *testing.T) {
	svc := &stubSuppressor{err: suppress.ErrMissingEntity}
	body := map[string]string{"rule_id": "r1", "duration": "forever", "reason": "keep me"}
	w := httptest.NewRecorder()

	handler.NewSuppressHandler(svc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/suppressions", jsonBody(t, body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errObj(t, w)
	assert.Equal(t, "INVALID_REQUEST", e["code"])
	assert.Equal(t, map[string]any{"rule_id": "r1", "duration": "forever", "reason": "keep me"}, e["details"])
}

func TestSuppress_StoreFailure502EchoesRequest(t *testing.T) {
	svc := &stubSuppressor{err: fmt.Errorf("storing suppression: %w", errors.New("db down"))}
	body := map[string]string{"rule_id": "r1", "artist_id": "a1", "duration": "30"}
	w := httptest.NewRecorder()

	handler.NewSuppressHandler(svc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/suppressions", jsonBody(t, body)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	e := errObj(t, w)
	assert.Equal(t, "SUPPRESSION_FAILED", e["code"])
	assert.Equal(t, map[string]any{"rule_id": "r1", "artist_id": "a1", "duration": "30"}, e["details"])
}

func TestListSuppressions_FilterAndPaging(t *testing.T) {
	lister := &stubLister{items: []*models.Suppression{{ID: uuid.New(), RuleID: "r1"}}, total: 3}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/suppressions?rule_id=r1&active=true&page=2&limit=1", nil)

	handler.NewListSuppressionsHandler(lister).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.SuppressionFilter{RuleID: "r1", ActiveOnly: true, Page: 2, Limit: 1}, lister.got)

	var env struct {
		Data []map[string]any `json:"data"`
		Meta map[string]any   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, env.Data, 1)
	assert.Equal(t, float64(3), env.Meta["total"])
	assert.Equal(t, true, env.Meta["has_next"])
}

func TestListSuppressions_Defaults(t *testing.T) {
	lister := &stubLister{}
	w := httptest.NewRecorder()
	handler.NewListSuppressionsHandler(lister).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/suppressions?limit=5000", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, lister.got.Page)
	assert.Equal(t, 200, lister.got.Limit)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestListSuppressions_BadParams(t *testing.T) {
	for _, q := range []string{"?active=sometimes", "?page=0", "?limit=x"} {
		w := httptest.NewRecorder()
		handler.NewListSuppressionsHandler(&stubLister{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/suppressions"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListSuppressions_StoreError(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewListSuppressionsHandler(&stubLister{err: errors.New("db down")}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/suppressions", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- keys ---

func TestCreateKey_201WithRawKeyOnce(t *testing.T) {
	km := &stubKeyManager{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", jsonBody(t, map[string]any{
		"name": "ops", "scopes": []string{"read", "suppress"},
	}))

	handler.NewCreateKeyHandler(km).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, km.created, 1)
	d := data(t, w)
	raw := d["key"].(string)
	assert.Equal(t, km.created[0].KeyPrefix, raw[:mw.KeyPrefixLen])
	assert.NotEqual(t, raw, km.created[0].KeyHash)
	assert.Equal(t, []any{"read", "suppress"}, d["scopes"])
}

func TestCreateKey_Validation(t *testing.T) {
	for name, body := range map[string]map[string]any{
		"missing name":  {"scopes": []string{"read"}},
		"unknown scope": {"name": "x", "scopes": []string{"write"}},
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.NewCreateKeyHandler(&stubKeyManager{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/keys", jsonBody(t, body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateKey_409Duplicate(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewCreateKeyHandler(&stubKeyManager{createErr: store.ErrDuplicateKey}).
		ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/keys", jsonBody(t, map[string]string{"name": "ops"})))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_KEY", errObj(t, w)["code"])
}

func TestListKeys_DoesNotExposeHash(t *testing.T) {
	km := &stubKeyManager{keys: []*models.APIKey{{ID: uuid.New(), Name: "ops", KeyHash: "$2a$secret", KeyPrefix: "el_abcde"}}}
	w := httptest.NewRecorder()
	handler.NewListKeysHandler(km).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/keys", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "$2a$secret")
	assert.Contains(t, w.Body.String(), "el_abcde")
}

func TestRevokeKey(t *testing.T) {
	id := uuid.New()
	revoke := func(km *stubKeyManager, keyID string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Delete("/admin/keys/{keyID}", handler.NewRevokeKeyHandler(km))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/keys/"+keyID, nil))
		return w
	}

	km := &stubKeyManager{}
	assert.Equal(t, http.StatusNoContent, revoke(km, id.String()).Code)
	assert.Equal(t, id, km.revoked)

	assert.Equal(t, http.StatusBadRequest, revoke(&stubKeyManager{}, "not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, revoke(&stubKeyManager{revokeErr: store.ErrNotFound}, id.String()).Code)
}

// --- health ---

func TestHealth_AllOK(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewHealthHandler(pinger{}, pinger{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", data(t, w)["status"])
}

func TestHealth_Degraded(t *testing.T) {
	w := httptest.NewRecorder()
	handler.NewHealthHandler(pinger{}, pinger{err: errors.New("redis down")}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	e := errObj(t, w)
	assert.Equal(t, "DEGRADED", e["code"])
	assert.Equal(t, map[string]any{"database": "ok", "cache": "degraded"}, e["details"])
}
