// Package linter is the HTTP client for the event linter edge functions.
package linter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splashkes/eventlinter/pkg/models"
)

// Sentinel errors for backend failures.
var (
	ErrBackendUnreachable = errors.New("linter backend unreachable")
	ErrBackendStatus      = errors.New("linter backend returned an error status")
	ErrBackendTimeout     = errors.New("linter backend timeout")
	ErrRuleTestFailed     = errors.New("rule test failed")
)

// maxErrorBody caps how much of a failed response body is kept in the error.
const maxErrorBody = 512

// maxFailureBody caps how much of a failed one-shot body is decoded.
const maxFailureBody = 4 << 20

// Client is the interface for talking to the linter backend.
type Client interface {
	// Stream opens a streaming run. The caller owns and must close the body.
	Stream(ctx context.Context, scope models.Scope) (io.ReadCloser, error)
	// RunOnce performs a non-streaming run and returns the whole result.
	RunOnce(ctx context.Context, scope models.Scope) (*OneShotResult, error)
	// TestRule asks the backend to evaluate one rule with diagnostics.
	TestRule(ctx context.Context, ruleID string) (*RuleTestResult, error)
}

// HTTPClient implements Client against the edge function HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	// stream has no overall timeout; the run lasts as long as the backend
	// keeps the response open or the caller's context allows.
	stream *http.Client
}

// NewHTTPClient creates a new linter backend client. timeout applies to
// one-shot runs and rule tests only.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

func (c *HTTPClient) Stream(ctx context.Context, scope models.Scope) (io.ReadCloser, error) {
	u := c.runURL(scope, true)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (c *HTTPClient) RunOnce(ctx context.Context, scope models.Scope) (*OneShotResult, error) {
	u := c.runURL(scope, false)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failedRun(resp)
	}

	var result OneShotResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding linter response: %w", err)
	}
	if result.Findings == nil {
		result.Findings = []models.Finding{}
	}
	return &result, nil
}

func (c *HTTPClient) TestRule(ctx context.Context, ruleID string) (*RuleTestResult, error) {
	body, err := json.Marshal(map[string]string{"ruleId": ruleID})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := c.baseURL + "/test-linter-rule"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}

	// Failures come back as {error, details} or {error, stack}, usually
	// with a 4xx status.
	var failure struct {
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
		Stack   json.RawMessage `json:"stack"`
	}
	if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
		details := failure.Details
		if len(details) == 0 {
			details = failure.Stack
		}
		return nil, &RuleTestError{RuleID: ruleID, Message: failure.Error, Details: details}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendStatus, resp.StatusCode, truncate(raw))
	}

	var result RuleTestResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding rule test response: %w", err)
	}
	result.Raw = raw
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return &result, nil
}

func (c *HTTPClient) runURL(scope models.Scope, streaming bool) string {
	params := url.Values{}
	if streaming {
		params.Set("stream", "true")
	}
	if scope.FutureOnly {
		params.Set("future", "true")
	}
	if scope.ActiveOnly {
		params.Set("active", "true")
	}
	u := c.baseURL + "/event-linter"
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// failedRun reads a non-2xx one-shot response. A body carrying an error
// message is a reported failure, returned as a result so the message
// reaches the run verbatim; anything else is a status error.
func failedRun(resp *http.Response) (*OneShotResult, error) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
	var result OneShotResult
	if err := json.Unmarshal(body, &result); err != nil || result.Error == "" {
		return nil, bodyStatusError(resp.StatusCode, body)
	}
	result.Success = false
	if result.Findings == nil {
		result.Findings = []models.Finding{}
	}
	return &result, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return bodyStatusError(resp.StatusCode, body)
}

func bodyStatusError(status int, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: status %d", ErrBackendStatus, status)
	}
	return fmt.Errorf("%w: status %d: %s", ErrBackendStatus, status, truncate(body))
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
