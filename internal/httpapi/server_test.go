package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/match"
	"github.com/fyrsmithlabs/bugbind/internal/workflow"
)

type fakeWorkflows struct {
	created  *workflow.BugCreatedResult
	resolved *workflow.BugResolvedResult
	correct  *workflow.CorrectionResult
	err      error
}

func (f *fakeWorkflows) BugCreated(ctx context.Context, bugKey, runID string) (*workflow.BugCreatedResult, error) {
	return f.created, f.err
}

func (f *fakeWorkflows) BugResolved(ctx context.Context, bugKey string) (*workflow.BugResolvedResult, error) {
	return f.resolved, f.err
}

func (f *fakeWorkflows) Correction(ctx context.Context, bugKey, runID, text string) (*workflow.CorrectionResult, error) {
	return f.correct, f.err
}

type fakeStats struct {
	stats corrections.Statistics
	err   error
}

func (f *fakeStats) Statistics(ctx context.Context) (corrections.Statistics, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T, wf *fakeWorkflows, cfg *Config) *Server {
	t.Helper()
	s, err := NewServer(wf, &fakeStats{stats: corrections.Statistics{TotalMatches: 3, TotalCorrections: 1}},
		NewMetrics(), zap.NewNop(), cfg)
	require.NoError(t, err)
	return s
}

func doJSON(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, &fakeWorkflows{}, nil)
	rec := doJSON(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_BugCreated(t *testing.T) {
	wf := &fakeWorkflows{created: &workflow.BugCreatedResult{
		Bug: match.BugReport{Key: "ROLL-1396"},
		Matches: []match.Match{
			{TestID: "31834450", Confidence: 0.9},
		},
	}}
	s := newTestServer(t, wf, nil)

	rec := doJSON(s, http.MethodPost, "/api/v1/webhook/bug-created",
		`{"bug_key": "ROLL-1396", "run_id": "42"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res workflow.BugCreatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ROLL-1396", res.Bug.Key)
	require.Len(t, res.Matches, 1)
}

func TestServer_BugCreated_Validation(t *testing.T) {
	s := newTestServer(t, &fakeWorkflows{}, nil)

	rec := doJSON(s, http.MethodPost, "/api/v1/webhook/bug-created", `{"bug_key": "X-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(s, http.MethodPost, "/api/v1/webhook/bug-created", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BugResolved_BlockedIsOK(t *testing.T) {
	wf := &fakeWorkflows{resolved: &workflow.BugResolvedResult{
		BugKey: "ROLL-1396",
		Outcomes: []workflow.TestOutcome{
			{TestID: "31834450", Outcome: workflow.OutcomeBlocked},
		},
	}}
	s := newTestServer(t, wf, nil)

	rec := doJSON(s, http.MethodPost, "/api/v1/webhook/bug-resolved", `{"bug_key": "ROLL-1396"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a blocked transition is a structured outcome, not an HTTP error")
	assert.Contains(t, rec.Body.String(), workflow.OutcomeBlocked)
}

func TestServer_Correction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad syntax", match.ErrInvalidCorrectionSyntax, http.StatusBadRequest},
		{"run not found", match.ErrRunNotFound, http.StatusNotFound},
		{"timeout", match.ErrMatchingTimeout, http.StatusGatewayTimeout},
		{"bad model output", match.ErrInvalidModelOutput, http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeWorkflows{err: fmt.Errorf("wrapped: %w", tt.err)}, nil)
			rec := doJSON(s, http.MethodPost, "/api/v1/webhook/correction",
				`{"bug_key": "ROLL-1", "run_id": "42", "text": "CORRECT: 1"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_WebhookSecret(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 9090, WebhookSecret: "s3cret", RateLimitPerMinute: 600}
	wf := &fakeWorkflows{resolved: &workflow.BugResolvedResult{BugKey: "X-1"}}
	s := newTestServer(t, wf, cfg)

	rec := doJSON(s, http.MethodPost, "/api/v1/webhook/bug-resolved", `{"bug_key": "X-1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(s, http.MethodPost, "/api/v1/webhook/bug-resolved", `{"bug_key": "X-1"}`,
		map[string]string{"X-Webhook-Secret": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and stats stay open.
	rec = doJSON(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 9090, RateLimitPerMinute: 6}
	wf := &fakeWorkflows{resolved: &workflow.BugResolvedResult{BugKey: "X-1"}}
	s := newTestServer(t, wf, cfg)

	var limited bool
	for i := 0; i < 20; i++ {
		rec := doJSON(s, http.MethodPost, "/api/v1/webhook/bug-resolved", `{"bug_key": "X-1"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst beyond the per-minute budget must be limited")
}

func TestServer_Stats(t *testing.T) {
	s := newTestServer(t, &fakeWorkflows{}, nil)
	rec := doJSON(s, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats corrections.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalMatches)
	assert.Equal(t, 1, stats.TotalCorrections)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeWorkflows{}, nil)
	doJSON(s, http.MethodGet, "/health", "", nil)

	rec := doJSON(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bugbind_http_requests_total")
}
