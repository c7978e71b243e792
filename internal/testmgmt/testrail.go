package testmgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/match"
)

// runListTTL bounds how long a run's candidate listing is reused. Webhook
// bursts for one bug land within seconds; new tests must show up soon after.
const runListTTL = 30 * time.Second

// TestRailClient is a Client over a TestRail-style REST API.
type TestRailClient struct {
	cfg      Config
	http     *http.Client
	sections *cache.Cache
	runs     *cache.Cache
	logger   *zap.Logger
}

// NewTestRailClient creates a test-management client from config.
func NewTestRailClient(cfg Config, logger *zap.Logger) (*TestRailClient, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid testmgmt config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TestRailClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		sections: cache.New(cfg.SectionCacheTTL, 2*cfg.SectionCacheTTL),
		runs:     cache.New(runListTTL, 2*runListTTL),
		logger:   logger,
	}, nil
}

// wireTest is the wire shape of one entry of get_tests.
type wireTest struct {
	ID            int64  `json:"id"`
	CaseID        int64  `json:"case_id"`
	Title         string `json:"title"`
	SectionID     int64  `json:"section_id"`
	Preconditions string `json:"custom_preconds"`
	StepsText     string `json:"custom_steps"`
	Expected      string `json:"custom_expected"`
	StepsList     []struct {
		Content  string `json:"content"`
		Expected string `json:"expected"`
	} `json:"custom_steps_separated"`
}

// TestsWithDetails lists the candidates of a run. Listings are cached
// briefly so the matching and correction webhooks of one bug share a fetch.
func (c *TestRailClient) TestsWithDetails(ctx context.Context, runID string) ([]match.TestCaseCandidate, error) {
	if cached, hit := c.runs.Get(runID); hit {
		return cached.([]match.TestCaseCandidate), nil
	}

	var wire struct {
		Tests []wireTest `json:"tests"`
	}
	if err := c.get(ctx, "get_tests/"+url.PathEscape(runID), &wire); err != nil {
		return nil, fmt.Errorf("listing tests of run %s: %w", runID, err)
	}

	candidates := make([]match.TestCaseCandidate, 0, len(wire.Tests))
	for _, t := range wire.Tests {
		candidates = append(candidates, match.TestCaseCandidate{
			TestID:         strconv.FormatInt(t.ID, 10),
			CaseID:         strconv.FormatInt(t.CaseID, 10),
			Title:          t.Title,
			Steps:          t.steps(),
			Preconditions:  t.Preconditions,
			ExpectedResult: t.Expected,
			SectionID:      strconv.FormatInt(t.SectionID, 10),
		})
	}

	c.runs.SetDefault(runID, candidates)
	c.logger.Debug("run candidates listed",
		zap.String("run_id", runID),
		zap.Int("count", len(candidates)))
	return candidates, nil
}

// steps normalizes the two step layouts a case may use: a separated list of
// step objects, or one newline-delimited text blob.
func (t wireTest) steps() []string {
	if len(t.StepsList) > 0 {
		steps := make([]string, 0, len(t.StepsList))
		for _, s := range t.StepsList {
			steps = append(steps, s.Content)
		}
		return steps
	}
	if strings.TrimSpace(t.StepsText) == "" {
		return nil
	}
	var steps []string
	for _, line := range strings.Split(t.StepsText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return steps
}

// ResultHistory returns a test's results, newest first as the API serves
// them.
func (c *TestRailClient) ResultHistory(ctx context.Context, testID string) ([]Result, error) {
	var wire struct {
		Results []struct {
			StatusID int    `json:"status_id"`
			Defects  string `json:"defects"`
		} `json:"results"`
	}
	if err := c.get(ctx, "get_results/"+url.PathEscape(testID), &wire); err != nil {
		return nil, fmt.Errorf("fetching result history of test %s: %w", testID, err)
	}

	history := make([]Result, 0, len(wire.Results))
	for _, r := range wire.Results {
		history = append(history, Result{
			StatusID: r.StatusID,
			Defects:  splitDefects(r.Defects),
		})
	}
	return history, nil
}

// splitDefects parses the comma-separated defects field.
func splitDefects(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

// MarkFailed posts a failing result carrying the defect keys.
func (c *TestRailClient) MarkFailed(ctx context.Context, testID, comment string, defectKeys []string) error {
	return c.addResult(ctx, testID, map[string]any{
		"status_id": StatusFailed,
		"comment":   comment,
		"defects":   strings.Join(defectKeys, ","),
	})
}

// MarkPassed posts a passing result with an empty defect list.
func (c *TestRailClient) MarkPassed(ctx context.Context, testID, comment string) error {
	return c.addResult(ctx, testID, map[string]any{
		"status_id": StatusPassed,
		"comment":   comment,
		"defects":   "",
	})
}

func (c *TestRailClient) addResult(ctx context.Context, testID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("add_result/"+url.PathEscape(testID)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting result for test %s: %w", testID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("posting result for test %s: %s", testID, resp.Status)
	}

	c.logger.Info("test result posted",
		zap.String("test_id", testID),
		zap.Any("status_id", payload["status_id"]))
	return nil
}

// SectionName resolves a section identifier, caching results.
func (c *TestRailClient) SectionName(ctx context.Context, sectionID string) (string, error) {
	if name, hit := c.sections.Get(sectionID); hit {
		return name.(string), nil
	}

	var wire struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "get_section/"+url.PathEscape(sectionID), &wire); err != nil {
		return "", fmt.Errorf("resolving section %s: %w", sectionID, err)
	}

	c.sections.SetDefault(sectionID, wire.Name)
	return wire.Name, nil
}

func (c *TestRailClient) endpoint(path string) string {
	return c.cfg.BaseURL + "/index.php?/api/v2/" + path
}

func (c *TestRailClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("testmgmt returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
