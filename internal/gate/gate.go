// Package gate guards passing transitions on test cases that still have
// open defects attached.
//
// The check is fail-safe: a defect whose tracker lookup fails counts as
// open. A test wrongly held in failing state costs a re-run; a test wrongly
// marked green hides a live defect.
package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/testmgmt"
	"github.com/fyrsmithlabs/bugbind/internal/tracker"
)

// HistorySource provides a test case's full result history.
type HistorySource interface {
	ResultHistory(ctx context.Context, testID string) ([]testmgmt.Result, error)
}

// IssueSource resolves defect keys to their current tracker state.
type IssueSource interface {
	GetIssue(ctx context.Context, key string) (*tracker.Issue, error)
}

// OpenBug is one defect blocking a passing transition.
type OpenBug struct {
	Key     string `json:"key"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

// Result is the outcome of one open-defect check. Computed fresh per
// invocation from the full result history; never cached.
type Result struct {
	HasOpen          bool      `json:"has_open"`
	OpenBugs         []OpenBug `json:"open_bugs"`
	TotalBugsChecked int       `json:"total_bugs_checked"`
}

// Config holds gate tuning.
type Config struct {
	// OpenStatuses are the tracker status names classified as open,
	// case-insensitive.
	OpenStatuses []string `koanf:"open_statuses"`

	// LookupTimeout bounds each per-defect tracker lookup.
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if len(c.OpenStatuses) == 0 {
		c.OpenStatuses = []string{"Open", "Reopened", "Ready for Dev", "To Do"}
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = 15 * time.Second
	}
}

// Checker decides whether a test case may transition to passing.
type Checker struct {
	history      HistorySource
	issues       IssueSource
	openStatuses map[string]struct{}
	timeout      time.Duration
	logger       *zap.Logger
}

// NewChecker creates an open-defect checker.
func NewChecker(cfg Config, history HistorySource, issues IssueSource, logger *zap.Logger) (*Checker, error) {
	cfg.applyDefaults()
	if history == nil {
		return nil, fmt.Errorf("history source cannot be nil")
	}
	if issues == nil {
		return nil, fmt.Errorf("issue source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	open := make(map[string]struct{}, len(cfg.OpenStatuses))
	for _, s := range cfg.OpenStatuses {
		open[strings.ToLower(s)] = struct{}{}
	}

	return &Checker{
		history:      history,
		issues:       issues,
		openStatuses: open,
		timeout:      cfg.LookupTimeout,
		logger:       logger,
	}, nil
}

// CheckOpenDefects inspects every defect ever attached to the test, excludes
// the one being resolved, and classifies the rest by current tracker status.
//
// The full history is unioned, not just the latest result: a defect dropped
// from the newest result's defect list may still be logically unresolved.
func (c *Checker) CheckOpenDefects(ctx context.Context, testID, resolvingBugKey string) (*Result, error) {
	history, err := c.history.ResultHistory(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("fetching result history of test %s: %w", testID, err)
	}

	union := make(map[string]struct{})
	for _, result := range history {
		for _, key := range result.Defects {
			union[key] = struct{}{}
		}
	}
	delete(union, resolvingBugKey)

	keys := make([]string, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	res := &Result{TotalBugsChecked: len(keys)}
	for _, key := range keys {
		status, summary, ok := c.lookup(ctx, key)
		if !ok {
			// Fail-safe: an unknown status blocks the transition.
			res.OpenBugs = append(res.OpenBugs, OpenBug{Key: key, Status: status})
			continue
		}
		if _, open := c.openStatuses[strings.ToLower(status)]; open {
			res.OpenBugs = append(res.OpenBugs, OpenBug{Key: key, Status: status, Summary: summary})
		}
	}
	res.HasOpen = len(res.OpenBugs) > 0

	c.logger.Info("open-defect check complete",
		zap.String("test_id", testID),
		zap.String("resolving_bug", resolvingBugKey),
		zap.Int("checked", res.TotalBugsChecked),
		zap.Int("open", len(res.OpenBugs)))
	return res, nil
}

// lookup fetches a defect's status and summary under the per-defect timeout.
func (c *Checker) lookup(ctx context.Context, key string) (status, summary string, ok bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	issue, err := c.issues.GetIssue(lookupCtx, key)
	if err != nil {
		c.logger.Warn("defect status lookup failed, classifying as open",
			zap.String("defect_key", key),
			zap.Error(err))
		return "unknown", "", false
	}
	return issue.Status, issue.Summary, true
}
