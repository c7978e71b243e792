// Package testmgmt provides the test-management client.
//
// The adapter speaks a TestRail-style REST API with numeric run/test
// identifiers. The rest of the system deals in opaque string identifiers
// only; translation happens at this boundary.
package testmgmt

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/bugbind/internal/match"
)

// Result statuses on the wire.
const (
	StatusPassed = 1
	StatusFailed = 5
)

// Result is one entry of a test case's result history, newest first.
type Result struct {
	// Defects are the issue keys attached to this result.
	Defects []string `json:"defects"`

	// StatusID is the result status (StatusPassed, StatusFailed, or a
	// site-specific custom status).
	StatusID int `json:"status_id"`
}

// Client is the test-management surface the core consumes.
type Client interface {
	// TestsWithDetails lists the candidates of a run.
	TestsWithDetails(ctx context.Context, runID string) ([]match.TestCaseCandidate, error)

	// ResultHistory returns a test's results ordered newest-first.
	ResultHistory(ctx context.Context, testID string) ([]Result, error)

	// MarkFailed posts a failing result carrying the given defect keys.
	MarkFailed(ctx context.Context, testID, comment string, defectKeys []string) error

	// MarkPassed posts a passing result with an empty defect list.
	MarkPassed(ctx context.Context, testID, comment string) error

	// SectionName resolves a section identifier to its display name.
	SectionName(ctx context.Context, sectionID string) (string, error)
}

// Config holds test-management connection settings.
type Config struct {
	// BaseURL is the instance root, e.g. "https://example.testrail.io".
	BaseURL string `koanf:"base_url"`

	// User and APIKey authenticate via basic auth.
	User   string `koanf:"user"`
	APIKey string `koanf:"api_key"`

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// SectionCacheTTL bounds how long resolved section names are reused.
	// Section names change rarely; the pre-filter resolves them on every
	// webhook otherwise.
	SectionCacheTTL time.Duration `koanf:"section_cache_ttl"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("testmgmt base URL required")
	}
	if c.User == "" || c.APIKey == "" {
		return fmt.Errorf("testmgmt credentials required")
	}
	return nil
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SectionCacheTTL == 0 {
		c.SectionCacheTTL = 10 * time.Minute
	}
}
