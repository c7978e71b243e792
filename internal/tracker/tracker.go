// Package tracker provides the issue-tracker client.
//
// The adapter speaks a Jira-style REST API. The rest of the system only sees
// the Client interface and opaque issue keys; authentication, retries, and
// field-shape quirks stay here.
package tracker

import (
	"context"
	"fmt"
	"time"
)

// Issue is a normalized issue-tracker record.
type Issue struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Client is the issue-tracker surface the core consumes.
type Client interface {
	// GetIssue fetches a full issue by key.
	GetIssue(ctx context.Context, key string) (*Issue, error)

	// GetIssueStatus fetches just the current status name for a key.
	GetIssueStatus(ctx context.Context, key string) (string, error)

	// AddComment appends a comment to the issue.
	AddComment(ctx context.Context, key, text string) error
}

// Config holds issue-tracker connection settings.
type Config struct {
	// BaseURL is the tracker's REST root, e.g. "https://jira.example.com".
	BaseURL string `koanf:"base_url"`

	// Email and APIToken authenticate via basic auth.
	Email    string `koanf:"email"`
	APIToken string `koanf:"api_token"`

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries uint `koanf:"max_retries"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("tracker base URL required")
	}
	if c.Email == "" || c.APIToken == "" {
		return fmt.Errorf("tracker credentials required")
	}
	return nil
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}
