package tracker

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

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// JiraClient is a Client over a Jira-style REST API.
type JiraClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewJiraClient creates a tracker client from config.
func NewJiraClient(cfg Config, logger *zap.Logger) (*JiraClient, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JiraClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}, nil
}

// jiraIssue is the wire shape of GET /rest/api/2/issue/{key}. Description is
// raw because the field arrives in several shapes depending on tracker
// version and project configuration.
type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

// GetIssue fetches and normalizes an issue.
func (c *JiraClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var wire jiraIssue
	if err := c.get(ctx, "/rest/api/2/issue/"+url.PathEscape(key), &wire); err != nil {
		return nil, fmt.Errorf("fetching issue %s: %w", key, err)
	}

	return &Issue{
		Key:         wire.Key,
		Summary:     wire.Fields.Summary,
		Description: extractText(wire.Fields.Description),
		Status:      wire.Fields.Status.Name,
	}, nil
}

// GetIssueStatus fetches only the status name.
func (c *JiraClient) GetIssueStatus(ctx context.Context, key string) (string, error) {
	var wire jiraIssue
	if err := c.get(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"?fields=status", &wire); err != nil {
		return "", fmt.Errorf("fetching status of %s: %w", key, err)
	}
	return wire.Fields.Status.Name, nil
}

// AddComment appends a comment to the issue.
func (c *JiraClient) AddComment(ctx context.Context, key, text string) error {
	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return fmt.Errorf("encoding comment: %w", err)
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/rest/api/2/issue/"+url.PathEscape(key)+"/comment",
			bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		return struct{}{}, checkStatus(resp)
	}

	if _, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries)); err != nil {
		return fmt.Errorf("commenting on %s: %w", key, err)
	}

	c.logger.Debug("comment added", zap.String("issue_key", key), zap.Int("len", len(text)))
	return nil
}

// get performs a retried GET and decodes the response into out.
func (c *JiraClient) get(ctx context.Context, path string, out any) error {
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		return io.ReadAll(resp.Body)
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// checkStatus converts HTTP status codes to errors. Client errors other than
// 429 are permanent: retrying a 404 or 401 only burns the retry budget.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("tracker returned %s", resp.Status)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// extractText normalizes the variously-shaped description field. Observed
// variants: plain string, bare number, null, and a nested rich-text document
// of content nodes. Each variant has its own extraction path; unknown shapes
// normalize to "".
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}

	var doc richTextDoc
	if err := json.Unmarshal(raw, &doc); err == nil {
		return doc.text()
	}

	return ""
}

// richTextDoc is the nested document variant of the description field.
type richTextDoc struct {
	Content []richTextNode `json:"content"`
}

type richTextNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Content []richTextNode `json:"content"`
}

// text flattens the document to plain text, one line per block node.
func (d richTextDoc) text() string {
	var b strings.Builder
	for _, node := range d.Content {
		line := node.flatten()
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func (n richTextNode) flatten() string {
	if n.Text != "" {
		return n.Text
	}
	var b strings.Builder
	for _, child := range n.Content {
		b.WriteString(child.flatten())
	}
	return b.String()
}
