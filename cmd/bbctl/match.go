package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// matchCmd triggers the bug-created workflow for one bug.
var matchCmd = &cobra.Command{
	Use:   "match <bug-key> <run-id>",
	Short: "Match a bug against a test run's cases",
	Long: `Match a bug report against the test cases of a run, mark the matched
tests failed, and attach the bug as a defect.

Examples:
  # Match ROLL-1396 against run 42
  bbctl match ROLL-1396 42`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

// resolveCmd triggers the bug-resolved workflow for one bug.
var resolveCmd = &cobra.Command{
	Use:   "resolve <bug-key>",
	Short: "Resolve a bug and pass its tests where no defects remain open",
	Long: `Walk every test linked to the bug and transition each to passing,
unless other linked defects are still open.

Examples:
  bbctl resolve ROLL-1396`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

// correctCmd records a user correction for a bug's test linkage.
var correctCmd = &cobra.Command{
	Use:   "correct <bug-key> <run-id> <text>",
	Short: "Record a match correction",
	Long: `Record a correction for a bug's test linkage. The text uses the same
syntax as a tracker comment reply:

  CORRECT: <test-ids>   replace the recorded matches
  ADD: <test-ids>       add further matches

Examples:
  bbctl correct ROLL-1396 42 "CORRECT: 31834452"
  bbctl correct ROLL-1396 42 "ADD: 31834450, 31834451"`,
	Args: cobra.ExactArgs(3),
	RunE: runCorrect,
}

// doPost issues an authenticated POST against a webhook endpoint and decodes
// the JSON response into out.
func doPost(path string, reqBody, out any) error {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if webhookSecret != "" {
		httpReq.Header.Set("X-Webhook-Secret", webhookSecret)
	}

	// Matching can wait on the reasoning model, so the client timeout must
	// exceed the server's model timeout.
	client := &http.Client{
		Timeout: 3 * time.Minute,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// matchResult mirrors the bug-created webhook response.
type matchResult struct {
	Bug struct {
		Key     string `json:"key"`
		Summary string `json:"summary"`
	} `json:"bug"`
	Matches []struct {
		TestID      string  `json:"test_id"`
		Title       string  `json:"title"`
		Confidence  float64 `json:"confidence"`
		Reasoning   string  `json:"reasoning"`
		Learned     bool    `json:"learned,omitempty"`
		AutoMatched bool    `json:"auto_matched,omitempty"`
	} `json:"matches"`
}

// runMatch handles the match command
func runMatch(cmd *cobra.Command, args []string) error {
	req := map[string]string{"bug_key": args[0], "run_id": args[1]}

	var res matchResult
	if err := doPost("/api/v1/webhook/bug-created", req, &res); err != nil {
		return err
	}

	fmt.Printf("Bug: %s %s\n", res.Bug.Key, res.Bug.Summary)
	for _, m := range res.Matches {
		source := "model"
		if m.AutoMatched {
			source = "auto"
		} else if m.Learned {
			source = "learned"
		}
		fmt.Printf("  %s  %s  (confidence %.2f, %s)\n", m.TestID, m.Title, m.Confidence, source)
		if m.Reasoning != "" {
			fmt.Printf("      %s\n", m.Reasoning)
		}
	}
	return nil
}

// resolveResult mirrors the bug-resolved webhook response.
type resolveResult struct {
	BugKey   string `json:"bug_key"`
	Outcomes []struct {
		TestID   string `json:"test_id"`
		Title    string `json:"title,omitempty"`
		Outcome  string `json:"outcome"`
		OpenBugs []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
		} `json:"open_bugs,omitempty"`
	} `json:"outcomes"`
}

// runResolve handles the resolve command
func runResolve(cmd *cobra.Command, args []string) error {
	req := map[string]string{"bug_key": args[0]}

	var res resolveResult
	if err := doPost("/api/v1/webhook/bug-resolved", req, &res); err != nil {
		return err
	}

	fmt.Printf("Bug: %s\n", res.BugKey)
	for _, out := range res.Outcomes {
		fmt.Printf("  %s  %s  %s\n", out.TestID, out.Title, out.Outcome)
		for _, b := range out.OpenBugs {
			fmt.Printf("      blocked by %s (%s)\n", b.Key, b.Status)
		}
	}
	return nil
}

// correctionResult mirrors the correction webhook response.
type correctionResult struct {
	BugKey string `json:"bug_key"`
	Mode   string `json:"mode"`
	Tests  []struct {
		TestID string `json:"test_id"`
		Title  string `json:"title,omitempty"`
	} `json:"tests"`
}

// runCorrect handles the correct command
func runCorrect(cmd *cobra.Command, args []string) error {
	req := map[string]string{"bug_key": args[0], "run_id": args[1], "text": args[2]}

	var res correctionResult
	if err := doPost("/api/v1/webhook/correction", req, &res); err != nil {
		return err
	}

	fmt.Printf("Recorded %s correction for %s:\n", res.Mode, res.BugKey)
	for _, tc := range res.Tests {
		fmt.Printf("  %s  %s\n", tc.TestID, tc.Title)
	}
	return nil
}
