package match

import (
	"encoding/json"
	"fmt"
	"strings"
)

// System prompts instruct the model to answer with strict JSON. The engine
// validates every identifier in the response against the candidate list, so
// the prompts also forbid inventing IDs.
const (
	singleSystemPrompt = `You link accessibility bug reports to test cases.
Given a bug report and a list of candidate test cases, pick the single test
case the bug corresponds to. Respond with JSON only:
{"test_id": "<id from the candidate list>", "confidence": <0.0-1.0>, "reasoning": "<why>"}
Use only test_id values that appear in the candidate list. Never invent identifiers.`

	multiSystemPrompt = `You link accessibility bug reports to test cases.
The bug report may describe several independent defects. Group issues that
would fail the same test case and return each candidate test at most once,
folding the grouped rationale into one reasoning string. Respond with JSON only:
{"matches": [{"test_id": "<id from the candidate list>", "confidence": <0.0-1.0>, "reasoning": "<why>"}]}
Use only test_id values that appear in the candidate list. Never invent identifiers.`
)

// buildUserPrompt renders the bug and the full candidate list.
//
// The description leads: titles follow a categorical naming convention and
// make a poor matching signal, so the model is pointed at the description as
// the primary text.
func buildUserPrompt(bug BugReport, candidates []TestCaseCandidate) string {
	var b strings.Builder

	b.WriteString("Bug report:\n")
	if strings.TrimSpace(bug.Description) != "" {
		fmt.Fprintf(&b, "Description (primary signal): %s\n", bug.Description)
	}
	if bug.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", bug.Summary)
	}
	if bug.Category != "" {
		fmt.Fprintf(&b, "Category hint: %s\n", bug.Category)
	}

	b.WriteString("\nCandidate test cases:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n- test_id: %s\n  title: %s\n", c.TestID, c.Title)
		if len(c.Steps) > 0 {
			b.WriteString("  steps:\n")
			for i, step := range c.Steps {
				fmt.Fprintf(&b, "    %d. %s\n", i+1, step)
			}
		}
		if c.Preconditions != "" {
			fmt.Fprintf(&b, "  preconditions: %s\n", c.Preconditions)
		}
		if c.ExpectedResult != "" {
			fmt.Fprintf(&b, "  expected: %s\n", c.ExpectedResult)
		}
	}

	return b.String()
}

// modelMatch is one entry of the model's structured response.
type modelMatch struct {
	TestID     string  `json:"test_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// modelResponse covers both response shapes: single-match mode answers with
// a bare entry, multi-match mode wraps entries in "matches".
type modelResponse struct {
	modelMatch
	Matches []modelMatch `json:"matches"`
}

// parseModelResponse decodes the raw completion. Markdown code fences are
// tolerated since some endpoints wrap JSON output despite JSON mode.
func parseModelResponse(raw string) (*modelResponse, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var resp modelResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err)
	}
	return &resp, nil
}

// entries returns the response entries regardless of shape.
func (r *modelResponse) entries() []modelMatch {
	if len(r.Matches) > 0 {
		return r.Matches
	}
	if r.TestID != "" {
		return []modelMatch{r.modelMatch}
	}
	return nil
}
