// Package match links accessibility bug reports to test cases.
//
// The engine tries, in order: a learned match from the correction store, a
// section/title pre-filter auto-match, and finally a reasoning-model call.
// Model output is validated hard: an identifier the model invents is a
// failure, never a best-guess match.
package match

import "strings"

// BugReport is a bug fetched from the issue tracker.
// Immutable once fetched; re-fetched fresh per workflow invocation.
type BugReport struct {
	// Key is the unique external identifier (e.g. "ROLL-1396").
	Key string `json:"key"`

	// Summary is the short title text.
	Summary string `json:"summary"`

	// Description is the free-form long text.
	Description string `json:"description"`

	// Category is an optional explicit classification hint, typically
	// extracted from a structured title convention.
	Category string `json:"category,omitempty"`
}

// Text returns the matching text for the bug, with the description taking
// priority over the summary. Titles are categorical labels, not problem
// descriptions, so the description is the primary signal.
func (b BugReport) Text() string {
	if strings.TrimSpace(b.Description) != "" {
		return b.Description
	}
	return b.Summary
}

// TestCaseCandidate is one test case from the current run's listing.
// Supplied per invocation by the test-management collaborator; read-only.
type TestCaseCandidate struct {
	// TestID is the run-scoped handle used to post results.
	TestID string `json:"test_id"`

	// CaseID is the stable case definition identifier.
	CaseID string `json:"case_id"`

	Title          string   `json:"title"`
	Steps          []string `json:"steps,omitempty"`
	Preconditions  string   `json:"preconditions,omitempty"`
	ExpectedResult string   `json:"expected_result,omitempty"`

	// SectionID is an optional grouping key, resolved to a section name via
	// the test-management client.
	SectionID string `json:"section_id,omitempty"`
}

// Match is one proposed (bug, test) link.
type Match struct {
	TestID string `json:"test_id"`
	CaseID string `json:"case_id"`
	Title  string `json:"title"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`

	// Reasoning is the model's (or store's) rationale for the link.
	Reasoning string `json:"reasoning"`

	// Learned is true when the match came from the correction store rather
	// than a fresh reasoning-model call.
	Learned bool `json:"learned,omitempty"`

	// AutoMatched is true when the section/title pre-filter produced the
	// match without consulting the model.
	AutoMatched bool `json:"auto_matched,omitempty"`
}

// candidateIndex builds a TestID lookup for validation.
func candidateIndex(candidates []TestCaseCandidate) map[string]TestCaseCandidate {
	idx := make(map[string]TestCaseCandidate, len(candidates))
	for _, c := range candidates {
		idx[c.TestID] = c
	}
	return idx
}
