package corrections

import (
	"time"

	"github.com/fyrsmithlabs/bugbind/internal/match"
)

// CorrectionMode says how a correction batch relates to prior links.
type CorrectionMode string

const (
	// ModeCorrect replaces all prior matches for the bug.
	ModeCorrect CorrectionMode = "correct"

	// ModeAdd augments the bug's links without replacing them.
	ModeAdd CorrectionMode = "add"
)

// Correction is one user-confirmed (bug -> correct test) association.
//
// Corrections are never deleted or mutated: the store is a historical
// ledger, and "most recent wins" is resolved at read time by scanning
// newest-first.
type Correction struct {
	Bug match.BugReport `json:"bug"`

	CorrectTestID string `json:"correct_test_id"`
	CorrectCaseID string `json:"correct_case_id"`
	CorrectTitle  string `json:"correct_title"`

	// Mode records whether this correction replaced or augmented the bug's
	// prior links. BatchID groups corrections submitted together, so a
	// replace applies to the whole batch, not just its last entry.
	Mode    CorrectionMode `json:"mode"`
	BatchID string         `json:"batch_id"`

	CorrectedAt time.Time `json:"corrected_at"`
}

// MatchRecord is one raw match produced by the engine, written regardless of
// confidence. It forms the fallback substrate for multi-match similarity
// search.
type MatchRecord struct {
	Bug      match.BugReport `json:"bug"`
	Match    match.Match     `json:"match"`
	StoredAt time.Time       `json:"stored_at"`
}

// TestCaseRef identifies one linked test case.
type TestCaseRef struct {
	TestID string `json:"test_id"`
	CaseID string `json:"case_id"`
	Title  string `json:"title"`
}

// Statistics summarizes store contents.
type Statistics struct {
	TotalMatches     int        `json:"total_matches"`
	TotalCorrections int        `json:"total_corrections"`
	CorrectionRate   float64    `json:"correction_rate"`
	LastMatch        *time.Time `json:"last_match,omitempty"`
	LastCorrection   *time.Time `json:"last_correction,omitempty"`
}
