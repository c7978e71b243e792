package workflow

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/match"
)

// ParseCorrection parses user correction text.
//
// Accepted forms, case-insensitive on the verb:
//
//	CORRECT: <id>[, <id>...]   replaces the bug's linked tests
//	ADD: <id>[, <id>...]       augments the bug's linked tests
//
// Identifiers may be test IDs or case IDs, separated by commas.
func ParseCorrection(text string) (corrections.CorrectionMode, []string, error) {
	trimmed := strings.TrimSpace(text)
	verb, rest, found := strings.Cut(trimmed, ":")
	if !found {
		return "", nil, fmt.Errorf("%w: expected \"CORRECT: <ids>\" or \"ADD: <ids>\"", match.ErrInvalidCorrectionSyntax)
	}

	var mode corrections.CorrectionMode
	switch strings.ToUpper(strings.TrimSpace(verb)) {
	case "CORRECT":
		mode = corrections.ModeCorrect
	case "ADD":
		mode = corrections.ModeAdd
	default:
		return "", nil, fmt.Errorf("%w: unknown verb %q", match.ErrInvalidCorrectionSyntax, strings.TrimSpace(verb))
	}

	var ids []string
	for _, part := range strings.Split(rest, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	if len(ids) == 0 {
		return "", nil, fmt.Errorf("%w: no test identifiers given", match.ErrInvalidCorrectionSyntax)
	}
	return mode, ids, nil
}

// composeMatchComment renders the bug-created result for the tracker.
func (o *Orchestrator) composeMatchComment(matches []match.Match) string {
	var b strings.Builder
	if len(matches) == 1 {
		b.WriteString("Linked to 1 test case:\n")
	} else {
		fmt.Fprintf(&b, "Linked to %d test cases:\n", len(matches))
	}

	for _, m := range matches {
		fmt.Fprintf(&b, "- %s (test %s, confidence %.2f)", m.Title, m.TestID, m.Confidence)
		switch {
		case m.AutoMatched:
			b.WriteString(" [auto-matched]")
		case m.Learned:
			b.WriteString(" [learned]")
		}
		if !o.matcher.IsConfident(m) {
			b.WriteString(" [low confidence, please verify]")
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nReply \"CORRECT: <test id>\" to fix a wrong link, or \"ADD: <test id>\" to add one.")
	return b.String()
}

// composeResolutionComment renders the bug-resolved result for the tracker.
func (o *Orchestrator) composeResolutionComment(result *BugResolvedResult) string {
	var b strings.Builder
	b.WriteString("Resolution processed:\n")
	for _, out := range result.Outcomes {
		switch out.Outcome {
		case OutcomePassed:
			fmt.Fprintf(&b, "- test %s marked passed\n", out.TestID)
		case OutcomeAlreadyPassed:
			fmt.Fprintf(&b, "- test %s already passed, nothing to do\n", out.TestID)
		case OutcomeBlocked:
			fmt.Fprintf(&b, "- test %s stays failing, %d defect(s) still open:\n", out.TestID, len(out.OpenBugs))
			for _, bug := range out.OpenBugs {
				fmt.Fprintf(&b, "    - %s (%s) %s\n", bug.Key, bug.Status, bug.Summary)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// composeCorrectionComment confirms a recorded correction.
func (o *Orchestrator) composeCorrectionComment(mode corrections.CorrectionMode, refs []corrections.TestCaseRef) string {
	var b strings.Builder
	if mode == corrections.ModeCorrect {
		b.WriteString("Correction recorded; this bug is now linked to:\n")
	} else {
		b.WriteString("Additional links recorded:\n")
	}
	for _, ref := range refs {
		fmt.Fprintf(&b, "- %s (test %s)\n", ref.Title, ref.TestID)
	}
	b.WriteString("Future similar bugs will learn from this correction.")
	return b.String()
}
