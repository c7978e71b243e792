package match

import "errors"

// Failure taxonomy for matching workflows. All of these surface to the
// caller as typed results; nothing is silently downgraded into a fabricated
// success.
var (
	// ErrRunNotFound indicates no candidate test-case source could be
	// resolved. Surfaced to the user, not retried.
	ErrRunNotFound = errors.New("test run not found")

	// ErrNoCandidates indicates the candidate list resolved but was empty.
	ErrNoCandidates = errors.New("no candidate test cases")

	// ErrMatchingTimeout indicates the reasoning-model call exceeded its
	// bound. The engine does not auto-retry; retry policy belongs to the
	// caller.
	ErrMatchingTimeout = errors.New("reasoning model call timed out")

	// ErrInvalidModelOutput indicates the model returned a response whose
	// identifiers don't match any candidate or whose required fields are
	// absent.
	ErrInvalidModelOutput = errors.New("invalid reasoning model output")

	// ErrNoValidMatches indicates the multi-match path validated zero of
	// the model's returned entries. A non-empty raw response with
	// all-invalid entries is an error, not a silent empty success.
	ErrNoValidMatches = errors.New("no valid matches in model output")

	// ErrInvalidCorrectionSyntax indicates a user correction didn't match
	// either recognized keyword format.
	ErrInvalidCorrectionSyntax = errors.New(`correction must be "CORRECT: <id>[, <id>...]" or "ADD: <id>[, <id>...]"`)
)
