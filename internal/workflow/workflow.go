// Package workflow orchestrates the bug-created, bug-resolved, and
// correction flows across the tracker, test-management, matching, and
// learning components.
//
// Each invocation runs to completion independently; there is no in-process
// locking. Durability lives in the correction store's ledgers.
package workflow

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/gate"
	"github.com/fyrsmithlabs/bugbind/internal/match"
	"github.com/fyrsmithlabs/bugbind/internal/testmgmt"
	"github.com/fyrsmithlabs/bugbind/internal/tracker"
)

// Matcher is the matching-engine surface the orchestrator consumes.
type Matcher interface {
	Match(ctx context.Context, bug match.BugReport, candidates []match.TestCaseCandidate) ([]match.Match, error)
	IsConfident(m match.Match) bool
}

// CorrectionStore is the correction-store surface the orchestrator consumes.
type CorrectionStore interface {
	StoreCorrections(ctx context.Context, bug match.BugReport, refs []corrections.TestCaseRef, mode corrections.CorrectionMode) error
	TestCasesByBugKey(ctx context.Context, bugKey string) ([]corrections.TestCaseRef, error)
}

// DefectGate is the open-defect-gate surface the orchestrator consumes.
type DefectGate interface {
	CheckOpenDefects(ctx context.Context, testID, resolvingBugKey string) (*gate.Result, error)
}

// Orchestrator wires the collaborators into the three workflows.
type Orchestrator struct {
	tracker  tracker.Client
	testmgmt testmgmt.Client
	matcher  Matcher
	store    CorrectionStore
	gate     DefectGate
	logger   *zap.Logger
}

// New creates a workflow orchestrator.
func New(trackerClient tracker.Client, testClient testmgmt.Client, matcher Matcher, store CorrectionStore, defectGate DefectGate, logger *zap.Logger) (*Orchestrator, error) {
	if trackerClient == nil || testClient == nil || matcher == nil || store == nil || defectGate == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tracker:  trackerClient,
		testmgmt: testClient,
		matcher:  matcher,
		store:    store,
		gate:     defectGate,
		logger:   logger,
	}, nil
}

// BugCreatedResult reports the outcome of a bug-created workflow.
type BugCreatedResult struct {
	Bug     match.BugReport `json:"bug"`
	Matches []match.Match   `json:"matches"`
}

// BugCreated matches a fresh bug against the run's test cases, marks each
// matched test failed with the bug attached as a defect, and reports the
// links back on the bug.
func (o *Orchestrator) BugCreated(ctx context.Context, bugKey, runID string) (*BugCreatedResult, error) {
	bug, err := o.fetchBug(ctx, bugKey)
	if err != nil {
		return nil, err
	}

	candidates, err := o.testmgmt.TestsWithDetails(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", match.ErrRunNotFound, runID, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: run %s", match.ErrNoCandidates, runID)
	}

	matches, err := o.matcher.Match(ctx, bug, candidates)
	if err != nil {
		return nil, fmt.Errorf("matching bug %s: %w", bugKey, err)
	}

	defectKeys := []string{bugKey}
	for _, m := range matches {
		comment := fmt.Sprintf("Linked to defect %s: %s", bugKey, m.Reasoning)
		if err := o.testmgmt.MarkFailed(ctx, m.TestID, comment, defectKeys); err != nil {
			return nil, fmt.Errorf("marking test %s failed: %w", m.TestID, err)
		}
	}

	if err := o.tracker.AddComment(ctx, bugKey, o.composeMatchComment(matches)); err != nil {
		// The links are already in place; a failed comment is not worth
		// unwinding them.
		o.logger.Warn("posting match comment failed", zap.String("bug_key", bugKey), zap.Error(err))
	}

	o.logger.Info("bug-created workflow complete",
		zap.String("bug_key", bugKey),
		zap.String("run_id", runID),
		zap.Int("matches", len(matches)))
	return &BugCreatedResult{Bug: bug, Matches: matches}, nil
}

// TestOutcome states of a bug-resolved workflow, per linked test.
const (
	OutcomePassed        = "passed"
	OutcomeAlreadyPassed = "already_passed"
	OutcomeBlocked       = "blocked"
)

// TestOutcome is the per-test result of a bug-resolved workflow.
type TestOutcome struct {
	TestID  string `json:"test_id"`
	CaseID  string `json:"case_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Outcome string `json:"outcome"`

	// OpenBugs lists the blocking defects when Outcome is OutcomeBlocked.
	OpenBugs []gate.OpenBug `json:"open_bugs,omitempty"`
}

// BugResolvedResult reports the outcome of a bug-resolved workflow. A
// blocked test is an expected outcome carried as data, not an error.
type BugResolvedResult struct {
	BugKey   string        `json:"bug_key"`
	Outcomes []TestOutcome `json:"outcomes"`
}

// BugResolved walks every test linked to the bug and transitions each to
// passing where the open-defect gate permits.
func (o *Orchestrator) BugResolved(ctx context.Context, bugKey string) (*BugResolvedResult, error) {
	refs, err := o.store.TestCasesByBugKey(ctx, bugKey)
	if err != nil {
		return nil, fmt.Errorf("resolving linked tests for %s: %w", bugKey, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no tests linked to bug %s", bugKey)
	}

	result := &BugResolvedResult{BugKey: bugKey}
	for _, ref := range refs {
		outcome, err := o.resolveOne(ctx, bugKey, ref)
		if err != nil {
			return nil, err
		}
		result.Outcomes = append(result.Outcomes, *outcome)
	}

	if err := o.tracker.AddComment(ctx, bugKey, o.composeResolutionComment(result)); err != nil {
		o.logger.Warn("posting resolution comment failed", zap.String("bug_key", bugKey), zap.Error(err))
	}

	o.logger.Info("bug-resolved workflow complete",
		zap.String("bug_key", bugKey),
		zap.Int("tests", len(result.Outcomes)))
	return result, nil
}

// resolveOne handles a single linked test: already-passed short-circuit,
// gate check, then the passing write.
func (o *Orchestrator) resolveOne(ctx context.Context, bugKey string, ref corrections.TestCaseRef) (*TestOutcome, error) {
	outcome := &TestOutcome{TestID: ref.TestID, CaseID: ref.CaseID, Title: ref.Title}

	history, err := o.testmgmt.ResultHistory(ctx, ref.TestID)
	if err != nil {
		return nil, fmt.Errorf("fetching history of test %s: %w", ref.TestID, err)
	}
	// A second resolution of the same bug must not write a second passing
	// result.
	if len(history) > 0 && history[0].StatusID == testmgmt.StatusPassed {
		outcome.Outcome = OutcomeAlreadyPassed
		return outcome, nil
	}

	check, err := o.gate.CheckOpenDefects(ctx, ref.TestID, bugKey)
	if err != nil {
		return nil, fmt.Errorf("checking open defects of test %s: %w", ref.TestID, err)
	}
	if check.HasOpen {
		outcome.Outcome = OutcomeBlocked
		outcome.OpenBugs = check.OpenBugs
		o.logger.Info("passing transition blocked",
			zap.String("test_id", ref.TestID),
			zap.String("resolving_bug", bugKey),
			zap.Int("open_defects", len(check.OpenBugs)))
		return outcome, nil
	}

	comment := fmt.Sprintf("Defect %s resolved; no open defects remain.", bugKey)
	if err := o.testmgmt.MarkPassed(ctx, ref.TestID, comment); err != nil {
		return nil, fmt.Errorf("marking test %s passed: %w", ref.TestID, err)
	}
	outcome.Outcome = OutcomePassed
	return outcome, nil
}

// CorrectionResult reports the outcome of a correction workflow.
type CorrectionResult struct {
	BugKey string                     `json:"bug_key"`
	Mode   corrections.CorrectionMode `json:"mode"`
	Tests  []corrections.TestCaseRef  `json:"tests"`
}

// Correction records a user-supplied correction for a bug's test linkage and
// re-points the defect links accordingly.
func (o *Orchestrator) Correction(ctx context.Context, bugKey, runID, text string) (*CorrectionResult, error) {
	mode, ids, err := ParseCorrection(text)
	if err != nil {
		return nil, err
	}

	bug, err := o.fetchBug(ctx, bugKey)
	if err != nil {
		return nil, err
	}

	candidates, err := o.testmgmt.TestsWithDetails(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", match.ErrRunNotFound, runID, err)
	}

	refs, err := resolveRefs(ids, candidates)
	if err != nil {
		return nil, err
	}

	if err := o.store.StoreCorrections(ctx, bug, refs, mode); err != nil {
		return nil, fmt.Errorf("storing correction for %s: %w", bugKey, err)
	}

	for _, ref := range refs {
		comment := fmt.Sprintf("Link corrected by user: defect %s.", bugKey)
		if err := o.testmgmt.MarkFailed(ctx, ref.TestID, comment, []string{bugKey}); err != nil {
			return nil, fmt.Errorf("re-pointing test %s: %w", ref.TestID, err)
		}
	}

	if err := o.tracker.AddComment(ctx, bugKey, o.composeCorrectionComment(mode, refs)); err != nil {
		o.logger.Warn("posting correction comment failed", zap.String("bug_key", bugKey), zap.Error(err))
	}

	o.logger.Info("correction workflow complete",
		zap.String("bug_key", bugKey),
		zap.String("mode", string(mode)),
		zap.Int("tests", len(refs)))
	return &CorrectionResult{BugKey: bugKey, Mode: mode, Tests: refs}, nil
}

// fetchBug loads a fresh bug snapshot from the tracker.
func (o *Orchestrator) fetchBug(ctx context.Context, bugKey string) (match.BugReport, error) {
	issue, err := o.tracker.GetIssue(ctx, bugKey)
	if err != nil {
		return match.BugReport{}, fmt.Errorf("fetching bug %s: %w", bugKey, err)
	}
	return match.BugReport{
		Key:         issue.Key,
		Summary:     issue.Summary,
		Description: issue.Description,
	}, nil
}

// resolveRefs maps user-supplied identifiers to run tests. Both test IDs and
// case IDs are accepted, the latter with or without the conventional "C"
// prefix users copy from the test management UI.
func resolveRefs(ids []string, candidates []match.TestCaseCandidate) ([]corrections.TestCaseRef, error) {
	byID := make(map[string]match.TestCaseCandidate, 2*len(candidates))
	for _, c := range candidates {
		byID[c.TestID] = c
		if c.CaseID != "" {
			byID[c.CaseID] = c
		}
	}

	refs := make([]corrections.TestCaseRef, 0, len(ids))
	seen := make(map[string]struct{})
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			c, ok = byID[normalizeCaseID(id)]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q does not identify a test in this run", match.ErrInvalidCorrectionSyntax, id)
		}
		if _, dup := seen[c.TestID]; dup {
			continue
		}
		seen[c.TestID] = struct{}{}
		refs = append(refs, corrections.TestCaseRef{
			TestID: c.TestID,
			CaseID: c.CaseID,
			Title:  c.Title,
		})
	}
	return refs, nil
}

// normalizeCaseID strips the "C" prefix off case identifiers like "C200";
// the stored case IDs are bare numbers.
func normalizeCaseID(id string) string {
	if len(id) > 1 && (id[0] == 'C' || id[0] == 'c') {
		if _, err := strconv.Atoi(id[1:]); err == nil {
			return id[1:]
		}
	}
	return id
}
