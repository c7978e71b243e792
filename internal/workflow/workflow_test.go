package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/gate"
	"github.com/fyrsmithlabs/bugbind/internal/match"
	"github.com/fyrsmithlabs/bugbind/internal/testmgmt"
	"github.com/fyrsmithlabs/bugbind/internal/tracker"
)

type fakeTracker struct {
	issues   map[string]*tracker.Issue
	comments []string
}

func (f *fakeTracker) GetIssue(ctx context.Context, key string) (*tracker.Issue, error) {
	issue, ok := f.issues[key]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", key)
	}
	return issue, nil
}

func (f *fakeTracker) GetIssueStatus(ctx context.Context, key string) (string, error) {
	issue, err := f.GetIssue(ctx, key)
	if err != nil {
		return "", err
	}
	return issue.Status, nil
}

func (f *fakeTracker) AddComment(ctx context.Context, key, text string) error {
	f.comments = append(f.comments, text)
	return nil
}

type failedCall struct {
	testID  string
	defects []string
}

type fakeTestMgmt struct {
	tests   map[string][]match.TestCaseCandidate
	history map[string][]testmgmt.Result
	runErr  error

	failed []failedCall
	passed []string
}

func (f *fakeTestMgmt) TestsWithDetails(ctx context.Context, runID string) ([]match.TestCaseCandidate, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.tests[runID], nil
}

func (f *fakeTestMgmt) ResultHistory(ctx context.Context, testID string) ([]testmgmt.Result, error) {
	return f.history[testID], nil
}

func (f *fakeTestMgmt) MarkFailed(ctx context.Context, testID, comment string, defectKeys []string) error {
	f.failed = append(f.failed, failedCall{testID: testID, defects: defectKeys})
	return nil
}

func (f *fakeTestMgmt) MarkPassed(ctx context.Context, testID, comment string) error {
	f.passed = append(f.passed, testID)
	return nil
}

func (f *fakeTestMgmt) SectionName(ctx context.Context, sectionID string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

type fakeMatcher struct {
	matches   []match.Match
	err       error
	threshold float64
}

func (f *fakeMatcher) Match(ctx context.Context, bug match.BugReport, candidates []match.TestCaseCandidate) ([]match.Match, error) {
	return f.matches, f.err
}

func (f *fakeMatcher) IsConfident(m match.Match) bool {
	return m.Confidence >= f.threshold
}

type storedCorrection struct {
	refs []corrections.TestCaseRef
	mode corrections.CorrectionMode
}

type fakeCorrectionStore struct {
	linked map[string][]corrections.TestCaseRef
	stored []storedCorrection
}

func (f *fakeCorrectionStore) StoreCorrections(ctx context.Context, bug match.BugReport, refs []corrections.TestCaseRef, mode corrections.CorrectionMode) error {
	f.stored = append(f.stored, storedCorrection{refs: refs, mode: mode})
	return nil
}

func (f *fakeCorrectionStore) TestCasesByBugKey(ctx context.Context, bugKey string) ([]corrections.TestCaseRef, error) {
	return f.linked[bugKey], nil
}

type fakeGate struct {
	results map[string]*gate.Result
}

func (f *fakeGate) CheckOpenDefects(ctx context.Context, testID, resolvingBugKey string) (*gate.Result, error) {
	if res, ok := f.results[testID]; ok {
		return res, nil
	}
	return &gate.Result{}, nil
}

type fixture struct {
	tracker  *fakeTracker
	testmgmt *fakeTestMgmt
	matcher  *fakeMatcher
	store    *fakeCorrectionStore
	gate     *fakeGate
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tracker: &fakeTracker{issues: map[string]*tracker.Issue{
			"ROLL-1396": {
				Key:         "ROLL-1396",
				Summary:     "ROLL | focus | search button",
				Description: "Focus indicator not visible on search button",
				Status:      "Open",
			},
		}},
		testmgmt: &fakeTestMgmt{
			tests: map[string][]match.TestCaseCandidate{
				"42": {
					{TestID: "31834450", CaseID: "100", Title: "focus visible"},
					{TestID: "31834451", CaseID: "101", Title: "heading present"},
				},
			},
			history: map[string][]testmgmt.Result{},
		},
		matcher: &fakeMatcher{threshold: 0.7},
		store:   &fakeCorrectionStore{linked: map[string][]corrections.TestCaseRef{}},
		gate:    &fakeGate{results: map[string]*gate.Result{}},
	}
	orch, err := New(f.tracker, f.testmgmt, f.matcher, f.store, f.gate, zap.NewNop())
	require.NoError(t, err)
	f.orch = orch
	return f
}

func TestBugCreated(t *testing.T) {
	t.Run("marks tests failed and comments", func(t *testing.T) {
		f := newFixture(t)
		f.matcher.matches = []match.Match{
			{TestID: "31834450", CaseID: "100", Title: "focus visible", Confidence: 0.9, Reasoning: "focus"},
			{TestID: "31834451", CaseID: "101", Title: "heading present", Confidence: 0.55, Reasoning: "heading"},
		}

		res, err := f.orch.BugCreated(context.Background(), "ROLL-1396", "42")
		require.NoError(t, err)
		assert.Len(t, res.Matches, 2)
		assert.Equal(t, "ROLL-1396", res.Bug.Key)

		require.Len(t, f.testmgmt.failed, 2)
		assert.Equal(t, "31834450", f.testmgmt.failed[0].testID)
		assert.Equal(t, []string{"ROLL-1396"}, f.testmgmt.failed[0].defects)

		require.Len(t, f.tracker.comments, 1)
		assert.Contains(t, f.tracker.comments[0], "focus visible")
		assert.Contains(t, f.tracker.comments[0], "low confidence, please verify")
	})

	t.Run("unknown bug fails", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.BugCreated(context.Background(), "NOPE-1", "42")
		assert.Error(t, err)
	})

	t.Run("run lookup failure maps to RunNotFound", func(t *testing.T) {
		f := newFixture(t)
		f.testmgmt.runErr = fmt.Errorf("boom")
		_, err := f.orch.BugCreated(context.Background(), "ROLL-1396", "42")
		assert.ErrorIs(t, err, match.ErrRunNotFound)
	})

	t.Run("empty run maps to NoCandidates", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.BugCreated(context.Background(), "ROLL-1396", "empty-run")
		assert.ErrorIs(t, err, match.ErrNoCandidates)
	})
}

func TestBugResolved(t *testing.T) {
	link := func(f *fixture) {
		f.store.linked["ROLL-1396"] = []corrections.TestCaseRef{
			{TestID: "31834450", CaseID: "100", Title: "focus visible"},
		}
	}

	t.Run("gate clear marks passed", func(t *testing.T) {
		f := newFixture(t)
		link(f)

		res, err := f.orch.BugResolved(context.Background(), "ROLL-1396")
		require.NoError(t, err)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, OutcomePassed, res.Outcomes[0].Outcome)
		assert.Equal(t, []string{"31834450"}, f.testmgmt.passed)
	})

	t.Run("gate block writes nothing", func(t *testing.T) {
		f := newFixture(t)
		link(f)
		f.gate.results["31834450"] = &gate.Result{
			HasOpen:          true,
			OpenBugs:         []gate.OpenBug{{Key: "ROLL-1398", Status: "Ready for Dev"}, {Key: "ROLL-1399", Status: "Ready for Dev"}},
			TotalBugsChecked: 2,
		}

		res, err := f.orch.BugResolved(context.Background(), "ROLL-1396")
		require.NoError(t, err, "a blocked transition is data, not an error")
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, OutcomeBlocked, res.Outcomes[0].Outcome)
		assert.Len(t, res.Outcomes[0].OpenBugs, 2)
		assert.Empty(t, f.testmgmt.passed, "no passing result may be written when blocked")
	})

	t.Run("already passed is idempotent", func(t *testing.T) {
		f := newFixture(t)
		link(f)

		res, err := f.orch.BugResolved(context.Background(), "ROLL-1396")
		require.NoError(t, err)
		assert.Equal(t, OutcomePassed, res.Outcomes[0].Outcome)

		// Second resolution sees the passing result on top of history.
		f.testmgmt.history["31834450"] = []testmgmt.Result{
			{StatusID: testmgmt.StatusPassed},
			{StatusID: testmgmt.StatusFailed, Defects: []string{"ROLL-1396"}},
		}
		res, err = f.orch.BugResolved(context.Background(), "ROLL-1396")
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyPassed, res.Outcomes[0].Outcome)
		assert.Len(t, f.testmgmt.passed, 1, "status write happens only once")
	})

	t.Run("no linked tests fails", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.BugResolved(context.Background(), "ROLL-1396")
		assert.Error(t, err)
	})
}

func TestCorrection(t *testing.T) {
	t.Run("correct replaces links", func(t *testing.T) {
		f := newFixture(t)

		res, err := f.orch.Correction(context.Background(), "ROLL-1396", "42", "CORRECT: 31834451")
		require.NoError(t, err)
		assert.Equal(t, corrections.ModeCorrect, res.Mode)
		require.Len(t, res.Tests, 1)
		assert.Equal(t, "31834451", res.Tests[0].TestID)

		require.Len(t, f.store.stored, 1)
		assert.Equal(t, corrections.ModeCorrect, f.store.stored[0].mode)
		require.Len(t, f.testmgmt.failed, 1)
		assert.Equal(t, "31834451", f.testmgmt.failed[0].testID)
	})

	t.Run("case ids resolve to run tests", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.orch.Correction(context.Background(), "ROLL-1396", "42", "add: 100, 101")
		require.NoError(t, err)
		assert.Equal(t, corrections.ModeAdd, res.Mode)
		require.Len(t, res.Tests, 2)
		assert.Equal(t, "31834450", res.Tests[0].TestID)
		assert.Equal(t, "31834451", res.Tests[1].TestID)
	})

	t.Run("prefixed case ids resolve to run tests", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.orch.Correction(context.Background(), "ROLL-1396", "42", "CORRECT: C100")
		require.NoError(t, err)
		require.Len(t, res.Tests, 1)
		assert.Equal(t, "31834450", res.Tests[0].TestID)
		assert.Equal(t, "100", res.Tests[0].CaseID)
	})

	t.Run("unknown id rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Correction(context.Background(), "ROLL-1396", "42", "CORRECT: 999")
		assert.ErrorIs(t, err, match.ErrInvalidCorrectionSyntax)
		assert.Empty(t, f.store.stored)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Correction(context.Background(), "ROLL-1396", "42", "please fix the link")
		assert.ErrorIs(t, err, match.ErrInvalidCorrectionSyntax)
	})
}

func TestParseCorrection(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantMode corrections.CorrectionMode
		wantIDs  []string
		wantErr  bool
	}{
		{"correct single", "CORRECT: 123", corrections.ModeCorrect, []string{"123"}, false},
		{"correct multiple", "CORRECT: 123, 456,789", corrections.ModeCorrect, []string{"123", "456", "789"}, false},
		{"add lowercase", "add: 9", corrections.ModeAdd, []string{"9"}, false},
		{"surrounding whitespace", "  Correct:  42  ", corrections.ModeCorrect, []string{"42"}, false},
		{"no verb", "123, 456", "", nil, true},
		{"unknown verb", "REMOVE: 123", "", nil, true},
		{"no ids", "CORRECT: ", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, ids, err := ParseCorrection(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, match.ErrInvalidCorrectionSyntax)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestNormalizeCaseID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"C200", "200"},
		{"c200", "200"},
		{"200", "200"},
		{"C", "C"},
		{"CORE-1", "CORE-1"},
		{"Cx9", "Cx9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeCaseID(tt.in), tt.in)
	}
}
