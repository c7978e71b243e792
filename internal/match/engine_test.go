package match

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory LearnedStore for engine tests.
type fakeStore struct {
	single  *Match
	multi   []Match
	findErr error

	stored []Match
}

func (f *fakeStore) FindSimilarMatch(ctx context.Context, bug BugReport) (*Match, error) {
	return f.single, f.findErr
}

func (f *fakeStore) FindSimilarMatches(ctx context.Context, bug BugReport) ([]Match, error) {
	return f.multi, f.findErr
}

func (f *fakeStore) StoreMatch(ctx context.Context, bug BugReport, m Match) error {
	f.stored = append(f.stored, m)
	return nil
}

// fakeModel returns a canned completion, or blocks until the context expires.
type fakeModel struct {
	response string
	err      error
	block    bool

	calls int
}

func (f *fakeModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func testCandidates() []TestCaseCandidate {
	return []TestCaseCandidate{
		{TestID: "31834450", CaseID: "C100", Title: "a11y | focus | search button focus visible"},
		{TestID: "31834451", CaseID: "C101", Title: "a11y | heading | page heading present"},
		{TestID: "31834452", CaseID: "C102", Title: "a11y | table | results table headers"},
	}
}

func newTestEngine(t *testing.T, cfg Config, store LearnedStore, m *fakeModel, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, store, m, zap.NewNop(), opts...)
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	store := &fakeStore{}
	m := &fakeModel{}

	_, err := NewEngine(Config{}, nil, m, nil)
	assert.Error(t, err)

	_, err = NewEngine(Config{}, store, nil, nil)
	assert.Error(t, err)

	_, err = NewEngine(Config{Mode: "both"}, store, m, nil)
	assert.Error(t, err)

	e, err := NewEngine(Config{}, store, m, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, e.cfg.Mode)
	assert.Equal(t, DefaultModelTimeout, e.cfg.ModelTimeout)
}

func TestEngine_NoCandidates(t *testing.T) {
	e := newTestEngine(t, Config{Mode: ModeSingle}, &fakeStore{}, &fakeModel{})
	_, err := e.Match(context.Background(), BugReport{Key: "A11Y-1"}, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestEngine_Single_ModelMatch(t *testing.T) {
	store := &fakeStore{}
	m := &fakeModel{response: `{"test_id": "31834450", "confidence": 0.85, "reasoning": "focus indicator issue maps to the focus visibility test"}`}
	e := newTestEngine(t, Config{Mode: ModeSingle}, store, m)

	bug := BugReport{
		Key:         "A11Y-1",
		Summary:     "a11y | focus | search",
		Description: "Focus indicator not visible on search button",
	}
	got, err := e.Match(context.Background(), bug, testCandidates())
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "31834450", got[0].TestID)
	assert.Equal(t, "C100", got[0].CaseID)
	assert.GreaterOrEqual(t, got[0].Confidence, 0.7)
	assert.True(t, e.IsConfident(got[0]))
	assert.False(t, got[0].Learned)

	// The surviving match is persisted for future learning.
	require.Len(t, store.stored, 1)
	assert.Equal(t, "31834450", store.stored[0].TestID)
}

func TestEngine_Single_LearnedShortCircuit(t *testing.T) {
	learned := &Match{TestID: "31834451", CaseID: "C101", Confidence: 0.9, Learned: true}
	store := &fakeStore{single: learned}
	m := &fakeModel{response: `{"test_id": "31834450", "confidence": 0.8, "reasoning": "x"}`}
	e := newTestEngine(t, Config{Mode: ModeSingle}, store, m)

	got, err := e.Match(context.Background(), BugReport{Key: "A11Y-2"}, testCandidates())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "31834451", got[0].TestID)
	assert.True(t, got[0].Learned)

	assert.Zero(t, m.calls, "model must not be consulted when a learned match applies")
	assert.Empty(t, store.stored, "learned matches are not re-persisted")
}

func TestEngine_Single_StaleLearnedFallsThrough(t *testing.T) {
	// The learned test ID is not in this run's candidates.
	store := &fakeStore{single: &Match{TestID: "999", Confidence: 0.95, Learned: true}}
	m := &fakeModel{response: `{"test_id": "31834452", "confidence": 0.75, "reasoning": "table headers"}`}
	e := newTestEngine(t, Config{Mode: ModeSingle}, store, m)

	got, err := e.Match(context.Background(), BugReport{Key: "A11Y-3"}, testCandidates())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "31834452", got[0].TestID)
	assert.Equal(t, 1, m.calls)
}

func TestEngine_Single_InventedIDRejected(t *testing.T) {
	m := &fakeModel{response: `{"test_id": "does-not-exist", "confidence": 0.99, "reasoning": "x"}`}
	e := newTestEngine(t, Config{Mode: ModeSingle}, &fakeStore{}, m)

	_, err := e.Match(context.Background(), BugReport{Key: "A11Y-4"}, testCandidates())
	assert.ErrorIs(t, err, ErrInvalidModelOutput)
}

func TestEngine_Single_MalformedResponse(t *testing.T) {
	m := &fakeModel{response: `I think the answer is test 31834450.`}
	e := newTestEngine(t, Config{Mode: ModeSingle}, &fakeStore{}, m)

	_, err := e.Match(context.Background(), BugReport{Key: "A11Y-5"}, testCandidates())
	assert.ErrorIs(t, err, ErrInvalidModelOutput)
}

func TestEngine_ModelTimeout(t *testing.T) {
	m := &fakeModel{block: true}
	e := newTestEngine(t, Config{Mode: ModeSingle, ModelTimeout: 20 * time.Millisecond}, &fakeStore{}, m)

	_, err := e.Match(context.Background(), BugReport{Key: "A11Y-6"}, testCandidates())
	assert.ErrorIs(t, err, ErrMatchingTimeout)
}

func TestEngine_Multi_DedupKeepsHighestConfidence(t *testing.T) {
	// Two entries name the same test: one survivor per test ID, highest
	// confidence kept, dropped reasoning folded in.
	m := &fakeModel{response: `{"matches": [
		{"test_id": "31834450", "confidence": 0.9, "reasoning": "focus lost after dialog close"},
		{"test_id": "31834450", "confidence": 0.7, "reasoning": "focus order wrong on toolbar"},
		{"test_id": "31834452", "confidence": 0.8, "reasoning": "table headers missing"}
	]}`}
	store := &fakeStore{}
	e := newTestEngine(t, Config{Mode: ModeMulti}, store, m)

	got, err := e.Match(context.Background(), BugReport{Key: "A11Y-7"}, testCandidates())
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]Match{}
	for _, match := range got {
		require.NotContains(t, byID, match.TestID, "each test reported at most once")
		byID[match.TestID] = match
	}

	focus := byID["31834450"]
	assert.InDelta(t, 0.9, focus.Confidence, 1e-9)
	assert.Contains(t, focus.Reasoning, "dialog close")
	assert.Contains(t, focus.Reasoning, "; also: ")
	assert.Contains(t, focus.Reasoning, "focus order wrong")

	assert.Len(t, store.stored, 2)
}

func TestEngine_Multi_ConfidenceFilterAndInvalidEntries(t *testing.T) {
	m := &fakeModel{response: `{"matches": [
		{"test_id": "31834450", "confidence": 0.3, "reasoning": "weak"},
		{"test_id": "nope", "confidence": 0.95, "reasoning": "invented"},
		{"test_id": "31834451", "confidence": 0.65, "reasoning": "heading absent"}
	]}`}
	e := newTestEngine(t, Config{Mode: ModeMulti, MultiMatchMinConfidence: 0.5}, &fakeStore{}, m)

	got, err := e.Match(context.Background(), BugReport{Key: "A11Y-8"}, testCandidates())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "31834451", got[0].TestID)
}

func TestEngine_Multi_NoValidMatches(t *testing.T) {
	m := &fakeModel{response: `{"matches": [{"test_id": "invented", "confidence": 0.9, "reasoning": "x"}]}`}
	e := newTestEngine(t, Config{Mode: ModeMulti}, &fakeStore{}, m)

	_, err := e.Match(context.Background(), BugReport{Key: "A11Y-9"}, testCandidates())
	assert.ErrorIs(t, err, ErrNoValidMatches)
}

func TestEngine_Multi_LearnedSet(t *testing.T) {
	t.Run("fully valid learned set short-circuits", func(t *testing.T) {
		store := &fakeStore{multi: []Match{
			{TestID: "31834450", Confidence: 0.9, Learned: true},
			{TestID: "31834451", Confidence: 0.85, Learned: true},
		}}
		m := &fakeModel{}
		e := newTestEngine(t, Config{Mode: ModeMulti}, store, m)

		got, err := e.Match(context.Background(), BugReport{Key: "A11Y-10"}, testCandidates())
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Zero(t, m.calls)
	})

	t.Run("partially stale learned set is discarded", func(t *testing.T) {
		store := &fakeStore{multi: []Match{
			{TestID: "31834450", Confidence: 0.9, Learned: true},
			{TestID: "777", Confidence: 0.85, Learned: true},
		}}
		m := &fakeModel{response: `{"matches": [{"test_id": "31834450", "confidence": 0.8, "reasoning": "x"}]}`}
		e := newTestEngine(t, Config{Mode: ModeMulti}, store, m)

		got, err := e.Match(context.Background(), BugReport{Key: "A11Y-11"}, testCandidates())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.False(t, got[0].Learned)
		assert.Equal(t, 1, m.calls)
	})
}

func TestEngine_PreFilterAutoMatch(t *testing.T) {
	sections := sectionNamerFunc(func(ctx context.Context, id string) (string, error) {
		names := map[string]string{"s1": "Focus Management", "s2": "Headings"}
		if n, ok := names[id]; ok {
			return n, nil
		}
		return "", fmt.Errorf("unknown section %q", id)
	})
	pf := NewPreFilter(sections, zap.NewNop())

	store := &fakeStore{}
	m := &fakeModel{}
	e := newTestEngine(t, Config{Mode: ModeSingle}, store, m, WithPreFilter(pf))

	candidates := []TestCaseCandidate{
		{TestID: "1", CaseID: "C1", Title: "focus visible", SectionID: "s1"},
		{TestID: "2", CaseID: "C2", Title: "heading present", SectionID: "s2"},
	}
	bug := BugReport{Key: "A11Y-12", Summary: "ROLL | focus | search button"}

	got, err := e.Match(context.Background(), bug, candidates)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].TestID)
	assert.True(t, got[0].AutoMatched)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Zero(t, m.calls, "auto-match must skip the model")
	require.Len(t, store.stored, 1)
}

func TestEngine_IsConfident(t *testing.T) {
	e := newTestEngine(t, Config{Mode: ModeSingle, ConfidenceThreshold: 0.7}, &fakeStore{}, &fakeModel{})
	assert.True(t, e.IsConfident(Match{Confidence: 0.7}))
	assert.True(t, e.IsConfident(Match{Confidence: 0.95}))
	assert.False(t, e.IsConfident(Match{Confidence: 0.69}))
}

func TestDedupeByTestID(t *testing.T) {
	in := []Match{
		{TestID: "a", Confidence: 0.6, Reasoning: "first"},
		{TestID: "b", Confidence: 0.9, Reasoning: "best"},
		{TestID: "a", Confidence: 0.8, Reasoning: "second"},
	}
	out := dedupeByTestID(in)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].TestID)
	assert.Equal(t, "a", out[1].TestID)
	assert.InDelta(t, 0.8, out[1].Confidence, 1e-9)
	assert.Equal(t, "second; also: first", out[1].Reasoning)
}
