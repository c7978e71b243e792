package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/model"
)

// Mode selects the matching algorithm. It is fixed at engine construction;
// the two algorithms stay independently testable strategy objects.
type Mode string

const (
	// ModeSingle links a bug to exactly one test case.
	ModeSingle Mode = "single"

	// ModeMulti links a bug that may describe several independent defects
	// to one test case per defect group.
	ModeMulti Mode = "multi"
)

// DefaultModelTimeout bounds the reasoning-model call.
const DefaultModelTimeout = 120 * time.Second

// LearnedStore is the correction-store surface the engine consumes.
type LearnedStore interface {
	FindSimilarMatch(ctx context.Context, bug BugReport) (*Match, error)
	FindSimilarMatches(ctx context.Context, bug BugReport) ([]Match, error)
	StoreMatch(ctx context.Context, bug BugReport, m Match) error
}

// Config holds engine tuning.
type Config struct {
	// Mode selects single- or multi-match behavior.
	Mode Mode `koanf:"mode"`

	// ConfidenceThreshold flags matches for human verification. Matches
	// below it are still returned, never discarded: link-but-warn, not
	// block.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// MultiMatchMinConfidence drops multi-match model entries below it
	// before deduplication.
	MultiMatchMinConfidence float64 `koanf:"multi_match_min_confidence"`

	// ModelTimeout bounds the reasoning-model call.
	ModelTimeout time.Duration `koanf:"model_timeout"`
}

// Validate checks the engine configuration.
func (c Config) Validate() error {
	if c.Mode != ModeSingle && c.Mode != ModeMulti {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeSingle, ModeMulti, c.Mode)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MultiMatchMinConfidence < 0 || c.MultiMatchMinConfidence > 1 {
		return fmt.Errorf("multi-match min confidence must be in [0,1], got %v", c.MultiMatchMinConfidence)
	}
	return nil
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSingle
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.MultiMatchMinConfidence == 0 {
		c.MultiMatchMinConfidence = 0.5
	}
	if c.ModelTimeout == 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
}

// strategy is one matching algorithm.
type strategy interface {
	match(ctx context.Context, e *Engine, bug BugReport, candidates []TestCaseCandidate) ([]Match, error)
}

// Engine orchestrates learned matches, the pre-filter, and the reasoning
// model.
type Engine struct {
	cfg       Config
	store     LearnedStore
	model     model.Client
	prefilter *PreFilter
	strategy  strategy
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPreFilter enables the section/title fast path.
func WithPreFilter(pf *PreFilter) EngineOption {
	return func(e *Engine) {
		e.prefilter = pf
	}
}

// NewEngine creates a matching engine. The strategy for the configured mode
// is selected here, once.
func NewEngine(cfg Config, store LearnedStore, modelClient model.Client, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("learned store cannot be nil")
	}
	if modelClient == nil {
		return nil, fmt.Errorf("model client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:    cfg,
		store:  store,
		model:  modelClient,
		logger: logger,
	}
	switch cfg.Mode {
	case ModeSingle:
		e.strategy = singleStrategy{}
	case ModeMulti:
		e.strategy = multiStrategy{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IsConfident reports whether a match clears the configured threshold.
// Below-threshold matches are still applied but flagged for verification.
func (e *Engine) IsConfident(m Match) bool {
	return m.Confidence >= e.cfg.ConfidenceThreshold
}

// Match links a bug to one or more candidate test cases. On success the
// returned list is never empty.
func (e *Engine) Match(ctx context.Context, bug BugReport, candidates []TestCaseCandidate) ([]Match, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	if e.prefilter != nil {
		auto, narrowed := e.prefilter.Apply(ctx, bug, candidates)
		if auto != nil {
			if err := e.store.StoreMatch(ctx, bug, *auto); err != nil {
				e.logger.Warn("storing auto-match failed", zap.String("bug_key", bug.Key), zap.Error(err))
			}
			return []Match{*auto}, nil
		}
		candidates = narrowed
	}

	return e.strategy.match(ctx, e, bug, candidates)
}

// complete calls the reasoning model under the configured timeout, mapping
// deadline expiry to ErrMatchingTimeout.
func (e *Engine) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelTimeout)
	defer cancel()

	raw, err := e.model.Complete(callCtx, systemPrompt, userPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", ErrMatchingTimeout, e.cfg.ModelTimeout)
		}
		return "", fmt.Errorf("matching failed: %w", err)
	}
	return raw, nil
}

// singleStrategy implements single-match mode.
type singleStrategy struct{}

func (singleStrategy) match(ctx context.Context, e *Engine, bug BugReport, candidates []TestCaseCandidate) ([]Match, error) {
	idx := candidateIndex(candidates)

	// Learned fast path. Identifier soundness applies to learned matches
	// too: a correction pointing at a test absent from this run is stale
	// and falls through to the model.
	learned, err := e.store.FindSimilarMatch(ctx, bug)
	if err != nil {
		e.logger.Warn("learned match lookup failed", zap.String("bug_key", bug.Key), zap.Error(err))
	} else if learned != nil {
		if _, ok := idx[learned.TestID]; ok {
			return []Match{*learned}, nil
		}
		e.logger.Debug("learned match not in current candidates, consulting model",
			zap.String("bug_key", bug.Key),
			zap.String("learned_test_id", learned.TestID))
	}

	raw, err := e.complete(ctx, singleSystemPrompt, buildUserPrompt(bug, candidates))
	if err != nil {
		return nil, err
	}
	resp, err := parseModelResponse(raw)
	if err != nil {
		return nil, err
	}

	entries := resp.entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: response has no match entry", ErrInvalidModelOutput)
	}
	entry := entries[0]

	candidate, ok := idx[entry.TestID]
	if !ok {
		return nil, fmt.Errorf("%w: test_id %q not in candidate list", ErrInvalidModelOutput, entry.TestID)
	}

	m := Match{
		TestID:     candidate.TestID,
		CaseID:     candidate.CaseID,
		Title:      candidate.Title,
		Confidence: clampConfidence(entry.Confidence),
		Reasoning:  entry.Reasoning,
	}
	if err := e.store.StoreMatch(ctx, bug, m); err != nil {
		return nil, fmt.Errorf("persisting match: %w", err)
	}

	e.logger.Info("bug matched",
		zap.String("bug_key", bug.Key),
		zap.String("test_id", m.TestID),
		zap.Float64("confidence", m.Confidence),
		zap.Bool("confident", e.IsConfident(m)))

	return []Match{m}, nil
}

// multiStrategy implements multi-match mode.
type multiStrategy struct{}

func (multiStrategy) match(ctx context.Context, e *Engine, bug BugReport, candidates []TestCaseCandidate) ([]Match, error) {
	idx := candidateIndex(candidates)

	// Learned matches are used only when every one of them validates
	// against the current candidates. Partial learned results are
	// discarded rather than mixed with model output: the two sources have
	// different confidence semantics.
	learned, err := e.store.FindSimilarMatches(ctx, bug)
	if err != nil {
		e.logger.Warn("learned match lookup failed", zap.String("bug_key", bug.Key), zap.Error(err))
	} else if len(learned) > 0 {
		allValid := true
		for _, m := range learned {
			if _, ok := idx[m.TestID]; !ok {
				allValid = false
				break
			}
		}
		if allValid {
			return learned, nil
		}
		e.logger.Debug("partial learned match set discarded, consulting model",
			zap.String("bug_key", bug.Key),
			zap.Int("learned_count", len(learned)))
	}

	raw, err := e.complete(ctx, multiSystemPrompt, buildUserPrompt(bug, candidates))
	if err != nil {
		return nil, err
	}
	resp, err := parseModelResponse(raw)
	if err != nil {
		return nil, err
	}

	entries := resp.entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: response has no match entries", ErrInvalidModelOutput)
	}

	// Validate against candidates, filter by confidence.
	var valid []Match
	for _, entry := range entries {
		candidate, ok := idx[entry.TestID]
		if !ok {
			e.logger.Warn("model returned unknown test_id, entry dropped",
				zap.String("bug_key", bug.Key),
				zap.String("test_id", entry.TestID))
			continue
		}
		confidence := clampConfidence(entry.Confidence)
		if confidence < e.cfg.MultiMatchMinConfidence {
			continue
		}
		valid = append(valid, Match{
			TestID:     candidate.TestID,
			CaseID:     candidate.CaseID,
			Title:      candidate.Title,
			Confidence: confidence,
			Reasoning:  entry.Reasoning,
		})
	}

	deduped := dedupeByTestID(valid)
	if len(deduped) == 0 {
		return nil, ErrNoValidMatches
	}

	for _, m := range deduped {
		if err := e.store.StoreMatch(ctx, bug, m); err != nil {
			return nil, fmt.Errorf("persisting match: %w", err)
		}
	}

	e.logger.Info("bug multi-matched",
		zap.String("bug_key", bug.Key),
		zap.Int("matches", len(deduped)))

	return deduped, nil
}

// dedupeByTestID keeps one match per test ID, highest confidence first. A
// test case may legitimately catch several described issues; it is reported
// once per invocation, with the reasoning of dropped duplicates folded into
// the survivor.
func dedupeByTestID(matches []Match) []Match {
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Match, 0, len(sorted))
	index := make(map[string]int)
	for _, m := range sorted {
		if i, dup := index[m.TestID]; dup {
			if m.Reasoning != "" && m.Reasoning != kept[i].Reasoning {
				kept[i].Reasoning += "; also: " + m.Reasoning
			}
			continue
		}
		index[m.TestID] = len(kept)
		kept = append(kept, m)
	}
	return kept
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
