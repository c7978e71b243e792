// Package corrections persists user-confirmed bug/test associations and raw
// match attempts, and mines both for learned matches.
//
// Every write is append-only and durable before the call returns. The store
// owns its two ledgers exclusively; no other component writes them.
package corrections

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/classify"
	"github.com/fyrsmithlabs/bugbind/internal/keywords"
	"github.com/fyrsmithlabs/bugbind/internal/ledger"
	"github.com/fyrsmithlabs/bugbind/internal/match"
)

const (
	// SingleMatchThreshold is the minimum keyword similarity for a learned
	// match in single-match mode.
	SingleMatchThreshold = 0.6

	// MultiMatchThreshold is the minimum keyword similarity for learned
	// matches in multi-match mode.
	MultiMatchThreshold = 0.5

	// correctionBaseConfidence anchors confidence for matches learned from
	// explicit corrections: 0.85 + 0.15*similarity, range [0.85, 1.0].
	correctionBaseConfidence = 0.85

	// recordBaseConfidence anchors confidence for matches learned from raw
	// match records, the lower-trust fallback tier.
	recordBaseConfidence = 0.80

	// similarityWeight scales the similarity score into the confidence.
	similarityWeight = 0.15
)

// Store provides correction and match-record persistence plus similarity
// search over past bugs.
type Store struct {
	corrections ledger.Ledger
	matches     ledger.Ledger
	classifier  *classify.Classifier
	logger      *zap.Logger

	// learning disables all writes when false; reads still work so existing
	// history keeps serving learned matches.
	learning bool
}

// Option configures a Store.
type Option func(*Store)

// WithLearningDisabled turns all writes into no-ops.
func WithLearningDisabled() Option {
	return func(s *Store) {
		s.learning = false
	}
}

// NewStore creates a correction store over the given ledgers.
func NewStore(correctionLedger, matchLedger ledger.Ledger, logger *zap.Logger, opts ...Option) (*Store, error) {
	if correctionLedger == nil || matchLedger == nil {
		return nil, fmt.Errorf("ledgers cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		corrections: correctionLedger,
		matches:     matchLedger,
		classifier:  classify.New(),
		logger:      logger,
		learning:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StoreMatch appends a MatchRecord. No-op when learning is disabled.
func (s *Store) StoreMatch(ctx context.Context, bug match.BugReport, m match.Match) error {
	if !s.learning {
		return nil
	}

	rec := MatchRecord{
		Bug:      bug,
		Match:    m,
		StoredAt: time.Now(),
	}
	if err := ledger.AppendJSON(ctx, s.matches, rec); err != nil {
		return fmt.Errorf("storing match record: %w", err)
	}

	s.logger.Debug("match record stored",
		zap.String("bug_key", bug.Key),
		zap.String("test_id", m.TestID),
		zap.Float64("confidence", m.Confidence))
	return nil
}

// StoreCorrections appends one Correction per ref, all sharing a batch ID so
// a replace applies to the submission as a whole. No-op when learning is
// disabled.
func (s *Store) StoreCorrections(ctx context.Context, bug match.BugReport, refs []TestCaseRef, mode CorrectionMode) error {
	if !s.learning {
		return nil
	}
	if len(refs) == 0 {
		return fmt.Errorf("correction needs at least one test case")
	}
	if mode != ModeCorrect && mode != ModeAdd {
		return fmt.Errorf("invalid correction mode %q", mode)
	}

	batchID := uuid.New().String()
	now := time.Now()
	for _, ref := range refs {
		c := Correction{
			Bug:           bug,
			CorrectTestID: ref.TestID,
			CorrectCaseID: ref.CaseID,
			CorrectTitle:  ref.Title,
			Mode:          mode,
			BatchID:       batchID,
			CorrectedAt:   now,
		}
		if err := ledger.AppendJSON(ctx, s.corrections, c); err != nil {
			return fmt.Errorf("storing correction: %w", err)
		}
	}

	s.logger.Info("corrections stored",
		zap.String("bug_key", bug.Key),
		zap.String("mode", string(mode)),
		zap.Int("count", len(refs)))
	return nil
}

// categoryOf resolves the issue category for a bug, preferring its explicit
// hint over classification of its text.
func (s *Store) categoryOf(bug match.BugReport) classify.Category {
	if bug.Category != "" {
		return classify.Category(bug.Category)
	}
	return s.classifier.ClassifyBugText(bug.Summary, bug.Description)
}

// FindSimilarMatch returns the learned match for the first correction whose
// bug text scores above SingleMatchThreshold, scanning newest-first.
// Returns nil when nothing clears the threshold.
//
// The category gate applies: a correction whose bug classifies to a
// different category is skipped regardless of keyword overlap.
func (s *Store) FindSimilarMatch(ctx context.Context, bug match.BugReport) (*match.Match, error) {
	bugWords := keywords.Extract(bug.Text())
	bugCategory := s.categoryOf(bug)

	var found *match.Match
	err := ledger.ScanJSON(ctx, s.corrections, func(c Correction, _ time.Time) error {
		score := keywords.Jaccard(bugWords, keywords.Extract(c.Bug.Text()))
		if score < SingleMatchThreshold {
			return nil
		}
		if !classify.Compatible(s.categoryOf(c.Bug), bugCategory) {
			return nil
		}

		found = &match.Match{
			TestID:     c.CorrectTestID,
			CaseID:     c.CorrectCaseID,
			Title:      c.CorrectTitle,
			Confidence: correctionBaseConfidence + similarityWeight*score,
			Reasoning: fmt.Sprintf("Learned from correction for similar bug %s (keyword similarity %.2f): %s",
				c.Bug.Key, score, c.Bug.Summary),
			Learned: true,
		}
		return ledger.ErrStopScan
	})
	if err != nil {
		return nil, fmt.Errorf("searching corrections: %w", err)
	}

	if found != nil {
		s.logger.Info("learned match found",
			zap.String("bug_key", bug.Key),
			zap.String("test_id", found.TestID),
			zap.Float64("confidence", found.Confidence))
	}
	return found, nil
}

// FindSimilarMatches returns learned matches for a bug that may describe
// several independent defects. Corrections are searched first (higher
// confidence anchor), then raw match records as a fallback tier. Results are
// deduplicated by test ID keeping the first occurrence, so the
// higher-priority source wins.
func (s *Store) FindSimilarMatches(ctx context.Context, bug match.BugReport) ([]match.Match, error) {
	bugWords := keywords.Extract(bug.Text())
	bugCategory := s.categoryOf(bug)

	var results []match.Match
	seen := make(map[string]struct{})

	err := ledger.ScanJSON(ctx, s.corrections, func(c Correction, _ time.Time) error {
		if _, dup := seen[c.CorrectTestID]; dup {
			return nil
		}
		score := keywords.Jaccard(bugWords, keywords.Extract(c.Bug.Text()))
		if score < MultiMatchThreshold {
			return nil
		}
		if !classify.Compatible(s.categoryOf(c.Bug), bugCategory) {
			return nil
		}

		seen[c.CorrectTestID] = struct{}{}
		results = append(results, match.Match{
			TestID:     c.CorrectTestID,
			CaseID:     c.CorrectCaseID,
			Title:      c.CorrectTitle,
			Confidence: correctionBaseConfidence + similarityWeight*score,
			Reasoning: fmt.Sprintf("Learned from correction for similar bug %s (keyword similarity %.2f): %s",
				c.Bug.Key, score, c.Bug.Summary),
			Learned: true,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching corrections: %w", err)
	}

	err = ledger.ScanJSON(ctx, s.matches, func(rec MatchRecord, _ time.Time) error {
		if _, dup := seen[rec.Match.TestID]; dup {
			return nil
		}
		score := keywords.Jaccard(bugWords, keywords.Extract(rec.Bug.Text()))
		if score < MultiMatchThreshold {
			return nil
		}
		if !classify.Compatible(s.categoryOf(rec.Bug), bugCategory) {
			return nil
		}

		seen[rec.Match.TestID] = struct{}{}
		results = append(results, match.Match{
			TestID:     rec.Match.TestID,
			CaseID:     rec.Match.CaseID,
			Title:      rec.Match.Title,
			Confidence: recordBaseConfidence + similarityWeight*score,
			Reasoning: fmt.Sprintf("Learned from prior match for similar bug %s (keyword similarity %.2f): %s",
				rec.Bug.Key, score, rec.Bug.Summary),
			Learned: true,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching match records: %w", err)
	}

	return results, nil
}

// TestCasesByBugKey returns the test cases linked to the given bug key.
//
// Corrections recorded under the exact key are preferred; the newest batch
// is taken first, and older batches are included only while every newer
// batch was an ADD. A CORRECT batch replaces everything before it. When no
// correction exists, raw match records serve as the fallback.
func (s *Store) TestCasesByBugKey(ctx context.Context, bugKey string) ([]TestCaseRef, error) {
	var refs []TestCaseRef
	seen := make(map[string]struct{})

	var stopBatch string
	err := ledger.ScanJSON(ctx, s.corrections, func(c Correction, _ time.Time) error {
		if c.Bug.Key != bugKey {
			return nil
		}
		// A CORRECT batch is consumed in full, then the scan stops: older
		// links were replaced.
		if stopBatch != "" && c.BatchID != stopBatch {
			return ledger.ErrStopScan
		}
		if c.Mode == ModeCorrect {
			stopBatch = c.BatchID
		}

		if _, dup := seen[c.CorrectTestID]; !dup {
			seen[c.CorrectTestID] = struct{}{}
			refs = append(refs, TestCaseRef{
				TestID: c.CorrectTestID,
				CaseID: c.CorrectCaseID,
				Title:  c.CorrectTitle,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading corrections for %s: %w", bugKey, err)
	}
	if len(refs) > 0 {
		return refs, nil
	}

	err = ledger.ScanJSON(ctx, s.matches, func(rec MatchRecord, _ time.Time) error {
		if rec.Bug.Key != bugKey {
			return nil
		}
		if _, dup := seen[rec.Match.TestID]; !dup {
			seen[rec.Match.TestID] = struct{}{}
			refs = append(refs, TestCaseRef{
				TestID: rec.Match.TestID,
				CaseID: rec.Match.CaseID,
				Title:  rec.Match.Title,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading match records for %s: %w", bugKey, err)
	}
	return refs, nil
}

// Statistics returns store totals and last-write timestamps.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	var err error
	stats.TotalMatches, err = s.matches.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("counting match records: %w", err)
	}
	stats.TotalCorrections, err = s.corrections.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("counting corrections: %w", err)
	}
	if stats.TotalMatches > 0 {
		stats.CorrectionRate = float64(stats.TotalCorrections) / float64(stats.TotalMatches)
	}

	err = s.matches.ScanNewestFirst(ctx, func(rec ledger.Record) error {
		at := rec.CreatedAt
		stats.LastMatch = &at
		return ledger.ErrStopScan
	})
	if err != nil {
		return stats, fmt.Errorf("reading last match: %w", err)
	}
	err = s.corrections.ScanNewestFirst(ctx, func(rec ledger.Record) error {
		at := rec.CreatedAt
		stats.LastCorrection = &at
		return ledger.ErrStopScan
	})
	if err != nil {
		return stats, fmt.Errorf("reading last correction: %w", err)
	}

	return stats, nil
}
