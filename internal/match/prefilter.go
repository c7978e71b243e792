package match

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// categoryTokenIgnoreList holds generic title segments that carry no section
// signal and must not drive filtering.
var categoryTokenIgnoreList = map[string]struct{}{
	"accessibility": {},
	"a11y":          {},
	"bug":           {},
	"defect":        {},
	"general":       {},
	"misc":          {},
	"other":         {},
}

// CategoryToken extracts the category segment from a pipe-delimited title
// convention ("tag | category | ..."). Returns "" when the title doesn't
// follow the convention or the segment is on the ignore list.
func CategoryToken(title string) string {
	parts := strings.Split(title, "|")
	if len(parts) < 2 {
		return ""
	}
	token := strings.ToLower(strings.TrimSpace(parts[1]))
	if token == "" {
		return ""
	}
	if _, ignored := categoryTokenIgnoreList[token]; ignored {
		return ""
	}
	return token
}

// SectionNamer resolves a section grouping key to its human-readable name.
type SectionNamer interface {
	SectionName(ctx context.Context, sectionID string) (string, error)
}

// PreFilter narrows candidates by section before the engine runs, and
// short-circuits the reasoning model entirely when the narrowing leaves
// exactly one candidate.
type PreFilter struct {
	sections SectionNamer
	logger   *zap.Logger
}

// NewPreFilter creates a section/title pre-filter.
func NewPreFilter(sections SectionNamer, logger *zap.Logger) *PreFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreFilter{sections: sections, logger: logger}
}

// FilterBySection keeps only candidates whose section name contains the
// category token (case-insensitive substring).
//
// Fail-open: if section lookup fails, or filtering would leave zero
// candidates, the original list is returned unchanged. The downstream model
// call must always see a non-empty candidate set when one exists.
func (p *PreFilter) FilterBySection(ctx context.Context, candidates []TestCaseCandidate, token string) []TestCaseCandidate {
	if token == "" || p.sections == nil {
		return candidates
	}

	bySection := make(map[string][]TestCaseCandidate)
	for _, c := range candidates {
		bySection[c.SectionID] = append(bySection[c.SectionID], c)
	}

	var filtered []TestCaseCandidate
	for sectionID, group := range bySection {
		if sectionID == "" {
			continue
		}
		name, err := p.sections.SectionName(ctx, sectionID)
		if err != nil {
			p.logger.Warn("section lookup failed, pre-filter falling back to full candidate list",
				zap.String("section_id", sectionID),
				zap.Error(err))
			return candidates
		}
		if strings.Contains(strings.ToLower(name), token) {
			filtered = append(filtered, group...)
		}
	}

	if len(filtered) == 0 {
		return candidates
	}
	return filtered
}

// Apply runs the pre-filter for a bug. When exactly one candidate remains
// after filtering it returns an auto-match with full confidence; otherwise
// it returns the (possibly narrowed) candidate list for the engine.
//
// The auto-match fires if and only if exactly one candidate remains. With
// zero or two-plus candidates the model still decides.
func (p *PreFilter) Apply(ctx context.Context, bug BugReport, candidates []TestCaseCandidate) (*Match, []TestCaseCandidate) {
	token := CategoryToken(bug.Summary)
	if token == "" {
		return nil, candidates
	}

	filtered := p.FilterBySection(ctx, candidates, token)
	if len(filtered) != 1 {
		return nil, filtered
	}

	sole := filtered[0]
	p.logger.Info("pre-filter auto-match",
		zap.String("bug_key", bug.Key),
		zap.String("test_id", sole.TestID),
		zap.String("category_token", token))

	return &Match{
		TestID:     sole.TestID,
		CaseID:     sole.CaseID,
		Title:      sole.Title,
		Confidence: 1.0,
		Reasoning: fmt.Sprintf("Sole candidate in the test section matching title category %q; matched without model call.",
			token),
		AutoMatched: true,
	}, filtered
}
