// Package classify maps accessibility bug text to a coarse issue category.
//
// The category acts as a hard gate on learned matches: a stored correction is
// only proposed for a new bug when their categories agree (or the stored one
// is unknown). This stops a bug that shares incidental keywords with an old
// correction from being learned-matched across topics.
package classify

import (
	"regexp"
	"strings"
)

// Category is a coarse accessibility issue classification.
type Category string

const (
	CategoryFocus          Category = "focus"
	CategoryTitle          Category = "title"
	CategoryHeadingMissing Category = "heading-missing"
	CategoryHeadingLevel   Category = "heading-level"
	CategoryHeadingGeneric Category = "heading-generic"
	CategoryLanguage       Category = "language"
	CategoryForm           Category = "form"
	CategoryImage          Category = "image"
	CategoryTable          Category = "table"
	CategoryLink           Category = "link"
	CategoryColor          Category = "color"
	CategoryUnknown        Category = "unknown"
)

// maxInputLength bounds classifier input to prevent ReDoS on huge descriptions.
const maxInputLength = 8192

// categoryRule pairs a compiled regex with the category it detects.
// Rules are evaluated in order; the first match wins, so more specific
// patterns must come before broader ones.
type categoryRule struct {
	regex    *regexp.Regexp
	category Category
}

// Classifier classifies bug text using ordered regex rules.
// Thread-safe: all patterns are compiled at construction time.
type Classifier struct {
	rules []*categoryRule
}

// New creates a classifier with the built-in rules.
func New() *Classifier {
	return &Classifier{rules: buildRules()}
}

// buildRules returns the ordered classification rules.
//
// Rule order is significant. The two heading rules are deliberately split:
// "heading missing" and "heading wrong level" are both textually about
// headings but map to unrelated test cases, so they must never collapse
// into one category. Their patterns are disjoint by construction.
func buildRules() []*categoryRule {
	return []*categoryRule{
		// Heading level before heading missing: "heading level" mentions the
		// word heading, so the level pattern must be tried first.
		{
			regex:    regexp.MustCompile(`(?i)(?:incorrect\s+level|wrong\s+level|heading\s+level|h\d.*incorrect)`),
			category: CategoryHeadingLevel,
		},
		{
			regex:    regexp.MustCompile(`(?i)heading.*(?:missing|not\s+provided|not\s+programmatically|not\s+identified)|(?:missing|no)\s+heading`),
			category: CategoryHeadingMissing,
		},
		{
			regex:    regexp.MustCompile(`(?i)heading`),
			category: CategoryHeadingGeneric,
		},
		{
			regex:    regexp.MustCompile(`(?i)\bfocus(?:ed|able)?\b|focus\s+(?:indicator|outline|order|visible)`),
			category: CategoryFocus,
		},
		{
			regex:    regexp.MustCompile(`(?i)page\s+title|\btitle\b.*(?:generic|missing|descriptive|meaningful)|\btitled?\b`),
			category: CategoryTitle,
		},
		{
			regex:    regexp.MustCompile(`(?i)\blang(?:uage)?\s+(?:attribute|of\s+page|not\s+set)|html\s+lang`),
			category: CategoryLanguage,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:form|input|label|field|fieldset|legend|placeholder)\b`),
			category: CategoryForm,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:image|img|alt\s+text|alternative\s+text|graphic|icon)\b`),
			category: CategoryImage,
		},
		{
			regex:    regexp.MustCompile(`(?i)\btable\b|\bdata\s+cells?\b|\bcolumn\s+header|\brow\s+header`),
			category: CategoryTable,
		},
		{
			regex:    regexp.MustCompile(`(?i)\blink\b|\bhyperlink\b|\banchor\b`),
			category: CategoryLink,
		},
		{
			regex:    regexp.MustCompile(`(?i)\bcolor\b|\bcolour\b|\bcontrast\b`),
			category: CategoryColor,
		},
	}
}

// Classify returns the category for the given bug text.
// Returns CategoryUnknown when no rule matches.
func (c *Classifier) Classify(text string) Category {
	if len(text) > maxInputLength {
		text = text[:maxInputLength]
	}
	for _, rule := range c.rules {
		if rule.regex.MatchString(text) {
			return rule.category
		}
	}
	return CategoryUnknown
}

// Compatible reports whether a learned match from a bug classified as
// stored may be proposed for a bug classified as incoming.
//
// Unknown on the stored side means the historical bug gave the classifier
// nothing to work with; in that case the keyword score alone decides.
func Compatible(stored, incoming Category) bool {
	return stored == CategoryUnknown || stored == incoming
}

// ClassifyBugText classifies the combination of a summary and description,
// with the summary weighted first since title conventions often carry the
// category token.
func (c *Classifier) ClassifyBugText(summary, description string) Category {
	return c.Classify(strings.TrimSpace(summary + " " + description))
}
