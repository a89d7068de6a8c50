package segment

import (
	"strings"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
)

// LineClass is the rule-based class of one benefit text line.
type LineClass string

const (
	LineCore      LineClass = "core"
	LineCondition LineClass = "condition"
	LineExclusion LineClass = "exclusion"
	LineSkip      LineClass = "skip"
)

// LineClassifier decides what a single benefit line is. The default is an
// ordered keyword heuristic; callers depend on the interface so the pattern
// set can evolve independently.
type LineClassifier interface {
	ClassifyLine(line string) LineClass
}

// RuleClassifier is the default keyword-backed classifier.
//
// Ordering matters: explicit exclusion vocabulary wins, then a line is a
// condition only when a number co-occurs with a unit token AND constraint
// vocabulary. A plain "10% discount" claim must stay core, or the core
// sections starve and search quality degrades with them.
type RuleClassifier struct{}

var _ LineClassifier = RuleClassifier{}

// ClassifyLine classifies one trimmed line.
func (RuleClassifier) ClassifyLine(line string) LineClass {
	t := strings.TrimSpace(line)
	if t == "" {
		return LineSkip
	}
	lower := strings.ToLower(t)

	for _, kw := range exclusionKeywords {
		if strings.Contains(lower, kw) {
			return LineExclusion
		}
	}

	if hasDigit(lower) && containsAny(lower, conditionUnits) && containsAny(lower, conditionKeywords) {
		return LineCondition
	}

	return LineCore
}

// BenefitTypeOf detects the reward mechanism of a benefit text by vocabulary
// priority: miles > cashback > discount (any percent sign) > point.
func BenefitTypeOf(text string) catalog.BenefitType {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, milesVocab):
		return catalog.BenefitTypeMiles
	case containsAny(lower, cashbackVocab):
		return catalog.BenefitTypeCashback
	case containsAny(lower, discountVocab):
		return catalog.BenefitTypeDiscount
	case containsAny(lower, pointVocab):
		return catalog.BenefitTypePoint
	default:
		return catalog.BenefitTypeUnknown
	}
}

// StandardCategory maps an ingestion category label to its standard slug.
// Unmapped non-ASCII labels map to empty rather than guessing a slug that
// could silently misroute filtering.
func StandardCategory(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	if slug, ok := categorySlugs[strings.ToLower(label)]; ok {
		return slug
	}
	for _, r := range label {
		if r > 127 {
			return ""
		}
	}
	return strings.ReplaceAll(strings.ToLower(label), " ", "_")
}

// IsNotesLabel reports whether a category label denotes the caveats entry.
func IsNotesLabel(label string) bool {
	_, ok := notesLabels[strings.ToLower(strings.TrimSpace(label))]
	return ok
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
