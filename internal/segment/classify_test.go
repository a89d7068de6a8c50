package segment

import (
	"testing"

	"github.com/cardmatch-ai/cardmatch/internal/catalog"
	"github.com/stretchr/testify/assert"
)

func TestClassifyLine_ExclusionWinsOverCondition(t *testing.T) {
	c := RuleClassifier{}

	// Carries digits, a unit and constraint vocabulary, but the exclusion
	// keyword decides first.
	got := c.ClassifyLine("Monthly cap 50,000 won, excluded for gift card purchases")

	assert.Equal(t, LineExclusion, got)
}

func TestClassifyLine_ConditionNeedsAllThreeSignals(t *testing.T) {
	c := RuleClassifier{}

	// Digit + unit + constraint keyword: condition.
	assert.Equal(t, LineCondition, c.ClassifyLine("Capped at 10,000 won per month"))
	assert.Equal(t, LineCondition, c.ClassifyLine("Applies when previous month spend is at least 300,000 won"))

	// Digit + unit but no constraint keyword: a plain benefit claim stays core.
	assert.Equal(t, LineCore, c.ClassifyLine("10% discount on all purchases at major supermarkets"))

	// Constraint keyword without a digit: core.
	assert.Equal(t, LineCore, c.ClassifyLine("Discount cap applies monthly"))

	// Digit + constraint keyword but no unit token: core.
	assert.Equal(t, LineCore, c.ClassifyLine("Earn 5 bonus stamps per purchase"))
}

func TestClassifyLine_BlankIsSkipped(t *testing.T) {
	c := RuleClassifier{}

	assert.Equal(t, LineSkip, c.ClassifyLine(""))
	assert.Equal(t, LineSkip, c.ClassifyLine("   "))
}

func TestBenefitTypeOf_PriorityOrder(t *testing.T) {
	// Miles vocabulary outranks cashback when both appear.
	assert.Equal(t, catalog.BenefitTypeMiles, BenefitTypeOf("Earn 2 airline miles per 1,000 won spent plus 1% cashback"))
	// Cashback outranks the percent sign.
	assert.Equal(t, catalog.BenefitTypeCashback, BenefitTypeOf("5% cashback on streaming services"))
	// A percent sign alone reads as a discount.
	assert.Equal(t, catalog.BenefitTypeDiscount, BenefitTypeOf("10% off at partner restaurants"))
	assert.Equal(t, catalog.BenefitTypePoint, BenefitTypeOf("Earn 2 points per 1,000 won"))
	assert.Equal(t, catalog.BenefitTypeUnknown, BenefitTypeOf("Free airport lounge access twice a year"))
}

func TestStandardCategory_MappedAndFallback(t *testing.T) {
	assert.Equal(t, "grocery", StandardCategory("Supermarket"))
	assert.Equal(t, "cafe", StandardCategory("Coffee"))
	assert.Equal(t, "digital_payment", StandardCategory("Simple Payment"))

	// Unmapped ASCII labels degrade to a lowercase slug.
	assert.Equal(t, "pet_shops", StandardCategory("Pet Shops"))

	// Unmapped non-ASCII labels map to empty rather than a guessed slug.
	assert.Equal(t, "", StandardCategory("카페"))
	assert.Equal(t, "", StandardCategory(""))
}

func TestIsNotesLabel(t *testing.T) {
	assert.True(t, IsNotesLabel("Notes"))
	assert.True(t, IsNotesLabel(" caveats "))
	assert.True(t, IsNotesLabel("Warnings"))
	assert.False(t, IsNotesLabel("Cafe"))
}

func TestExtractQueryCategories_DeduplicatesSlugs(t *testing.T) {
	cats := ExtractQueryCategories("I buy groceries at the mart and drink coffee every morning")

	assert.Len(t, cats, 2)
	assert.Contains(t, cats, "grocery")
	assert.Contains(t, cats, "cafe")
}

func TestExtractQueryKeywords_VetoVocabularyOnly(t *testing.T) {
	got := ExtractQueryKeywords("I pay rent and insurance with my card")

	assert.Equal(t, []string{"insurance", "rent"}, got)
	assert.Empty(t, ExtractQueryKeywords("coffee and groceries"))
}
