package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanHTML_BlockTagsBecomeLines(t *testing.T) {
	raw := `<ul><li>10% discount at major coffee chains nationwide</li><li>Monthly cap 10,000 won</li></ul>`

	got := CleanHTML(raw)

	assert.Equal(t, "10% discount at major coffee chains nationwide\nMonthly cap 10,000 won", got)
}

func TestCleanHTML_BrVariants(t *testing.T) {
	raw := "first line<br>second line<BR/>third line<br />fourth line"

	lines := SplitLines(CleanHTML(raw))

	assert.Equal(t, []string{"first line", "second line", "third line", "fourth line"}, lines)
}

func TestCleanHTML_EntitiesUnescapedAfterTagStrip(t *testing.T) {
	// Escaped angle brackets must survive tag removal: tags are stripped
	// first, entities decoded after.
	raw := "<p>Cafe&nbsp;&amp;&nbsp;bakery 5% discount &lt;weekends only&gt;</p>"

	got := CleanHTML(raw)

	assert.Equal(t, "Cafe & bakery 5% discount <weekends only>", got)
}

func TestCleanHTML_CollapsesBlankLines(t *testing.T) {
	raw := "<p>alpha</p><p></p><p>   </p><p>beta</p>"

	got := CleanHTML(raw)

	assert.Equal(t, "alpha\nbeta", got)
}

func TestCleanHTML_EmptyAndTagsOnly(t *testing.T) {
	assert.Equal(t, "", CleanHTML(""))
	assert.Equal(t, "", CleanHTML("<div><span></span></div>"))
}

func TestSplitLines_DropsEmptyAndTrims(t *testing.T) {
	lines := SplitLines("  alpha  \n\n\r beta\r\n")

	assert.Equal(t, []string{"alpha", "beta"}, lines)
}
