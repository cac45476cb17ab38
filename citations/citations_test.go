package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStructuredThenBracketInReadingOrder(t *testing.T) {
	text := `Liver fibrosis staging. Citation: {"Source":"EASL","Link":"http://x","Supporting Snippet":"a"} More text [cite: Other, http://y]`

	res := Extract(text)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, Citation{Source: "EASL", Link: "http://x", SupportingSnippet: "a"}, res.Citations[0])
	assert.Equal(t, Citation{Source: "Other", Link: "http://y"}, res.Citations[1])
	assert.Equal(t, "Liver fibrosis staging. [1] More text [2]", res.CleanedText)
}

func TestNumberingFollowsTextNotRecognizerOrder(t *testing.T) {
	// The bracket citation comes first in the text even though structured
	// blocks are recognized first.
	text := `Start [cite: Early, https://a.org] middle Citation: {"Source": "Late", "Link": "https://b.org", "Supporting Snippet": "s"}`

	res := Extract(text)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "Early", res.Citations[0].Source)
	assert.Equal(t, "Late", res.Citations[1].Source)
	assert.Equal(t, "Start [1] middle [2]", res.CleanedText)
}

func TestChainedInlineCitations(t *testing.T) {
	text := `Answer. Citation: "Source": "A", "Link": "https://a", "Supporting Snippet": "one" Citation: "Source": "B", "Link": "", "Supporting Snippet": "two"`

	res := Extract(text)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "A", res.Citations[0].Source)
	assert.Equal(t, "two", res.Citations[1].SupportingSnippet)
	assert.Empty(t, res.Citations[1].Link)
	assert.Equal(t, "Answer. [1] [2]", res.CleanedText)
}

func TestMarkdownLinkSkippedWhenAlreadyCaptured(t *testing.T) {
	text := `See [cite: WHO, https://who.int] and the [WHO page](https://who.int) or [NICE](https://nice.org.uk).`

	res := Extract(text)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "https://who.int", res.Citations[0].Link)
	assert.Equal(t, Citation{Source: "NICE", Link: "https://nice.org.uk"}, res.Citations[1])
	assert.Equal(t, "See [1] and the [WHO page](https://who.int) or NICE [2].", res.CleanedText)
}

func TestDuplicateLinksShareANumber(t *testing.T) {
	text := `One [cite: Guide, https://g.org] two [cite: Guide again, https://g.org] three [cite: No link here]`

	res := Extract(text)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "One [1] two [1] three [2]", res.CleanedText)
	assert.Equal(t, "No link here", res.Citations[1].Source)
}

func TestNonHTTPMarkdownLinkIsLeftAlone(t *testing.T) {
	res := Extract("Jump to [section](#dosing).")
	assert.Empty(t, res.Citations)
	assert.Equal(t, "Jump to [section](#dosing).", res.CleanedText)
}

func TestParseBracket(t *testing.T) {
	cases := []struct {
		in   string
		want Citation
	}{
		{"AASLD Guidance, https://aasld.org/x.pdf", Citation{Source: "AASLD Guidance", Link: "https://aasld.org/x.pdf"}},
		{"ESC 2023 - Heart failure, `https://esc.org/hf`", Citation{Source: "ESC 2023 - Heart failure", Link: "https://esc.org/hf"}},
		{"KDIGO, p.12 - https://kdigo.org", Citation{Source: "KDIGO, p.12", Link: "https://kdigo.org"}},
		{"Local protocol only", Citation{Source: "Local protocol only"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseBracket(tc.in))
		})
	}
}

func TestCollectThenRenumber(t *testing.T) {
	marked, found := Collect("a [cite: X, https://x] b")
	require.Len(t, found, 1)
	assert.NotContains(t, marked, "cite:")

	res := Renumber(marked, found)
	assert.Equal(t, "a [1] b", res.CleanedText)
}

func TestStrip(t *testing.T) {
	assert.Equal(t, "Dose daily .", Strip("Dose daily [cite: BNF, https://bnf.nice.org.uk]."))
}
