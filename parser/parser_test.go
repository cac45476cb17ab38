package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medchat-backend/citations"
)

func TestParseJSONAnswer(t *testing.T) {
	body := `{"short_answer":"Use tenofovir.\\nFirst line.","detailed_answer":"Long text <guideline_references>x</guideline_references>",` +
		`"guideline_reference":[{"Source":"EASL 2017","Link":"https://easl.eu","Supporting_Snippet":"TDF is first line"}],` +
		`"safety_flag":"1","ai_disclaimer":{"sections":[{"title":"Notice","content":"Not advice"}]}}`

	res := Parse(body)
	assert.Equal(t, ModeJSON, res.Mode)
	assert.Equal(t, "Use tenofovir.\nFirst line.", res.ShortAnswer)
	assert.Equal(t, "Long text", res.DetailedAnswer)
	assert.Equal(t, []citations.Citation{{Source: "EASL 2017", Link: "https://easl.eu", SupportingSnippet: "TDF is first line"}}, res.References)
	assert.True(t, res.SafetyRequired)
	require.NotNil(t, res.Disclaimer)
	assert.Equal(t, "Notice", res.Disclaimer.Sections[0].Title)
}

func TestParseJSONIsDeterministic(t *testing.T) {
	body := `{"short_answer":"A","detailed_answer":"B","references":["WHO, https://who.int"]}`
	first := Parse(body)
	for i := 0; i < 5; i++ {
		again := Parse(body)
		assert.Equal(t, first.ShortAnswer, again.ShortAnswer)
		assert.Equal(t, first.DetailedAnswer, again.DetailedAnswer)
		assert.Equal(t, first.References, again.References)
	}
}

func TestParseJSONUnwrapsCompleteEnvelope(t *testing.T) {
	body := `{"response_type":"complete","response":"{\"short_answer\":\"S\",\"detailed_answer\":\"D\"}"}`
	res := Parse(body)
	assert.Equal(t, ModeJSON, res.Mode)
	assert.Equal(t, "S", res.ShortAnswer)
	assert.Equal(t, "D", res.DetailedAnswer)
}

func TestParseJSONReferenceFallbacks(t *testing.T) {
	t.Run("json string", func(t *testing.T) {
		body := `{"short_answer":"S","detailed_answer":"D","references":"[{\"source\":\"NICE\",\"link\":\"https://nice.org.uk\"}]"}`
		assert.Equal(t, []citations.Citation{{Source: "NICE", Link: "https://nice.org.uk"}}, Parse(body).References)
	})
	t.Run("source url strings", func(t *testing.T) {
		body := `{"short_answer":"S","detailed_answer":"D","references":["WHO hepatitis B fact sheet, 2024, https://who.int/hbv","Local protocol"]}`
		assert.Equal(t, []citations.Citation{
			{Source: "WHO hepatitis B fact sheet, 2024", Link: "https://who.int/hbv"},
			{Source: "Local protocol"},
		}, Parse(body).References)
	})
	t.Run("xml inside detailed answer", func(t *testing.T) {
		body := `{"short_answer":"S","detailed_answer":"D <guideline_references><reference><source>AASLD</source><link>https://aasld.org</link></reference></guideline_references>"}`
		res := Parse(body)
		assert.Equal(t, "D", res.DetailedAnswer)
		assert.Equal(t, []citations.Citation{{Source: "AASLD", Link: "https://aasld.org"}}, res.References)
	})
}

func TestParseJSONResponseOnlyFallsBackToText(t *testing.T) {
	res := Parse(`{"response":"Short reply.","safety_flag":true}`)
	assert.Equal(t, ModeText, res.Mode)
	assert.Equal(t, "Short reply.", res.ShortAnswer)
	assert.Empty(t, res.DetailedAnswer)
	assert.True(t, res.SafetyRequired)
}

func TestParseXMLWithRepairedJSONReferences(t *testing.T) {
	text := "<short_answer>Start &amp; monitor.</short_answer>\n" +
		"<detailed_answer>Detail here</detailed_answer>\n" +
		`<guideline_references>{"Source":"A","Link":"https://a"}, {"Source":"B","Link":"https://b"}</guideline_references>`

	res := Parse(text)
	assert.Equal(t, ModeXML, res.Mode)
	assert.Equal(t, "Start & monitor.", res.ShortAnswer)
	assert.Equal(t, "Detail here", res.DetailedAnswer)
	assert.Equal(t, []citations.Citation{{Source: "A", Link: "https://a"}, {Source: "B", Link: "https://b"}}, res.References)
}

func TestParseXMLReferenceElements(t *testing.T) {
	text := "<SHORT_ANSWER>Yes</SHORT_ANSWER><guideline_references>" +
		"<reference><source>S1</source><link>https://s1</link><supporting>snip</supporting></reference>" +
		"<reference><source>S2</source></reference></guideline_references>"

	res := Parse(text)
	assert.Equal(t, "Yes", res.ShortAnswer)
	assert.Equal(t, []citations.Citation{
		{Source: "S1", Link: "https://s1", SupportingSnippet: "snip"},
		{Source: "S2"},
	}, res.References)
}

func TestParseXMLUnreadableReferencesKeepRawText(t *testing.T) {
	res := Parse("<short_answer>Yes</short_answer><guideline_references>{not json</guideline_references>")
	assert.Equal(t, []citations.Citation{{SupportingSnippet: "{not json"}}, res.References)
}

func TestFilterResponseTags(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"content after closing tag wins", "<RESPONSE>reasoning</RESPONSE>\nThe answer.", "The answer."},
		{"unclosed tag truncates", "Answer first.\n<RESPONSE>reasoning still streaming", "Answer first."},
		{"unclosed tag with nothing before is kept", "<RESPONSE>unclosed only", "<RESPONSE>unclosed only"},
		{"typo variant removed", "<REPONSE>typo</REPONSE>", ""},
		{"closed block removed", "Intro\n\n<response kind=\"x\">x</response>", "Intro"},
		{"no tags", "plain", "plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilterResponseTags(tc.in))
		})
	}
}

func TestSectionsShortUnstructuredText(t *testing.T) {
	sections := Sections("Hepatitis B is treated with antivirals. Monitor liver function.")
	require.Len(t, sections, 2)
	assert.Equal(t, SectionShortAnswer, sections[0].Type)
	assert.Equal(t, "Hepatitis B is treated with antivirals. Monitor liver function.", sections[0].Content)
	assert.Equal(t, SectionDisclaimer, sections[1].Type)
	assert.Len(t, sections[1].Disclaimer.Sections, 3)
}

func TestSectionsLongUnstructuredTextReconstructs(t *testing.T) {
	text := strings.Join([]string{
		"Chronic hepatitis B is managed according to viral load and liver inflammation.",
		"Treatment is indicated when HBV DNA and ALT are persistently raised.",
		"Tenofovir and entecavir are the preferred first line agents because resistance is rare.",
		"Renal function and bone density should be checked before starting tenofovir disoproxil.",
		"Patients with cirrhosis need treatment regardless of ALT level and require surveillance for liver cancer every six months.",
	}, " ")
	require.GreaterOrEqual(t, len(text), 300)

	short, sep, detailed := SplitSentences(text)
	assert.Equal(t, text, short+sep+detailed)

	sections := Sections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, SectionShortAnswer, sections[0].Type)
	assert.Equal(t, SectionDetailedAnswer, sections[1].Type)
	assert.Equal(t, text, sections[0].Content+sep+sections[1].Content)
	assert.True(t, strings.HasSuffix(sections[0].Content, "raised."))
}

func TestSectionsMarkdownHeadings(t *testing.T) {
	text := "## Short Answer\nTake it daily.\n\n## Detailed Answer\nMore detail here [cite: BNF, https://bnf.org].\n\n## References\nWHO 2024"

	sections := Sections(text)
	require.Len(t, sections, 4)
	assert.Equal(t, "Take it daily.", sections[0].Content)
	assert.Equal(t, "More detail here [1].", sections[1].Content)
	assert.Equal(t, SectionReference, sections[2].Type)
	assert.Equal(t, "WHO 2024", sections[2].Content)
	assert.Equal(t, []citations.Citation{{Source: "BNF", Link: "https://bnf.org"}}, sections[2].Citations)
	for i, s := range sections {
		assert.Equal(t, i+1, s.ID)
	}
}

func TestSectionsGapAndGuidelinesWithoutCitations(t *testing.T) {
	text := "Plain answer.\n<GAP_SUMMARY>Local protocol lacks dosing.</GAP_SUMMARY>\n" +
		`<LOCAL_GUIDELINE_LIST>{"local_guidelines":[{"name":"Trust HBV policy"}]}</LOCAL_GUIDELINE_LIST>`

	sections := Sections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, "Plain answer.", sections[0].Content)
	ref := sections[1]
	assert.Equal(t, SectionReference, ref.Type)
	assert.Empty(t, ref.Citations)
	assert.Equal(t, "Local protocol lacks dosing.", ref.GapSummary)
	assert.Equal(t, []LocalGuideline{{Name: "Trust HBV policy"}}, ref.LocalGuidelines)
	assert.Equal(t, SectionDisclaimer, sections[2].Type)
}

func TestSectionsStructuredAnswerCarriesInlineCitations(t *testing.T) {
	text := "<short_answer>Start <b>now</b></short_answer><detailed_answer>Dose   daily [cite: EASL, `https://easl.eu`]</detailed_answer>"

	sections := Sections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, "Start now", sections[0].Content)
	assert.Equal(t, "Dose daily [1]", sections[1].Content)
	assert.Equal(t, []citations.Citation{{Source: "EASL", Link: "https://easl.eu"}}, sections[1].Citations)
}

func TestSectionsUseUpstreamDisclaimer(t *testing.T) {
	sections := Sections(`{"short_answer":"S","detailed_answer":"D","ai_disclaimer":"Educational use only"}`)
	last := sections[len(sections)-1]
	assert.Equal(t, SectionDisclaimer, last.Type)
	assert.Equal(t, "Educational use only", last.Disclaimer.Text)
}

func TestExtractGapAndGuidelinesIgnoresBadJSON(t *testing.T) {
	gap, guidelines := ExtractGapAndGuidelines("<gap_summary> g </gap_summary><LOCAL_GUIDELINE_LIST>{oops</LOCAL_GUIDELINE_LIST>")
	assert.Equal(t, "g", gap)
	assert.Nil(t, guidelines)
}

func TestClean(t *testing.T) {
	in := "&lt;p&gt;Line one&lt;/p&gt;\n        `code`   and &quot;quotes&quot; &#39;x&#39;"
	assert.Equal(t, `Line one code and "quotes" 'x'`, Clean(in))
	assert.Equal(t, "", Clean(""))
}
