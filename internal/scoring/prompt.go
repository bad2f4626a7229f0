package scoring

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scout/internal/core"
)

// maxBodyChars bounds how much candidate body lands in a triage prompt.
const maxBodyChars = 4000

// BuildTriagePrompt creates the relevance-judgment prompt for one candidate
// against a topic's interest statement. The model must answer with a single
// JSON object matching triageResponse.
func BuildTriagePrompt(topic *core.Topic, c *core.CandidateRow) string {
	var prompt strings.Builder

	prompt.WriteString("You triage content for a personal digest. Judge ONE candidate against the reader's interest.\n\n")
	prompt.WriteString(fmt.Sprintf("**Reader's interest:** %s\n\n", topic.Query))

	if c.Title != "" {
		prompt.WriteString(fmt.Sprintf("**Title:** %s\n", c.Title))
	}
	prompt.WriteString(fmt.Sprintf("**Source:** %s (%s)\n", c.SourceName, c.SourceType))
	if c.Author != "" {
		prompt.WriteString(fmt.Sprintf("**Author:** %s\n", c.Author))
	}
	prompt.WriteString(fmt.Sprintf("\n**Content:**\n%s\n\n", truncate(StripHTML(c.BodyText), maxBodyChars)))

	prompt.WriteString("Respond with a single JSON object, no prose:\n")
	prompt.WriteString("{\n")
	prompt.WriteString(`  "relevance_score": 0.0-1.0,` + "\n")
	prompt.WriteString(`  "is_relevant": true/false,` + "\n")
	prompt.WriteString(`  "is_novel": true/false (does this cover genuinely new ground?),` + "\n")
	prompt.WriteString(`  "should_deep_summarize": true/false (is a longer summary worth a second call?),` + "\n")
	prompt.WriteString(`  "reasoning": "one or two sentences",` + "\n")
	prompt.WriteString(`  "categories": ["up to three short category labels"]` + "\n")
	prompt.WriteString("}\n")

	return prompt.String()
}

// StripHTML reduces markup to readable text. Non-HTML input passes through
// unchanged apart from whitespace normalization.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return normalizeWhitespace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normalizeWhitespace(s)
	}
	doc.Find("script, style").Remove()
	return normalizeWhitespace(doc.Text())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
