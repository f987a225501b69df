// Package llm provides the optional completion-service integration: two wire
// dialects behind the CompletionClient interface, strict JSON-only prompt
// templates, and parsers for the replies.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

// maxExcerptChars bounds each article excerpt placed in a prompt.
const maxExcerptChars = 500

// EntityExtractionPrompt asks for a bare JSON array of {name, type}.
func EntityExtractionPrompt(text string) string {
	return fmt.Sprintf(`TASK: Extract named entities from a news article.
OUTPUT: ONLY a valid JSON array. NO markdown. NO code blocks. NO explanation.

ENTITY TYPES (ONLY these 4):
- person: Individual human
- organization: Company, institution, agency, party or group
- location: City, country, region or place
- topic: Subject, event or theme the article is about

Each element MUST have exactly: name, type
Example:
[{"name":"Jerome Powell","type":"person"},{"name":"Federal Reserve","type":"organization"}]

If there are no entities, return []

ARTICLE:
%s

RESPOND WITH ONLY THE JSON ARRAY:`, text)
}

// ClusterSummaryPrompt asks for a {title, summary, topics, significance}
// object describing the articles, given oldest first.
func ClusterSummaryPrompt(articles []types.Article) string {
	return fmt.Sprintf(`TASK: These news articles describe one developing story. Summarize it.
OUTPUT: ONLY a valid JSON object. NO markdown. NO code blocks. NO explanation.

REQUIRED JSON STRUCTURE:
{"title":"short headline","summary":"2-3 sentences","topics":["topic"],"significance":"low|medium|high"}

RULES:
1. title: at most 80 characters
2. topics: 1-5 short lowercase topic strings
3. significance EXACTLY one of: low, medium, high

ARTICLES (oldest first):
%s
RESPOND WITH ONLY THE JSON OBJECT:`, numberedExcerpts(articles))
}

// ChangeDetectionPrompt asks what changed between a story's previous summary
// and its current articles, as a bare JSON array.
func ChangeDetectionPrompt(previousSummary string, articles []types.Article) string {
	return fmt.Sprintf(`TASK: Compare the PREVIOUS SUMMARY of a news story with its CURRENT ARTICLES and list what has changed in the narrative.
OUTPUT: ONLY a valid JSON array. NO markdown. NO code blocks. NO explanation.

Each element MUST have exactly: type, description, significance
- type EXACTLY one of: update, correction, retraction, clarification
- description: one sentence describing the change
- significance EXACTLY one of: low, medium, high

If nothing changed, return []

PREVIOUS SUMMARY:
%s

CURRENT ARTICLES (oldest first):
%s
RESPOND WITH ONLY THE JSON ARRAY:`, previousSummary, numberedExcerpts(articles))
}

func numberedExcerpts(articles []types.Article) string {
	var b strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, a.Source.Name, a.Title, a.PublishedAt.UTC().Format(time.RFC3339))
		if a.Description != "" {
			fmt.Fprintf(&b, "   %s\n", textutil.Truncate(textutil.PlainText(a.Description), maxExcerptChars))
		}
	}
	return b.String()
}
