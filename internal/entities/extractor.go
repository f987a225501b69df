package entities

import (
	"context"

	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

// Extract returns the entity candidates for one article. With a client it
// asks the completion service first and falls back to the heuristic on
// failure or an empty answer; without one it uses the heuristic directly.
// The article's source name is always appended as a source entity.
func Extract(ctx context.Context, client llm.CompletionClient, article types.Article) llm.Outcome[[]Candidate] {
	text := textutil.PlainText(article.Text())

	out := extractText(ctx, client, text)
	if name := article.Source.Name; name != "" {
		out.Value = append(out.Value, Candidate{Name: name, Type: types.EntitySource})
	}
	return out
}

func extractText(ctx context.Context, client llm.CompletionClient, text string) llm.Outcome[[]Candidate] {
	if client == nil {
		return llm.Fallback(ExtractHeuristic(text), nil)
	}

	raw, err := client.Complete(ctx, llm.EntityExtractionPrompt(text))
	if err != nil {
		return llm.Fallback(ExtractHeuristic(text), err)
	}
	parsed, err := llm.ParseEntityCandidates(raw)
	if err != nil {
		return llm.Fallback(ExtractHeuristic(text), &llm.ServiceError{Provider: client.Provider(), Err: err})
	}
	if len(parsed) == 0 {
		return llm.Fallback(ExtractHeuristic(text), nil)
	}

	candidates := make([]Candidate, 0, len(parsed))
	for _, p := range parsed {
		candidates = append(candidates, Candidate{Name: p.Name, Type: types.EntityType(p.Type)})
	}
	return llm.Remote(candidates)
}
