package stories

import (
	"context"
	"time"

	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

// maxFallbackTitle bounds the title taken from the first article.
const maxFallbackTitle = 80

// Summarize describes a group of articles sorted oldest first. Without a
// client, or when the service fails, the first article provides the title
// and summary.
func Summarize(ctx context.Context, client llm.CompletionClient, sorted []types.Article) llm.Outcome[llm.ClusterSummary] {
	if client == nil {
		return llm.Fallback(fallbackSummary(sorted), nil)
	}

	raw, err := client.Complete(ctx, llm.ClusterSummaryPrompt(sorted))
	if err != nil {
		return llm.Fallback(fallbackSummary(sorted), err)
	}
	summary, err := llm.ParseClusterSummary(raw)
	if err != nil {
		return llm.Fallback(fallbackSummary(sorted), &llm.ServiceError{Provider: client.Provider(), Err: err})
	}
	return llm.Remote(*summary)
}

func fallbackSummary(sorted []types.Article) llm.ClusterSummary {
	first := sorted[0]
	summary := first.Description
	if summary == "" {
		summary = first.Title
	}
	return llm.ClusterSummary{
		Title:        textutil.Truncate(first.Title, maxFallbackTitle),
		Summary:      summary,
		Topics:       []string{},
		Significance: string(types.SignificanceLow),
	}
}

// DetectChanges asks the service what changed between a previous story
// summary and the story's current articles, returning changelog entries.
// The caller only invokes it with a configured client.
func DetectChanges(ctx context.Context, client llm.CompletionClient, previous *types.StoryCluster, current *types.StoryCluster, sorted []types.Article, now time.Time, newID func() string) llm.Outcome[[]types.ChangelogEntry] {
	raw, err := client.Complete(ctx, llm.ChangeDetectionPrompt(previous.Summary, sorted))
	if err != nil {
		return llm.Fallback([]types.ChangelogEntry{}, err)
	}
	descriptors, err := llm.ParseChangeDescriptors(raw)
	if err != nil {
		return llm.Fallback([]types.ChangelogEntry{}, &llm.ServiceError{Provider: client.Provider(), Err: err})
	}

	latest := sorted[len(sorted)-1]
	entries := make([]types.ChangelogEntry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, types.ChangelogEntry{
			ID:            newID(),
			ArticleID:     latest.ID,
			ArticleURL:    latest.URL,
			ArticleTitle:  current.Title,
			Field:         types.FieldContent,
			PreviousValue: previous.Summary,
			NewValue:      d.Description,
			DetectedAt:    now,
			ChangeType:    types.ChangeType(d.Type),
			Significance:  types.Significance(d.Significance),
		})
	}
	return llm.Remote(entries)
}
