// Package stories groups related articles into story clusters and carries
// each story's narrative changelog across rebuilds.
package stories

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/storyline/internal/llm"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Options tune clustering.
type Options struct {
	// Threshold is the blended similarity needed to join a seed's cluster.
	Threshold float64
}

// Report is the outcome of one BuildClusters call.
type Report struct {
	Clusters []types.StoryCluster `json:"clusters"`
	// Summaries and Changes count remote and fallback results of the
	// summarization and change-detection steps.
	Summaries llm.Tally `json:"summaries"`
	Changes   llm.Tally `json:"changes"`
	// Matched counts new clusters paired with a previous cluster by topic.
	Matched    int   `json:"matched"`
	PersistErr error `json:"-"`
}

// Builder rebuilds the story cluster set.
type Builder struct {
	store storage.ClusterStore
	opts  Options
	now   func() time.Time
	newID func() string
}

// NewBuilder creates a Builder. A zero Threshold uses DefaultThreshold.
func NewBuilder(store storage.ClusterStore, opts Options) *Builder {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Builder{
		store: store,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// BuildClusters partitions articles into clusters, summarizes each, carries
// changelog history forward from topic-matched previous clusters and replaces
// the persisted set.
//
// History is only carried when client is non-nil: without a completion
// service every rebuilt cluster starts with an empty changelog. Matching uses
// the first previous cluster sharing any exact topic string, so a generic
// topic can pair unrelated stories.
func (b *Builder) BuildClusters(ctx context.Context, articles []types.Article, client llm.CompletionClient) (*Report, error) {
	report := &Report{Clusters: make([]types.StoryCluster, 0)}
	now := b.now()

	groups := Partition(articles, b.opts.Threshold)
	sortedGroups := make([][]types.Article, len(groups))

	for i, group := range groups {
		sorted := byPublished(group)
		sortedGroups[i] = sorted

		out := Summarize(ctx, client, sorted)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Summaries.Add(out.Source, out.Err)
		if out.Err != nil {
			log.Printf("stories: summary for %d-article cluster fell back: %v", len(sorted), out.Err)
		}

		report.Clusters = append(report.Clusters, b.newCluster(sorted, out.Value))
	}

	if client != nil {
		previous, err := b.store.GetClusters(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Printf("stories: failed to load previous clusters, carrying nothing forward: %v", err)
			previous = nil
		}
		if len(previous) > 0 {
			if err := b.carryForward(ctx, client, previous, report, sortedGroups, now); err != nil {
				return nil, err
			}
		}
	}

	if err := b.store.ReplaceClusters(ctx, report.Clusters); err != nil {
		log.Printf("stories: failed to persist %d clusters: %v", len(report.Clusters), err)
		report.PersistErr = err
	}
	return report, nil
}

func (b *Builder) newCluster(sorted []types.Article, summary llm.ClusterSummary) types.StoryCluster {
	ids := make([]string, len(sorted))
	for i, a := range sorted {
		ids[i] = a.ID
	}
	return types.StoryCluster{
		ID:            b.newID(),
		Title:         summary.Title,
		Summary:       summary.Summary,
		ArticleIDs:    ids,
		FirstSeenAt:   sorted[0].PublishedAt,
		LastUpdatedAt: sorted[len(sorted)-1].PublishedAt,
		UpdateCount:   len(sorted) - 1,
		Significance:  types.Significance(summary.Significance),
		Topics:        summary.Topics,
		Changelog:     []types.ChangelogEntry{},
	}
}

// carryForward sets each new cluster's changelog to its match's history plus
// newly detected entries. A failed detection keeps the old history.
func (b *Builder) carryForward(ctx context.Context, client llm.CompletionClient, previous []types.StoryCluster, report *Report, sortedGroups [][]types.Article, now time.Time) error {
	for i := range report.Clusters {
		current := &report.Clusters[i]
		old := firstSharingTopic(previous, current)
		if old == nil {
			continue
		}
		report.Matched++

		out := DetectChanges(ctx, client, old, current, sortedGroups[i], now, b.newID)
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Changes.Add(out.Source, out.Err)
		if out.Err != nil {
			log.Printf("stories: change detection for %q failed, keeping %d prior entries: %v", current.Title, len(old.Changelog), out.Err)
		}

		history := make([]types.ChangelogEntry, 0, len(old.Changelog)+len(out.Value))
		history = append(history, old.Changelog...)
		history = append(history, out.Value...)
		current.Changelog = history
	}
	return nil
}

func firstSharingTopic(previous []types.StoryCluster, current *types.StoryCluster) *types.StoryCluster {
	for i := range previous {
		if previous[i].SharesTopic(current) {
			return &previous[i]
		}
	}
	return nil
}
