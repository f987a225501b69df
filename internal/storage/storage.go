// Package storage defines the persistence contract for Storyline.
//
// Each logical record (article cache, changelog, entity graph, cluster set and
// AI configuration) has its own small interface. Backends implement all of
// them and are composed into a Repository that components receive by
// injection.
package storage

import (
	"context"

	"github.com/scrypster/storyline/pkg/types"
)

// ArticleStore holds the last known version of every article.
type ArticleStore interface {
	// GetArticles returns the article cache keyed by id. An empty store
	// returns an empty, non-nil map.
	GetArticles(ctx context.Context) (map[string]types.Article, error)

	// CommitArticles upserts articles and appends entries to the changelog as
	// one unit. Either both are applied or neither is.
	CommitArticles(ctx context.Context, articles []types.Article, entries []types.ChangelogEntry) error
}

// ChangelogStore reads the append-only changelog.
type ChangelogStore interface {
	// ListChangelog returns entries oldest first. An empty articleID lists
	// every entry.
	ListChangelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error)

	// CountChangelog counts entries for articleID, or all entries when empty.
	CountChangelog(ctx context.Context, articleID string) (int, error)

	// ResetChangelog deletes every entry. It is the only deletion path.
	ResetChangelog(ctx context.Context) error
}

// GraphStore holds the current entity graph.
type GraphStore interface {
	// GetGraph returns ErrNotFound when no graph has been built yet.
	GetGraph(ctx context.Context) (*types.EntityGraph, error)

	// ReplaceGraph overwrites the stored graph wholesale.
	ReplaceGraph(ctx context.Context, graph *types.EntityGraph) error
}

// ClusterStore holds the current story cluster set.
type ClusterStore interface {
	// GetClusters returns an empty slice when nothing has been built yet.
	GetClusters(ctx context.Context) ([]types.StoryCluster, error)

	// ReplaceClusters overwrites the stored set wholesale.
	ReplaceClusters(ctx context.Context, clusters []types.StoryCluster) error
}

// SettingsStore holds the optional completion-service configuration.
type SettingsStore interface {
	// GetAIConfig returns ErrNotFound when nothing was saved.
	GetAIConfig(ctx context.Context) (*types.AIConfig, error)
	SaveAIConfig(ctx context.Context, cfg *types.AIConfig) error
}

// Repository is the full persistence surface of one backend.
type Repository interface {
	ArticleStore
	ChangelogStore
	GraphStore
	ClusterStore
	SettingsStore

	// Close releases backend resources.
	Close() error
}
