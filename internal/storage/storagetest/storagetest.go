// Package storagetest holds the behavioral tests every storage.Repository
// backend must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Factory returns a fresh, empty repository. Cleanup is the caller's job
// (typically t.Cleanup).
type Factory func(t *testing.T) storage.Repository

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// Run executes the shared repository tests against newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("EmptyState", func(t *testing.T) { testEmptyState(t, newRepo(t)) })
	t.Run("CommitArticles", func(t *testing.T) { testCommitArticles(t, newRepo(t)) })
	t.Run("ChangelogOrderAndFilter", func(t *testing.T) { testChangelogOrderAndFilter(t, newRepo(t)) })
	t.Run("ResetChangelog", func(t *testing.T) { testResetChangelog(t, newRepo(t)) })
	t.Run("ReplaceGraph", func(t *testing.T) { testReplaceGraph(t, newRepo(t)) })
	t.Run("ReplaceClusters", func(t *testing.T) { testReplaceClusters(t, newRepo(t)) })
	t.Run("AIConfig", func(t *testing.T) { testAIConfig(t, newRepo(t)) })
}

// Article returns a valid article for tests.
func Article(id, title string) types.Article {
	return types.Article{
		ID:          id,
		URL:         "https://news.example/" + id,
		Title:       title,
		Description: "Description of " + title,
		Source:      types.Source{Name: "Example Wire"},
		PublishedAt: t0,
		FetchedAt:   t0.Add(time.Minute),
	}
}

// Entry returns a changelog entry for articleID.
func Entry(id, articleID string, detectedAt time.Time) types.ChangelogEntry {
	return types.ChangelogEntry{
		ID:            id,
		ArticleID:     articleID,
		ArticleURL:    "https://news.example/" + articleID,
		ArticleTitle:  "new title",
		Field:         types.FieldTitle,
		PreviousValue: "old title",
		NewValue:      "new title",
		DetectedAt:    detectedAt,
		ChangeType:    types.ChangeUpdate,
	}
}

func testEmptyState(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	articles, err := repo.GetArticles(ctx)
	require.NoError(t, err)
	assert.NotNil(t, articles)
	assert.Empty(t, articles)

	entries, err := repo.ListChangelog(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := repo.CountChangelog(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.GetGraph(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	clusters, err := repo.GetClusters(ctx)
	require.NoError(t, err)
	assert.NotNil(t, clusters)
	assert.Empty(t, clusters)

	_, err = repo.GetAIConfig(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testCommitArticles(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	a := Article("a1", "Fed raises rates")
	require.NoError(t, repo.CommitArticles(ctx, []types.Article{a}, nil))

	got, err := repo.GetArticles(ctx)
	require.NoError(t, err)
	require.Contains(t, got, "a1")
	assert.Equal(t, a, got["a1"])

	updated := a
	updated.Title = "Fed raises rates: correction issued"
	entry := Entry("c1", "a1", t0.Add(time.Hour))
	require.NoError(t, repo.CommitArticles(ctx, []types.Article{updated, Article("a2", "Markets react")}, []types.ChangelogEntry{entry}))

	got, err = repo.GetArticles(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, updated.Title, got["a1"].Title)

	entries, err := repo.ListChangelog(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[0])

	require.NoError(t, repo.CommitArticles(ctx, nil, nil))
	n, err := repo.CountChangelog(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testChangelogOrderAndFilter(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CommitArticles(ctx, nil, []types.ChangelogEntry{
		Entry("c1", "a1", t0),
		Entry("c2", "a2", t0.Add(time.Minute)),
	}))
	require.NoError(t, repo.CommitArticles(ctx, nil, []types.ChangelogEntry{
		Entry("c3", "a1", t0.Add(2*time.Minute)),
	}))

	all, err := repo.ListChangelog(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	a1, err := repo.ListChangelog(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, a1, 2)
	assert.Equal(t, "c1", a1[0].ID)
	assert.Equal(t, "c3", a1[1].ID)

	n, err := repo.CountChangelog(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.CountChangelog(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testResetChangelog(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CommitArticles(ctx, []types.Article{Article("a1", "t")}, []types.ChangelogEntry{Entry("c1", "a1", t0)}))
	require.NoError(t, repo.ResetChangelog(ctx))

	n, err := repo.CountChangelog(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	articles, err := repo.GetArticles(ctx)
	require.NoError(t, err)
	assert.Len(t, articles, 1, "reset must not touch the article cache")
}

func testReplaceGraph(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	first := &types.EntityGraph{
		Entities: []types.Entity{
			{ID: "federalreserve", Name: "Federal Reserve", Type: types.EntityOrganization, ArticleIDs: []string{"a1"}, MentionCount: 1},
			{ID: "examplewire", Name: "Example Wire", Type: types.EntitySource, ArticleIDs: []string{"a1"}, MentionCount: 1},
		},
		Relations:   []types.Relation{{SourceID: "examplewire", TargetID: "federalreserve", Strength: 1}},
		LastUpdated: t0,
	}
	require.NoError(t, repo.ReplaceGraph(ctx, first))

	got, err := repo.GetGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := &types.EntityGraph{Entities: []types.Entity{}, Relations: []types.Relation{}, LastUpdated: t0.Add(time.Hour)}
	require.NoError(t, repo.ReplaceGraph(ctx, second))

	got, err = repo.GetGraph(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Entities)
	assert.True(t, second.LastUpdated.Equal(got.LastUpdated))
}

func testReplaceClusters(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	c := types.StoryCluster{
		ID:            "s1",
		Title:         "Rates",
		Summary:       "The Fed raised rates.",
		ArticleIDs:    []string{"a1", "a2"},
		FirstSeenAt:   t0,
		LastUpdatedAt: t0.Add(time.Hour),
		UpdateCount:   1,
		Significance:  types.SignificanceMedium,
		Topics:        []string{"economy"},
		Changelog:     []types.ChangelogEntry{Entry("h1", "s1", t0)},
	}
	require.NoError(t, repo.ReplaceClusters(ctx, []types.StoryCluster{c}))

	got, err := repo.GetClusters(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c, got[0])

	require.NoError(t, repo.ReplaceClusters(ctx, nil))
	got, err = repo.GetClusters(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testAIConfig(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	cfg := &types.AIConfig{Provider: "anthropic", BaseURL: "https://api.anthropic.com", APIKey: "k", Model: "m"}
	require.NoError(t, repo.SaveAIConfig(ctx, cfg))

	got, err := repo.GetAIConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
