package changes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/storage/memory"
	"github.com/scrypster/storyline/pkg/types"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector(store storage.ArticleStore) *Detector {
	d := NewDetector(store)
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}
	d.now = func() time.Time { return t0.Add(time.Hour) }
	return d
}

func article(id, title, description string) types.Article {
	return types.Article{
		ID:          id,
		URL:         "https://news.example/" + id,
		Title:       title,
		Description: description,
		Source:      types.Source{Name: "Wire"},
		PublishedAt: t0,
		FetchedAt:   t0,
	}
}

func TestProcessArticles_FirstSightingThenCorrection(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	a := article("a1", "Fed raises rates", "d")
	res, err := d.ProcessArticles(ctx, []types.Article{a})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.New)

	cache, _ := store.GetArticles(ctx)
	assert.Equal(t, a, cache["a1"])

	a2 := article("a1", "Fed raises rates: correction issued", "d")
	res, err = d.ProcessArticles(ctx, []types.Article{a2})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	e := res.Entries[0]
	assert.Equal(t, types.FieldTitle, e.Field)
	assert.Equal(t, types.ChangeCorrection, e.ChangeType)
	assert.Equal(t, "Fed raises rates", e.PreviousValue)
	assert.Equal(t, "Fed raises rates: correction issued", e.NewValue)
	assert.Equal(t, "a1", e.ArticleID)
	assert.Equal(t, a2.URL, e.ArticleURL)
	assert.Equal(t, t0.Add(time.Hour), e.DetectedAt)

	cache, _ = store.GetArticles(ctx)
	assert.Equal(t, a2, cache["a1"])

	logged, _ := store.ListChangelog(ctx, "a1")
	assert.Equal(t, res.Entries, logged)
}

func TestProcessArticles_Idempotent(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	batch := []types.Article{article("a1", "One", "first"), article("a2", "Two", "second")}
	_, err := d.ProcessArticles(ctx, batch)
	require.NoError(t, err)

	res, err := d.ProcessArticles(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 2, res.Updated)

	n, _ := store.CountChangelog(ctx, "")
	assert.Zero(t, n)
}

func TestProcessArticles_DescriptionRules(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	_, err := d.ProcessArticles(ctx, []types.Article{
		article("a1", "Title", "Storm hits northern coast"),
		article("a2", "Title", ""),
		article("a3", "Title", "Something"),
	})
	require.NoError(t, err)

	res, err := d.ProcessArticles(ctx, []types.Article{
		article("a1", "Title", "Storm hits southern coast"),
		article("a2", "Title", "now has a description"),
		article("a3", "Title", ""),
	})
	require.NoError(t, err)

	require.Len(t, res.Entries, 1, "descriptions are only diffed when both sides are non-empty")
	assert.Equal(t, "a1", res.Entries[0].ArticleID)
	assert.Equal(t, types.FieldDescription, res.Entries[0].Field)
	assert.Equal(t, types.ChangeUpdate, res.Entries[0].ChangeType)

	cache, _ := store.GetArticles(ctx)
	assert.Equal(t, "", cache["a3"].Description, "cache is overwritten even without an entry")
}

func TestProcessArticles_TitleAndDescriptionBothChange(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	_, _ = d.ProcessArticles(ctx, []types.Article{article("a1", "Old headline", "Old body text")})
	res, err := d.ProcessArticles(ctx, []types.Article{article("a1", "New headline entirely", "Body text retracted")})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, types.FieldTitle, res.Entries[0].Field)
	assert.Equal(t, types.FieldDescription, res.Entries[1].Field)
	assert.Equal(t, types.ChangeRetraction, res.Entries[1].ChangeType)
}

func TestProcessArticles_SameIDTwiceInBatch(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	res, err := d.ProcessArticles(ctx, []types.Article{
		article("a1", "Senate passes bill", "d"),
		article("a1", "Senate passes bill: retracted", "d"),
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, types.ChangeRetraction, res.Entries[0].ChangeType)

	cache, _ := store.GetArticles(ctx)
	assert.Equal(t, "Senate passes bill: retracted", cache["a1"].Title)
}

func TestProcessArticles_InvalidInput(t *testing.T) {
	d := newTestDetector(memory.NewStore())
	_, err := d.ProcessArticles(context.Background(), []types.Article{{ID: "a1"}})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestProcessArticles_SkipsInvalidArticles(t *testing.T) {
	store := memory.NewStore()
	d := newTestDetector(store)
	ctx := context.Background()

	res, err := d.ProcessArticles(ctx, []types.Article{
		article("a1", "Storm nears coast", ""),
		{ID: "a2"},
		article("a3", "Senate passes bill", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.New)
	assert.Equal(t, 1, res.Skipped)

	cache, err := store.GetArticles(ctx)
	require.NoError(t, err)
	assert.Len(t, cache, 2)
	assert.NotContains(t, cache, "a2")
}

func TestProcessArticles_CancelledContext(t *testing.T) {
	d := newTestDetector(memory.NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.ProcessArticles(ctx, []types.Article{article("a1", "t", "")})
	assert.ErrorIs(t, err, context.Canceled)
}

type mockArticleStore struct {
	mock.Mock
}

func (m *mockArticleStore) GetArticles(ctx context.Context) (map[string]types.Article, error) {
	args := m.Called(ctx)
	cache, _ := args.Get(0).(map[string]types.Article)
	return cache, args.Error(1)
}

func (m *mockArticleStore) CommitArticles(ctx context.Context, articles []types.Article, entries []types.ChangelogEntry) error {
	return m.Called(ctx, articles, entries).Error(0)
}

func TestProcessArticles_PersistFailureStillReturnsEntries(t *testing.T) {
	store := &mockArticleStore{}
	ctx := context.Background()
	writeErr := storage.WriteError(storage.RecordChangelog, errors.New("quota exceeded"))

	store.On("GetArticles", ctx).Return(map[string]types.Article{"a1": article("a1", "Old", "")}, nil)
	store.On("CommitArticles", ctx, mock.Anything, mock.Anything).Return(writeErr)

	d := newTestDetector(store)
	res, err := d.ProcessArticles(ctx, []types.Article{article("a1", "Completely new", "")})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)
	assert.Equal(t, writeErr, res.PersistErr)
	store.AssertExpectations(t)
}

func TestProcessArticles_UnreadableCacheTreatedAsEmpty(t *testing.T) {
	store := &mockArticleStore{}
	ctx := context.Background()

	store.On("GetArticles", ctx).Return(nil, storage.ReadError(storage.RecordArticles, errors.New("bad json")))
	store.On("CommitArticles", ctx, mock.Anything, mock.Anything).Return(nil)

	d := newTestDetector(store)
	res, err := d.ProcessArticles(ctx, []types.Article{article("a1", "t", "")})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 1, res.New)
	assert.Error(t, res.PersistErr)
}
