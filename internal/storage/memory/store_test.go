package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/storage/storagetest"
	"github.com/scrypster/storyline/pkg/types"
)

func TestStore_Repository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return NewStore()
	})
}

func TestStore_RejectsArticleWithoutID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.CommitArticles(ctx,
		[]types.Article{storagetest.Article("a1", "ok"), {Title: "no id"}},
		[]types.ChangelogEntry{storagetest.Entry("c1", "a1", storagetest.Article("a1", "").PublishedAt)},
	)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, storage.RecordArticles, perr.Record)

	articles, _ := s.GetArticles(ctx)
	assert.Empty(t, articles, "a failed commit applies nothing")
	n, _ := s.CountChangelog(ctx, "")
	assert.Zero(t, n)
}

func TestStore_FutureSchemaVersion(t *testing.T) {
	s := NewStore()
	s.PutRawRecord(storage.RecordGraph, []byte(`{"schema_version":99,"data":{}}`))

	_, err := s.GetGraph(context.Background())
	assert.True(t, errors.Is(err, storage.ErrSchemaVersion))
}

func TestStore_CorruptRecord(t *testing.T) {
	s := NewStore()
	s.PutRawRecord(storage.RecordClusters, []byte(`not json`))

	_, err := s.GetClusters(context.Background())
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "read", perr.Op)
}

func TestStore_ReturnedMapIsACopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CommitArticles(ctx, []types.Article{storagetest.Article("a1", "t")}, nil))

	got, _ := s.GetArticles(ctx)
	delete(got, "a1")

	again, _ := s.GetArticles(ctx)
	assert.Len(t, again, 1)
}
