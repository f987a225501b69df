package stories

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/similarity"
	"github.com/scrypster/storyline/pkg/types"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func art(id, title string, published time.Time) types.Article {
	return types.Article{ID: id, Title: title, Source: types.Source{Name: "Wire"}, PublishedAt: published}
}

func ids(group []types.Article) []string {
	out := make([]string, len(group))
	for i, a := range group {
		out[i] = a.ID
	}
	return out
}

func TestPartition_DisjointVocabulariesStaySeparate(t *testing.T) {
	a := art("a1", "Parliament debates budget", t0)
	b := art("a2", "Hurricane batters Florida coastline", t0.Add(24*time.Hour))

	score := similarity.Articles(a, b)
	assert.InDelta(t, 0.2*(1-1.0/7), score, 1e-9)
	assert.Less(t, score, DefaultThreshold)

	groups := Partition([]types.Article{a, b}, DefaultThreshold)
	require.Len(t, groups, 2)
}

func TestPartition_SimilarArticlesJoin(t *testing.T) {
	groups := Partition([]types.Article{
		art("a1", "Federal Reserve raises interest rates", t0),
		art("a2", "Hurricane batters Florida coastline", t0),
		art("a3", "Federal Reserve raises interest rates again", t0.Add(time.Hour)),
	}, DefaultThreshold)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a1", "a3"}, ids(groups[0]))
	assert.Equal(t, []string{"a2"}, ids(groups[1]))
}

func TestPartition_SeedOnlyMembershipDependsOnOrder(t *testing.T) {
	a := art("a", "alpha bravo charlie delta", t0)
	b := art("b", "alpha bravo charlie delta echo foxtrot", t0.Add(8*24*time.Hour))
	c := art("c", "charlie delta echo foxtrot", t0.Add(16*24*time.Hour))

	groups := Partition([]types.Article{a, b, c}, DefaultThreshold)
	require.Len(t, groups, 2, "c is similar to b but not to the seed a")
	assert.Equal(t, []string{"a", "b"}, ids(groups[0]))

	groups = Partition([]types.Article{b, a, c}, DefaultThreshold)
	require.Len(t, groups, 1, "with b as seed all three join")
}

func TestPartition_CoversEveryArticleOnce(t *testing.T) {
	titles := []string{
		"Federal Reserve raises interest rates",
		"Interest rates climb after Federal Reserve decision",
		"Hurricane batters Florida coastline",
		"Florida coastline braces for hurricane",
		"Championship final ends in penalties",
		"Penalties decide championship final",
		"Election results delayed in several states",
	}
	var articles []types.Article
	for i := 0; i < 21; i++ {
		articles = append(articles, art(fmt.Sprintf("a%02d", i), titles[i%len(titles)], t0.Add(time.Duration(i)*7*time.Hour)))
	}

	groups := Partition(articles, DefaultThreshold)

	var got []string
	for _, g := range groups {
		require.NotEmpty(t, g)
		got = append(got, ids(g)...)
	}
	sort.Strings(got)
	want := ids(articles)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(nil, DefaultThreshold))
}
