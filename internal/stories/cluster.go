package stories

import (
	"sort"

	"github.com/scrypster/storyline/internal/similarity"
	"github.com/scrypster/storyline/pkg/types"
)

// DefaultThreshold is the blended similarity at which an article joins a seed.
const DefaultThreshold = 0.3

// Partition greedily groups articles. Each unassigned article, in input order,
// seeds a group; every later unassigned article whose blended similarity to
// the seed is at least threshold joins it. Membership is decided against the
// seed only, so the result depends on input order. Every article lands in
// exactly one group.
func Partition(articles []types.Article, threshold float64) [][]types.Article {
	features := make([]similarity.Features, len(articles))
	for i, a := range articles {
		features[i] = similarity.ArticleFeatures(a)
	}

	assigned := make([]bool, len(articles))
	var groups [][]types.Article

	for i := range articles {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []types.Article{articles[i]}

		for j := i + 1; j < len(articles); j++ {
			if assigned[j] {
				continue
			}
			if similarity.Blend(features[i], features[j]) >= threshold {
				assigned[j] = true
				group = append(group, articles[j])
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// byPublished returns a copy of articles sorted oldest first.
func byPublished(articles []types.Article) []types.Article {
	sorted := make([]types.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
	})
	return sorted
}
