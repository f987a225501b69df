// Package similarity scores how alike two texts or two articles are.
//
// Jaccard is the plain word-overlap score used to classify edits. Blend is the
// clustering variant: a filtered word overlap of title and description mixed
// with how close the two articles were published.
package similarity

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

const (
	// LexicalWeight is the share of Blend contributed by word overlap.
	LexicalWeight = 0.8
	// TemporalWeight is the share of Blend contributed by publish-time proximity.
	TemporalWeight = 0.2
	// ProximityWindow is the publish-time gap at which proximity reaches zero.
	ProximityWindow = 7 * 24 * time.Hour
	// minWordLen is the shortest word kept for clustering; shorter words are dropped.
	minWordLen = 4
)

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "amid": {}, "been": {}, "could": {},
	"from": {}, "have": {}, "into": {}, "more": {}, "over": {}, "said": {},
	"says": {}, "than": {}, "that": {}, "their": {}, "there": {}, "they": {},
	"this": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "will": {}, "with": {}, "would": {},
}

// Jaccard returns |A∩B| / |A∪B| over the lower-cased, whitespace-split word
// sets of a and b. Identical strings score 1; if exactly one is empty the
// score is 0.
func Jaccard(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return jaccard(rawWords(a), rawWords(b))
}

func rawWords(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Features is the precomputed clustering view of an article.
type Features struct {
	Words       map[string]struct{}
	PublishedAt time.Time
}

// ArticleFeatures extracts the filtered word set of the article's title and
// description. Markup is stripped, punctuation removed from each word, and
// short words and stop words dropped.
func ArticleFeatures(a types.Article) Features {
	text := textutil.PlainText(a.Title + " " + a.Description)
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(w)) < minWordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return Features{Words: set, PublishedAt: a.PublishedAt}
}

// TimeProximity is 1 for articles published at the same instant, falling
// linearly to 0 at ProximityWindow apart.
func TimeProximity(a, b time.Time) float64 {
	gap := a.Sub(b)
	if gap < 0 {
		gap = -gap
	}
	if gap >= ProximityWindow {
		return 0
	}
	days := gap.Hours() / 24
	return math.Max(0, 1-days/7)
}

// Blend scores two precomputed feature sets:
// 0.8 * wordJaccard + 0.2 * timeProximity.
func Blend(a, b Features) float64 {
	return LexicalWeight*jaccard(a.Words, b.Words) + TemporalWeight*TimeProximity(a.PublishedAt, b.PublishedAt)
}

// Articles is Blend applied directly to two articles.
func Articles(a, b types.Article) float64 {
	return Blend(ArticleFeatures(a), ArticleFeatures(b))
}
