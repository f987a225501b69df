package types

import "time"

// Significance ranks how important a story (or a change to it) is.
type Significance string

const (
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

// IsValid reports whether s is a known significance level.
func (s Significance) IsValid() bool {
	switch s {
	case SignificanceLow, SignificanceMedium, SignificanceHigh:
		return true
	}
	return false
}

// StoryCluster groups related articles into one evolving narrative.
//
// Membership is rebuilt from scratch on every build; only Changelog is carried
// forward from a matching cluster of the previous build.
type StoryCluster struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Summary       string           `json:"summary"`
	ArticleIDs    []string         `json:"articleIds"` // ascending by publish time
	FirstSeenAt   time.Time        `json:"firstSeenAt"`
	LastUpdatedAt time.Time        `json:"lastUpdatedAt"`
	UpdateCount   int              `json:"updateCount"`
	Significance  Significance     `json:"significance"`
	Topics        []string         `json:"topics"`
	Changelog     []ChangelogEntry `json:"changelog"`
}

// SharesTopic reports whether c and other have at least one identical topic
// string. Matching is exact; generic terms can pair unrelated stories.
func (c *StoryCluster) SharesTopic(other *StoryCluster) bool {
	for _, t := range c.Topics {
		for _, o := range other.Topics {
			if t == o {
				return true
			}
		}
	}
	return false
}
