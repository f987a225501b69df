// Package types defines the core data structures for the Storyline system.
// These types represent articles and their edit history, the entity
// co-occurrence graph, and story clusters with their accumulated changelog.
package types

import (
	"errors"
	"fmt"
)

// ErrInvalidArticle indicates that an article is missing required fields.
var ErrInvalidArticle = errors.New("invalid article")

// Validate checks the fields every component relies on.
func (a *Article) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil article", ErrInvalidArticle)
	}
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArticle)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: title is required for article %s", ErrInvalidArticle, a.ID)
	}
	return nil
}

// SplitValid separates the articles that pass Validate from those that do
// not. rejected holds one error per dropped article, naming its position.
func SplitValid(articles []Article) (valid []Article, rejected []error) {
	valid = make([]Article, 0, len(articles))
	for i := range articles {
		if err := articles[i].Validate(); err != nil {
			rejected = append(rejected, fmt.Errorf("article %d: %w", i, err))
			continue
		}
		valid = append(valid, articles[i])
	}
	return valid, rejected
}
