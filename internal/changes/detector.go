// Package changes detects edits to articles between fetches and records them
// in the append-only changelog.
package changes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

// Result is the outcome of one ProcessArticles call.
type Result struct {
	// Entries are the changelog entries created by this call, in input order.
	Entries []types.ChangelogEntry `json:"entries"`
	// New counts first sightings; Updated counts articles seen before.
	New     int `json:"new"`
	Updated int `json:"updated"`
	// Skipped counts articles dropped for failing validation.
	Skipped int `json:"skipped"`
	// PersistErr is set when the cache or changelog could not be read or
	// written. Entries are still returned.
	PersistErr error `json:"-"`
}

// Detector diffs incoming articles against the article cache.
type Detector struct {
	store storage.ArticleStore
	now   func() time.Time
	newID func() string
}

// NewDetector creates a Detector persisting through store.
func NewDetector(store storage.ArticleStore) *Detector {
	return &Detector{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// ProcessArticles diffs each article against its cached version, creates a
// changelog entry per changed field and overwrites the cache. The new cache
// state and the entries are committed as one unit.
//
// Articles are processed in order, so a batch holding two versions of the
// same id diffs the second against the first. Invalid articles are logged
// and skipped. The returned error is non-nil only for a batch with no valid
// article or a cancelled context.
func (d *Detector) ProcessArticles(ctx context.Context, articles []types.Article) (*Result, error) {
	articles, rejected := types.SplitValid(articles)
	if len(rejected) > 0 && len(articles) == 0 {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, errors.Join(rejected...))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Entries: []types.ChangelogEntry{}, Skipped: len(rejected)}
	for _, err := range rejected {
		log.Printf("changes: skipping %v", err)
	}

	cache, err := d.store.GetArticles(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("changes: failed to load article cache, treating as empty: %v", err)
		res.PersistErr = err
		cache = make(map[string]types.Article)
	}

	detectedAt := d.now()
	order := make([]string, 0, len(articles))
	latest := make(map[string]types.Article, len(articles))

	for _, next := range articles {
		prev, seen := cache[next.ID]
		if !seen {
			res.New++
		} else {
			res.Updated++
			if prev.Title != next.Title {
				res.Entries = append(res.Entries, d.entry(next, types.FieldTitle, prev.Title, next.Title, detectedAt))
			}
			if prev.Description != "" && next.Description != "" && prev.Description != next.Description {
				res.Entries = append(res.Entries, d.entry(next, types.FieldDescription, prev.Description, next.Description, detectedAt))
			}
		}

		cache[next.ID] = next
		if _, ok := latest[next.ID]; !ok {
			order = append(order, next.ID)
		}
		latest[next.ID] = next
	}

	updated := make([]types.Article, 0, len(order))
	for _, id := range order {
		updated = append(updated, latest[id])
	}

	if err := d.store.CommitArticles(ctx, updated, res.Entries); err != nil {
		log.Printf("changes: failed to persist %d articles and %d changelog entries: %v", len(updated), len(res.Entries), err)
		res.PersistErr = err
	}

	return res, nil
}

func (d *Detector) entry(next types.Article, field types.ChangeField, before, after string, at time.Time) types.ChangelogEntry {
	return types.ChangelogEntry{
		ID:            d.newID(),
		ArticleID:     next.ID,
		ArticleURL:    next.URL,
		ArticleTitle:  next.Title,
		Field:         field,
		PreviousValue: before,
		NewValue:      after,
		DetectedAt:    at,
		ChangeType:    ClassifyChange(before, after, field),
	}
}
