package types

import "time"

// Source identifies the outlet that published an article.
type Source struct {
	Name string `json:"name"`
}

// Article is the last known state of a single fetched news item.
// Identity is ID; a newer fetch for the same ID overwrites the cached copy
// after it has been diffed by the change detector.
type Article struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Source      Source    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Text returns the title and description joined the way extraction and
// clustering consume them.
func (a Article) Text() string {
	if a.Description == "" {
		return a.Title
	}
	return a.Title + ". " + a.Description
}
