package types

import "time"

// EntityType is the coarse category of an extracted entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityTopic        EntityType = "topic"
	EntitySource       EntityType = "source"
)

// IsValid reports whether t is one of the supported entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityLocation, EntityTopic, EntitySource:
		return true
	}
	return false
}

// Entity is a named person, organization, location, topic or source seen in
// one or more articles.
//
// ID is the normalized form of Name (case-folded, non-alphanumerics stripped),
// so differently cased or punctuated mentions collapse into one Entity.
// ArticleIDs is kept in first-seen order and never contains duplicates.
type Entity struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	ArticleIDs   []string   `json:"articleIds"`
	MentionCount int        `json:"mentionCount"`
}

// HasArticle reports whether the entity was mentioned by articleID.
func (e *Entity) HasArticle(articleID string) bool {
	for _, id := range e.ArticleIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// EntityGraph is the full entity/relation graph produced by one build.
// It replaces any previously persisted graph wholesale.
type EntityGraph struct {
	Entities    []Entity   `json:"entities"`
	Relations   []Relation `json:"relations"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Entity returns the entity with the given id, or nil.
func (g *EntityGraph) Entity(id string) *Entity {
	if g == nil {
		return nil
	}
	for i := range g.Entities {
		if g.Entities[i].ID == id {
			return &g.Entities[i]
		}
	}
	return nil
}
