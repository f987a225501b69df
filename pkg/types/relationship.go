package types

// Relation is an undirected co-occurrence edge between two entities.
// SourceID is always the lexically smaller endpoint, so a pair has exactly one
// key. Strength counts the articles in which both endpoints appear.
type Relation struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Strength int    `json:"strength"`
}

// RelationKey returns the canonical key for the unordered pair (a, b) and the
// endpoints in sorted order.
func RelationKey(a, b string) (key, source, target string) {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b, a, b
}

// Other returns the endpoint of r that is not id, or "" when id is not an
// endpoint.
func (r Relation) Other(id string) string {
	switch id {
	case r.SourceID:
		return r.TargetID
	case r.TargetID:
		return r.SourceID
	}
	return ""
}
