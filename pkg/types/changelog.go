package types

import "time"

// ChangeField names the article field a changelog entry refers to.
type ChangeField string

const (
	FieldTitle       ChangeField = "title"
	FieldDescription ChangeField = "description"
	FieldContent     ChangeField = "content"
)

// ChangeType classifies a detected edit.
type ChangeType string

const (
	ChangeUpdate        ChangeType = "update"
	ChangeCorrection    ChangeType = "correction"
	ChangeRetraction    ChangeType = "retraction"
	ChangeClarification ChangeType = "clarification"
)

// IsValid reports whether t is one of the known change types.
func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeUpdate, ChangeCorrection, ChangeRetraction, ChangeClarification:
		return true
	}
	return false
}

// ChangelogEntry is an immutable record of one field-level difference between
// two versions of the same article. Entries are append-only; the only way to
// remove them is a full reset of the log.
//
// Story clusters reuse this shape for their narrative history; those entries
// use FieldContent and carry the story-level description in NewValue.
type ChangelogEntry struct {
	ID            string       `json:"id"`
	ArticleID     string       `json:"articleId"`
	ArticleURL    string       `json:"articleUrl"`
	ArticleTitle  string       `json:"articleTitle"`
	Field         ChangeField  `json:"field"`
	PreviousValue string       `json:"previousValue"`
	NewValue      string       `json:"newValue"`
	DetectedAt    time.Time    `json:"detectedAt"`
	ChangeType    ChangeType   `json:"changeType"`
	Significance  Significance `json:"significance,omitempty"`
}
