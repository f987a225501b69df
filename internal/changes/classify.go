package changes

import (
	"strings"

	"github.com/scrypster/storyline/internal/similarity"
	"github.com/scrypster/storyline/pkg/types"
)

// Keyword sets checked in priority order. A keyword counts only when it is
// present in the new value and absent from the previous one.
var (
	retractionKeywords    = []string{"retracted", "withdrawn", "removed", "deleted", "correction:"}
	correctionKeywords    = []string{"corrected", "updated", "fixed", "error", "correction"}
	clarificationKeywords = []string{"clarification", "clarified", "added context", "editor's note"}
)

// Similarity thresholds for edits that carry no keyword.
const (
	rewriteThreshold = 0.5
	minorThreshold   = 0.8
)

// ClassifyChange assigns a change type to the edit previous -> next of field.
// Keyword rules win over similarity; among keywords, retraction beats
// correction beats clarification.
func ClassifyChange(previous, next string, field types.ChangeField) types.ChangeType {
	prev := strings.ToLower(previous)
	cur := strings.ToLower(next)

	switch {
	case newlyContains(prev, cur, retractionKeywords):
		return types.ChangeRetraction
	case newlyContains(prev, cur, correctionKeywords):
		return types.ChangeCorrection
	case newlyContains(prev, cur, clarificationKeywords):
		return types.ChangeClarification
	}

	sim := similarity.Jaccard(previous, next)
	switch {
	case sim < rewriteThreshold:
		return types.ChangeCorrection
	case sim < minorThreshold:
		if field == types.FieldTitle {
			return types.ChangeCorrection
		}
		return types.ChangeUpdate
	default:
		return types.ChangeUpdate
	}
}

func newlyContains(prev, cur string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(cur, kw) && !strings.Contains(prev, kw) {
			return true
		}
	}
	return false
}
