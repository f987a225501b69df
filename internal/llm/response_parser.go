package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/storyline/pkg/types"
)

// EntityCandidate is one entity named by the completion service.
type EntityCandidate struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ClusterSummary is the structured summary returned for one story cluster.
type ClusterSummary struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	Topics       []string `json:"topics"`
	Significance string   `json:"significance"`
}

// ChangeDescriptor is one narrative change detected between a story's previous
// summary and its current articles.
type ChangeDescriptor struct {
	Type         string `json:"type"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Models sometimes wrap the JSON in code fences or add a sentence around it
// despite the instructions.
func ExtractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// ParseEntityCandidates parses a JSON array of {name, type}. Entries without
// a name are dropped; unknown types become topic.
func ParseEntityCandidates(raw string) ([]EntityCandidate, error) {
	var parsed []EntityCandidate
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse entity JSON: %w", err)
	}

	valid := make([]EntityCandidate, 0, len(parsed))
	for _, c := range parsed {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		t := types.EntityType(strings.ToLower(strings.TrimSpace(c.Type)))
		if !t.IsValid() || t == types.EntitySource {
			t = types.EntityTopic
		}
		c.Type = string(t)
		valid = append(valid, c)
	}
	return valid, nil
}

// ParseClusterSummary parses a {title, summary, topics, significance} object.
// A reply without a title is rejected so the caller falls back.
func ParseClusterSummary(raw string) (*ClusterSummary, error) {
	var s ClusterSummary
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &s); err != nil {
		return nil, fmt.Errorf("failed to parse summary JSON: %w", err)
	}
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return nil, fmt.Errorf("summary JSON has no title")
	}
	if s.Topics == nil {
		s.Topics = []string{}
	}
	s.Significance = string(NormalizeSignificance(s.Significance))
	return &s, nil
}

// ParseChangeDescriptors parses a JSON array of change descriptors. An empty
// array is a valid answer meaning nothing changed.
func ParseChangeDescriptors(raw string) ([]ChangeDescriptor, error) {
	var parsed []ChangeDescriptor
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse change JSON: %w", err)
	}

	valid := make([]ChangeDescriptor, 0, len(parsed))
	for _, d := range parsed {
		d.Description = strings.TrimSpace(d.Description)
		if d.Description == "" {
			continue
		}
		ct := types.ChangeType(strings.ToLower(strings.TrimSpace(d.Type)))
		if !ct.IsValid() {
			ct = types.ChangeUpdate
		}
		d.Type = string(ct)
		d.Significance = string(NormalizeSignificance(d.Significance))
		valid = append(valid, d)
	}
	return valid, nil
}

// NormalizeSignificance maps free-form model output onto the known levels,
// defaulting to low.
func NormalizeSignificance(s string) types.Significance {
	sig := types.Significance(strings.ToLower(strings.TrimSpace(s)))
	if sig.IsValid() {
		return sig
	}
	return types.SignificanceLow
}
