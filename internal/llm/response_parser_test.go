package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"key": "value"}`, `{"key": "value"}`},
		{"plain array", `[{"a":1},{"b":2}]`, `[{"a":1},{"b":2}]`},
		{"markdown fence", "```json\n[1, 2]\n```", `[1, 2]`},
		{"surrounding text", "Here you go:\n{\"key\": \"value\"}\nThanks", `{"key": "value"}`},
		{"brackets inside strings", `{"text": "a ] b } c"}`, `{"text": "a ] b } c"}`},
		{"escaped quotes", `{"text": "He said \"hi\""} trailing`, `{"text": "He said \"hi\""}`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.input))
		})
	}
}

func TestParseEntityCandidates(t *testing.T) {
	got, err := ParseEntityCandidates("```json\n" + `[
		{"name":"Jerome Powell","type":"person"},
		{"name":"  ","type":"person"},
		{"name":"Federal Reserve","type":"Organization"},
		{"name":"inflation","type":"concept"},
		{"name":"Reuters","type":"source"}
	]` + "\n```")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, EntityCandidate{Name: "Jerome Powell", Type: "person"}, got[0])
	assert.Equal(t, "organization", got[1].Type)
	assert.Equal(t, "topic", got[2].Type, "unknown types become topic")
	assert.Equal(t, "topic", got[3].Type, "source is reserved for feed names")

	_, err = ParseEntityCandidates(`{"entities": []}`)
	assert.Error(t, err)
	_, err = ParseEntityCandidates(`not json`)
	assert.Error(t, err)
}

func TestParseClusterSummary(t *testing.T) {
	s, err := ParseClusterSummary(`Sure! {"title":"Rates rise","summary":"The Fed raised rates.","topics":["economy"],"significance":"HIGH"}`)
	require.NoError(t, err)
	assert.Equal(t, "Rates rise", s.Title)
	assert.Equal(t, []string{"economy"}, s.Topics)
	assert.Equal(t, "high", s.Significance)

	s, err = ParseClusterSummary(`{"title":"T","summary":"S","significance":"critical"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{}, s.Topics)
	assert.Equal(t, "low", s.Significance)

	_, err = ParseClusterSummary(`{"summary":"no title"}`)
	assert.Error(t, err)
}

func TestParseChangeDescriptors(t *testing.T) {
	d, err := ParseChangeDescriptors(`[
		{"type":"correction","description":"Casualty figure revised","significance":"medium"},
		{"type":"rumor","description":"New source cited","significance":""},
		{"type":"update","description":""}
	]`)
	require.NoError(t, err)
	require.Len(t, d, 2)
	assert.Equal(t, "correction", d[0].Type)
	assert.Equal(t, "medium", d[0].Significance)
	assert.Equal(t, "update", d[1].Type)
	assert.Equal(t, "low", d[1].Significance)

	d, err = ParseChangeDescriptors(`[]`)
	require.NoError(t, err)
	assert.Empty(t, d)
}

func TestPrompts_IncludeArticles(t *testing.T) {
	articles := []types.Article{
		{ID: "a1", Title: "Fed raises rates", Description: "<p>Quarter point</p>", Source: types.Source{Name: "Wire"}, PublishedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "a2", Title: "Markets react", Source: types.Source{Name: "Daily"}, PublishedAt: time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)},
	}

	p := ClusterSummaryPrompt(articles)
	assert.Contains(t, p, "1. [Wire] Fed raises rates (2025-03-01T12:00:00Z)")
	assert.Contains(t, p, "   Quarter point")
	assert.Contains(t, p, "2. [Daily] Markets react")
	assert.NotContains(t, p, "<p>")

	p = ChangeDetectionPrompt("Old summary", articles)
	assert.Contains(t, p, "PREVIOUS SUMMARY:\nOld summary")
	assert.True(t, strings.Contains(p, "retraction"))

	assert.Contains(t, EntityExtractionPrompt("Fed raises rates. d"), "Fed raises rates. d")
}

func TestTally(t *testing.T) {
	var tally Tally
	tally.Add(Remote(1).Source, nil)
	fb := Fallback(2, assert.AnError)
	tally.Add(fb.Source, fb.Err)
	tally.Add(SourceFallback, nil)

	assert.Equal(t, Tally{Remote: 1, Fallback: 2, Failures: 1}, tally)
	assert.False(t, fb.UsedRemote())
}
