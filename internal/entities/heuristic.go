package entities

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/scrypster/storyline/internal/textutil"
	"github.com/scrypster/storyline/pkg/types"
)

// Candidate is one entity mention found in an article's text.
type Candidate struct {
	Name string
	Type types.EntityType
}

// Capitalized words that start sentences or headlines far more often than
// they name anything.
var heuristicStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "nor": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "by": {},
	"from": {}, "with": {}, "as": {}, "into": {}, "after": {}, "before": {},
	"over": {}, "under": {}, "amid": {}, "during": {}, "since": {}, "until": {},
	"i": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {}, "you": {},
	"his": {}, "her": {}, "its": {}, "our": {}, "their": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "when": {}, "while": {}, "where": {},
	"what": {}, "who": {}, "why": {}, "how": {}, "if": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "will": {}, "can": {}, "new": {}, "more": {},
	"breaking": {}, "update": {}, "live": {}, "exclusive": {}, "watch": {},
	"opinion": {}, "analysis": {}, "report": {}, "video": {},
}

var organizationIndicators = map[string]struct{}{
	"inc": {}, "corp": {}, "corporation": {}, "llc": {}, "ltd": {}, "co": {},
	"company": {}, "group": {}, "holdings": {}, "bank": {}, "university": {},
	"agency": {}, "association": {}, "institute": {}, "foundation": {},
	"ministry": {}, "department": {}, "council": {}, "committee": {},
	"commission": {}, "party": {}, "union": {}, "fund": {}, "bureau": {},
}

var locationIndicators = map[string]struct{}{
	"city": {}, "street": {}, "avenue": {}, "road": {}, "county": {},
	"state": {}, "province": {}, "district": {}, "region": {}, "river": {},
	"lake": {}, "mountain": {}, "mountains": {}, "island": {}, "islands": {},
	"valley": {}, "coast": {}, "bay": {}, "park": {}, "square": {},
	"bridge": {}, "port": {},
}

// phraseTerminators end a run of capitalized words when a token ends with one.
const phraseTerminators = ",.;:!?"

// ExtractHeuristic finds runs of consecutive capitalized, non-stopword tokens
// in text and classifies each run by keyword indicators. Repeated mentions
// are returned repeatedly.
func ExtractHeuristic(text string) []Candidate {
	var out []Candidate
	var run []string

	flush := func() {
		if len(run) == 0 {
			return
		}
		phrase := strings.Join(run, " ")
		if utf8.RuneCountInString(phrase) > 2 {
			out = append(out, Candidate{Name: phrase, Type: classifyPhrase(run)})
		}
		run = run[:0]
	}

	for _, token := range strings.Fields(text) {
		word := textutil.LettersOnly(token)
		if isCapitalized(word) && !isHeuristicStopWord(word) {
			run = append(run, word)
			if strings.ContainsAny(lastRune(token), phraseTerminators) {
				flush()
			}
			continue
		}
		flush()
	}
	flush()

	return out
}

func classifyPhrase(words []string) types.EntityType {
	for _, w := range words {
		if _, ok := organizationIndicators[strings.ToLower(w)]; ok {
			return types.EntityOrganization
		}
	}
	for _, w := range words {
		if _, ok := locationIndicators[strings.ToLower(w)]; ok {
			return types.EntityLocation
		}
	}
	if len(words) >= 2 && len(words) <= 3 {
		return types.EntityPerson
	}
	return types.EntityTopic
}

func isCapitalized(word string) bool {
	r, _ := utf8.DecodeRuneInString(word)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

func isHeuristicStopWord(word string) bool {
	_, ok := heuristicStopWords[strings.ToLower(word)]
	return ok
}

func lastRune(s string) string {
	r, _ := utf8.DecodeLastRuneInString(s)
	return string(r)
}
