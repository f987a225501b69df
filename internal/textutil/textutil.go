// Package textutil holds the small text helpers shared by extraction,
// similarity scoring and story summarization.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// PlainText returns s with any HTML markup removed and whitespace collapsed.
// Feed descriptions frequently carry inline markup; scoring and extraction
// only look at visible text. Input without a '<' is returned whitespace-collapsed.
func PlainText(s string) string {
	if !strings.Contains(s, "<") {
		return collapseSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpace(s)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeID case-folds name and strips every character that is not a
// letter or digit. "Federal Reserve", "federal-reserve" and "FEDERAL RESERVE"
// all normalize to "federalreserve".
func NormalizeID(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens s to at most max runes. It never splits a multi-byte rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// LettersOnly strips every non-letter rune from token.
func LettersOnly(token string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, token)
}
