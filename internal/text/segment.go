// Package text splits narration into sentence units and batch input into
// independent texts.
package text

import (
	"regexp"
	"strings"
)

var (
	sentenceRe  = regexp.MustCompile(`[^。！？.!?\n]+[。！？.!?\n]?|[^。！？.!?\n]+$`)
	batchSepRe  = regexp.MustCompile(`\n\s*---\s*\n|\n{2,}`)
	titleStrip  = regexp.MustCompile(`[。！？.!?\s]`)
	titleLength = 6
)

// Segment splits text into sentence units at terminal punctuation
// (.!?。！？) and line breaks. The result always holds at least one unit:
// the trimmed input itself when no unit survives trimming.
func Segment(s string) []string {
	raw := strings.TrimSpace(s)

	var units []string
	for _, m := range sentenceRe.FindAllString(raw, -1) {
		if u := strings.TrimSpace(m); u != "" {
			units = append(units, u)
		}
	}

	if len(units) == 0 {
		return []string{raw}
	}
	return units
}

// SplitBatch splits a batch document into texts separated by a line holding
// only "---" or by one or more blank lines.
func SplitBatch(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var texts []string
	for _, part := range batchSepRe.Split(s, -1) {
		if t := strings.TrimSpace(part); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// FallbackTitle derives a short title from the first runes of the text,
// used when prompt generation produced none.
func FallbackTitle(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > titleLength {
		r = r[:titleLength]
	}
	return titleStrip.ReplaceAllString(string(r), "")
}
