// Package subtitle wraps, times and draws the burned-in caption plate.
package subtitle

import (
	"strings"
	"unicode"
)

// Measurer returns the rendered width of s in pixels.
type Measurer interface {
	Measure(s string) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(s string) float64

// Measure implements Measurer
func (f MeasureFunc) Measure(s string) float64 { return f(s) }

// Wrap breaks text into lines no wider than maxWidth. Text containing
// whitespace wraps on words, anything else wraps per rune. A single token
// wider than maxWidth keeps a line of its own.
func Wrap(text string, maxWidth float64, m Measurer) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var tokens []string
	sep := ""
	if strings.IndexFunc(text, unicode.IsSpace) >= 0 {
		tokens = strings.Fields(text)
		sep = " "
	} else {
		for _, r := range text {
			tokens = append(tokens, string(r))
		}
	}

	var lines []string
	line := ""
	for _, tok := range tokens {
		test := tok
		if line != "" {
			test = line + sep + tok
		}
		if line != "" && m.Measure(test) > maxWidth {
			lines = append(lines, line)
			line = tok
			continue
		}
		line = test
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
