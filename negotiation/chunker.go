package negotiation

import (
	"strings"
	"unicode/utf8"
)

// sentenceBuffer accumulates streamed reply text and releases sentence
// sized units for synthesis.
type sentenceBuffer struct {
	minChars int
	pending  string
}

// Add appends delta and returns the units that became ready. A unit is
// released only once the buffer holds at least minChars characters; it is
// the shortest prefix ending in '.', '!' or '?' followed by whitespace or
// the end of the buffer.
func (b *sentenceBuffer) Add(delta string) []string {
	b.pending += delta

	var units []string
	for utf8.RuneCountInString(b.pending) >= b.minChars {
		end := sentenceEnd(b.pending)
		if end < 0 {
			break
		}
		if unit := strings.TrimSpace(b.pending[:end]); unit != "" {
			units = append(units, unit)
		}
		b.pending = strings.TrimLeft(b.pending[end:], " \t\r\n")
	}
	return units
}

// Flush returns the trimmed remainder and empties the buffer.
func (b *sentenceBuffer) Flush() string {
	rest := strings.TrimSpace(b.pending)
	b.pending = ""
	return rest
}

// sentenceEnd returns the index just past the first terminal punctuation
// mark, or -1.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || isSpace(s[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
