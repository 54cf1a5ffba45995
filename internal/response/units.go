package response

import (
	"strings"
	"unicode/utf8"
)

var abbreviations = []string{
	"dr.", "mr.", "mrs.", "ms.", "jr.", "sr.", "prof.", "st.",
	"vs.", "etc.", "i.e.", "e.g.", "a.m.", "p.m.", "approx.",
}

// numberAbbreviations are also ordinary words, so they only count as
// abbreviations in front of a number ("No. 5").
var numberAbbreviations = []string{"no.", "mg.", "ml."}

// unitSplitter cuts streamed text into pronounceable units. Units are exact
// substrings of the input: whitespace after a boundary starts the next unit,
// so concatenating every unit gives back the input unchanged.
type unitSplitter struct {
	minClauseRunes int
	maxUnitRunes   int
	pending        string
}

func newUnitSplitter(minClauseRunes, maxUnitRunes int) *unitSplitter {
	return &unitSplitter{minClauseRunes: minClauseRunes, maxUnitRunes: maxUnitRunes}
}

// add appends text and returns every unit that is now complete.
func (s *unitSplitter) add(text string) []string {
	s.pending += text
	var units []string
	for {
		end := s.boundary()
		if end <= 0 {
			return units
		}
		units = append(units, s.pending[:end])
		s.pending = s.pending[end:]
	}
}

// flush returns everything still pending.
func (s *unitSplitter) flush() string {
	out := s.pending
	s.pending = ""
	return out
}

// flushWords returns the pending text up to its last whitespace, leaving a
// partial word behind. It returns "" when there is no complete word yet.
func (s *unitSplitter) flushWords() string {
	cut := strings.LastIndexAny(s.pending, " \t\n")
	if cut <= 0 || strings.TrimSpace(s.pending[:cut]) == "" {
		return ""
	}
	out := s.pending[:cut]
	s.pending = s.pending[cut:]
	return out
}

func (s *unitSplitter) hasPending() bool {
	return strings.TrimSpace(s.pending) != ""
}

// boundary returns the byte offset just past the first unit boundary in the
// pending text, or 0 when no unit is complete yet.
func (s *unitSplitter) boundary() int {
	p := s.pending
	runes := 0
	lastSpace := -1
	for i, r := range p {
		runes++
		switch r {
		case '\n':
			if strings.TrimSpace(p[:i]) != "" {
				return i + 1
			}
		case '.', '!', '?':
			if followedBySpace(p, i) && !(r == '.' && isAbbreviation(p, i)) {
				return i + 1
			}
		case ',', ';', ':':
			if runes >= s.minClauseRunes && followedBySpace(p, i) {
				return i + 1
			}
		case ' ', '\t':
			lastSpace = i
		}
		if s.maxUnitRunes > 0 && runes >= s.maxUnitRunes {
			if lastSpace > 0 {
				return lastSpace
			}
			return i + utf8.RuneLen(r)
		}
	}
	return 0
}

// followedBySpace requires a visible next rune: at the end of the pending
// text a period may still turn out to be a decimal point.
func followedBySpace(s string, i int) bool {
	if i+1 >= len(s) {
		return false
	}
	switch s[i+1] {
	case ' ', '\n', '\r', '\t':
		return true
	}
	return false
}

func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := strings.ToLower(s[start : i+1])
	for _, abbr := range abbreviations {
		if word == abbr {
			return true
		}
	}
	for _, abbr := range numberAbbreviations {
		if word == abbr {
			return nextIsDigit(s, i+1)
		}
	}
	// Initials such as "J. Smith".
	return i-start == 1 && s[start] >= 'A' && s[start] <= 'Z'
}

// nextIsDigit reports whether the first rune after the whitespace at i is a
// digit. Until that rune has arrived the answer is yes, which holds the
// boundary back rather than cutting "No. 5" in two.
func nextIsDigit(s string, i int) bool {
	for ; i < len(s); i++ {
		switch c := s[i]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			continue
		default:
			return c >= '0' && c <= '9'
		}
	}
	return true
}
