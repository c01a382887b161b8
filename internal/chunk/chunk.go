// Package chunk splits long text into platform-sized segments, keeping
// paragraphs together where they fit.
package chunk

import (
	"iter"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Default limits, sized for Discord's 2000 character message cap.
const (
	DefaultParagraphLimit = 1950
	DefaultHardLimit      = 2000
)

const separator = "\n\n"

// Unit is how a platform measures message length.
type Unit int

const (
	// Runes counts Unicode code points.
	Runes Unit = iota
	// UTF16 counts UTF-16 code units; astral-plane characters count twice.
	UTF16
)

// width returns the length of r in u.
func (u Unit) width(r rune) int {
	if u == UTF16 {
		if n := utf16.RuneLen(r); n > 0 {
			return n
		}
	}
	return 1
}

// Len returns the length of s in u.
func (u Unit) Len(s string) int {
	if u == Runes {
		return utf8.RuneCountInString(s)
	}
	n := 0
	for _, r := range s {
		n += u.width(r)
	}
	return n
}

// Limits pairs a soft paragraph limit with a hard per-segment cap, both
// measured in Unit.
type Limits struct {
	Paragraph int
	Hard      int
	Unit      Unit
}

var platformLimits = map[string]Limits{
	"discord":  {Paragraph: DefaultParagraphLimit, Hard: DefaultHardLimit, Unit: Runes},
	"telegram": {Paragraph: 4000, Hard: 4096, Unit: UTF16},
}

// LimitsFor returns the limits for a platform, falling back to the defaults.
func LimitsFor(platform string) Limits {
	if l, ok := platformLimits[platform]; ok {
		return l
	}
	return Limits{Paragraph: DefaultParagraphLimit, Hard: DefaultHardLimit}
}

// Split breaks text into segments of at most hardLimit characters.
// It is SplitLimits with lengths counted in runes.
func Split(text string, paragraphLimit, hardLimit int) []string {
	return SplitLimits(text, Limits{Paragraph: paragraphLimit, Hard: hardLimit, Unit: Runes})
}

// SplitLimits breaks text into segments of at most limits.Hard units.
//
// Paragraphs (separated by a blank line) are trimmed and empty ones dropped.
// A paragraph longer than paragraphLimit is cut into paragraphLimit slices.
// Units are then packed greedily, joined by a blank line, flushing whenever
// the next unit plus the separator would pass paragraphLimit. Any segment
// still over the hard limit is sliced.
func SplitLimits(text string, limits Limits) []string {
	paragraphLimit, hardLimit, unit := limits.Paragraph, limits.Hard, limits.Unit
	if paragraphLimit <= 0 {
		paragraphLimit = DefaultParagraphLimit
	}
	if hardLimit <= 0 {
		hardLimit = DefaultHardLimit
	}

	var units []string
	for _, p := range strings.Split(text, separator) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		units = append(units, slice(p, paragraphLimit, unit)...)
	}

	var (
		segments []string
		buf      strings.Builder
		bufLen   int
	)
	for _, u := range units {
		n := unit.Len(u)
		if bufLen > 0 && bufLen+n+len(separator) > paragraphLimit {
			segments = append(segments, buf.String())
			buf.Reset()
			bufLen = 0
		}
		if bufLen > 0 {
			buf.WriteString(separator)
			bufLen += len(separator)
		}
		buf.WriteString(u)
		bufLen += n
	}
	if bufLen > 0 {
		segments = append(segments, buf.String())
	}

	var out []string
	for _, s := range segments {
		out = append(out, slice(s, hardLimit, unit)...)
	}
	return out
}

// Segments is Split as a sequence. Each iteration recomputes the split, so
// the sequence can be ranged over repeatedly with identical results.
func Segments(text string, limits Limits) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, s := range SplitLimits(text, limits) {
			if !yield(s) {
				return
			}
		}
	}
}

// slice cuts s into pieces of at most n units. A piece always takes at
// least one rune, even one wider than n.
func slice(s string, n int, unit Unit) []string {
	if unit.Len(s) <= n {
		return []string{s}
	}

	var pieces []string
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) {
			r, size := utf8.DecodeRuneInString(s[end:])
			w := unit.width(r)
			if end > 0 && count+w > n {
				break
			}
			end += size
			count += w
		}
		pieces = append(pieces, s[:end])
		s = s[end:]
	}
	return pieces
}
