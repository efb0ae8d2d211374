// Package placeholder swaps non-translatable tokens in a content fragment for
// positional markers before the text is sent to the oracle, and puts them back
// afterwards.
//
// Two token forms are recognised: angle-bracket tags (<item/>, <b>, </b>) and
// bracket tokens ([PlayerName], [1]). Each occurrence becomes __p{i}__ where i
// is its 0-based position in the fragment.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	tokenPattern  = regexp.MustCompile(`<[^>]+>|\[[^\]]+\]`)
	markerPattern = regexp.MustCompile(`__p(\d+)__`)
)

// Marker returns the positional marker for index i.
func Marker(i int) string {
	return fmt.Sprintf("__p%d__", i)
}

// Extract replaces every tag and bracket token in text with a positional
// marker. The returned slice holds the original substrings in order of
// appearance; it is never nil.
func Extract(text string) (string, []string) {
	placeholders := []string{}
	sanitized := tokenPattern.ReplaceAllStringFunc(text, func(m string) string {
		idx := len(placeholders)
		placeholders = append(placeholders, m)
		return Marker(idx)
	})
	return sanitized, placeholders
}

// Restore replaces markers with the placeholder at their index. Markers whose
// index is out of range are left as they are.
func Restore(text string, placeholders []string) string {
	if len(placeholders) == 0 {
		return text
	}
	return markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerPattern.FindStringSubmatch(m)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(placeholders) {
			return m
		}
		return placeholders[idx]
	})
}

// Markers returns every marker found in text, in order.
func Markers(text string) []string {
	found := markerPattern.FindAllString(text, -1)
	if found == nil {
		return []string{}
	}
	return found
}

// Count returns the number of markers in text.
func Count(text string) int {
	return len(markerPattern.FindAllStringIndex(text, -1))
}
