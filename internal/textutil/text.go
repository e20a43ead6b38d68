// Package textutil holds the text helpers shared by the pipeline stages:
// normalization, word counting, keyword extraction, truncation and slugs.
package textutil

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const wordsPerMinute = 200

// StopWords are ignored by fingerprinting and keyword extraction
var StopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true,
	"a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "with": true, "to": true, "for": true, "of": true,
	"as": true, "by": true, "that": true, "this": true, "it": true,
	"from": true, "be": true, "are": true, "been": true, "was": true,
	"were": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"can": true,
}

var markdownReplacer = strings.NewReplacer(
	"#", "", "*", "", "_", "", "[", "", "]", "", "(", "", ")", "",
)

// Normalize lower-cases text, turns punctuation into spaces and collapses whitespace
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}

// Tokens returns the normalized words of text, optionally without stop words
func Tokens(text string, stripStopWords bool) []string {
	fields := strings.Fields(Normalize(text))
	if !stripStopWords {
		return fields
	}
	out := fields[:0]
	for _, f := range fields {
		if !StopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// CountWords counts whitespace separated words after stripping markdown markers
func CountWords(text string) int {
	return len(strings.Fields(markdownReplacer.Replace(text)))
}

// ReadingTime estimates reading minutes, never less than one
func ReadingTime(text string) int {
	minutes := CountWords(text) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Truncate cuts text to at most maxLen bytes at a word boundary, appending suffix
func Truncate(text string, maxLen int, suffix string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	limit := maxLen - len(suffix)
	if limit <= 0 {
		return suffix[:maxLen]
	}
	cut := text[:limit]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRight(cut, " ,.;:-") + suffix
}

// ExtractKeywords returns up to n of the most frequent words longer than three
// characters. Ties keep first-seen order.
func ExtractKeywords(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range Tokens(text, true) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Slugify builds a URL slug of at most 100 characters
func Slugify(text string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	return slug
}

// Sentences splits text on sentence terminators, dropping markdown headings
func Sentences(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	joined := markdownReplacer.Replace(strings.Join(lines, " "))

	var out []string
	start := 0
	for i, r := range joined {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(joined[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(joined[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
