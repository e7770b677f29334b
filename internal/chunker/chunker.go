// Package chunker splits text at paragraph, sentence, clause and word
// boundaries. It is shared by document segmentation, by single-unit
// decomposition and by page chunking, so every splitter here guarantees that
// no word is ever cut in half when a whitespace boundary exists.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultContextWords is the default number of words extracted by
	// ExtractContext for use as a sliding-window context.
	DefaultContextWords = 25
)

var paragraphRe = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// closing characters that belong to the sentence they follow.
const trailers = `"'”’»)]}」』`

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isWideSentenceEnd(r)
}

// Full-width terminators end a sentence without a following space.
func isWideSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isClauseEnd(r rune) bool {
	switch r {
	case ',', ';', ':':
		return true
	}
	return isWideClauseEnd(r)
}

func isWideClauseEnd(r rune) bool {
	switch r {
	case '，', '；', '、', '：':
		return true
	}
	return false
}

// Paragraphs splits text on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sentences splits text after sentence terminators and at line breaks.
// ASCII terminators only end a sentence when followed by whitespace or the
// end of text, so abbreviations inside words such as "3.14" stay intact.
func Sentences(text string) []string {
	return splitAfter(text, isSentenceEnd, isWideSentenceEnd)
}

// Clauses splits text after clause punctuation (commas, semicolons,
// colons and their full-width forms) as well as after sentence terminators.
func Clauses(text string) []string {
	either := func(r rune) bool { return isSentenceEnd(r) || isClauseEnd(r) }
	wide := func(r rune) bool { return isWideSentenceEnd(r) || isWideClauseEnd(r) }
	return splitAfter(text, either, wide)
}

func splitAfter(text string, end, wide func(rune) bool) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	flush := func(to int) {
		if s := strings.TrimSpace(string(runes[start:to])); s != "" {
			out = append(out, s)
		}
		start = to
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush(i + 1)
			continue
		}
		if !end(r) {
			continue
		}
		j := i + 1
		for j < len(runes) && (end(runes[j]) || strings.ContainsRune(trailers, runes[j])) {
			j++
		}
		if wide(r) || j == len(runes) || unicode.IsSpace(runes[j]) {
			flush(j)
			i = j - 1
		}
	}
	flush(len(runes))
	return out
}

// Halve splits text into two pieces at the whitespace closest to its middle.
// It returns nil when text has no interior whitespace.
func Halve(text string) []string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	mid := len(runes) / 2
	for d := 0; d <= mid; d++ {
		for _, i := range []int{mid + d, mid - d} {
			if i > 0 && i < len(runes)-1 && unicode.IsSpace(runes[i]) {
				left := strings.TrimSpace(string(runes[:i]))
				right := strings.TrimSpace(string(runes[i:]))
				if left != "" && right != "" {
					return []string{left, right}
				}
			}
		}
	}
	return nil
}

// Chunk splits text into pieces each no longer than maxChars unicode
// code points. Splits are attempted (in order of preference) at:
//  1. Paragraph boundaries (\n\n or \r\n\r\n)
//  2. Sentence-ending punctuation (. ! ? and full-width 。！？)
//  3. Whitespace (word boundary)
//  4. Hard cut at maxChars if no suitable boundary is found
//
// If text fits entirely within maxChars, a single-element slice is returned.
// If maxChars ≤ 0 it is treated as unlimited (returns the whole text).
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for utf8.RuneCountInString(remaining) > maxChars {
		split := findSplit(remaining, maxChars)
		if chunk := strings.TrimSpace(remaining[:split]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[split:])
	}

	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findSplit returns the byte index within text at which to split, aiming for
// at most maxChars runes.
func findSplit(text string, maxChars int) int {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return len(text)
	}
	candidate := runes[:maxChars]
	prefix := string(candidate)

	if idx := strings.LastIndex(prefix, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(prefix, "\r\n\r\n"); idx > 0 {
		return idx + 4
	}

	byteOffset := func(i int) int { return len(string(candidate[:i])) }

	for i := len(candidate) - 1; i > 0; i-- {
		r := candidate[i]
		if isWideSentenceEnd(r) {
			return byteOffset(i + 1)
		}
		if isSentenceEnd(r) && i+1 < len(candidate) && unicode.IsSpace(candidate[i+1]) {
			return byteOffset(i + 1)
		}
	}

	for i := len(candidate) - 1; i > 0; i-- {
		if unicode.IsSpace(candidate[i]) {
			return byteOffset(i)
		}
	}

	return len(prefix)
}

// ExtractContext returns the last wordCount words of text, joined by a single
// space. It is used as a sliding-window context snippet so consecutive
// batches keep narrative continuity.
// If wordCount ≤ 0, DefaultContextWords is used.
func ExtractContext(text string, wordCount int) string {
	if wordCount <= 0 {
		wordCount = DefaultContextWords
	}
	words := strings.Fields(text)
	if len(words) <= wordCount {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[len(words)-wordCount:], " ")
}
