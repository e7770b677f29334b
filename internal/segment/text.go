package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/chunker"
)

// snapWindow is how far a redistribution boundary may move forward to land
// on whitespace.
const snapWindow = 16

// SplitUnit splits one unit into sentence-aligned sub-units, falling back to
// clauses and then to the whitespace nearest the middle. Sub-unit ids are
// "<id>#<n>". It returns nil when the unit cannot be split without cutting a
// word.
func SplitUnit(u internal.Unit) []internal.Unit {
	pieces := chunker.Sentences(u.Text)
	if len(pieces) < 2 {
		pieces = chunker.Clauses(u.Text)
	}
	if len(pieces) < 2 {
		pieces = chunker.Halve(u.Text)
	}
	if len(pieces) < 2 {
		return nil
	}

	parts := make([]internal.Unit, len(pieces))
	for i, text := range pieces {
		n := i
		parts[i] = internal.Unit{
			ID:             fmt.Sprintf("%s#%d", u.ID, i),
			Index:          u.Index,
			Text:           text,
			ParagraphIndex: u.ParagraphIndex,
			SentenceIndex:  &n,
		}
	}
	return parts
}

// MergeText joins per-unit texts in unit order. Units from different
// paragraphs are separated by a blank line, units within a paragraph by a
// single line break. Empty texts are skipped.
func MergeText(units []internal.Unit, texts []string) string {
	var (
		b        strings.Builder
		lastPara int
		wrote    bool
	)
	for i, u := range units {
		if i >= len(texts) {
			break
		}
		text := strings.TrimSpace(texts[i])
		if text == "" {
			continue
		}
		if wrote {
			if u.ParagraphIndex != lastPara {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(text)
		lastPara = u.ParagraphIndex
		wrote = true
	}
	return b.String()
}

// JoinSentences rebuilds one text from sentence-level pieces. Pieces ending
// in full-width punctuation are joined without a space.
func JoinSentences(pieces []string) string {
	var b strings.Builder
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			last, _ := utf8.DecodeLastRuneInString(b.String())
			if !isWide(last) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(p)
	}
	return b.String()
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) ||
		strings.ContainsRune("。！？，；、：」』", r)
}

// Redistribute slices combined into len(parts) pieces proportional to each
// part's share of the total source length. Boundaries move forward to the
// next whitespace within a short window so words stay whole; the last piece
// takes whatever remains. This is an approximation, not an alignment.
func Redistribute(combined string, parts []internal.Unit) []string {
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, len(parts))
	if len(parts) == 1 {
		out[0] = strings.TrimSpace(combined)
		return out
	}

	weights := make([]int, len(parts))
	total := 0
	for i, p := range parts {
		weights[i] = utf8.RuneCountInString(p.Text)
		total += weights[i]
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = len(weights)
	}

	runes := []rune(combined)
	start, cum := 0, 0
	for i := range parts[:len(parts)-1] {
		cum += weights[i]
		end := len(runes) * cum / total
		end = snapForward(runes, end)
		if end < start {
			end = start
		}
		out[i] = strings.TrimSpace(string(runes[start:end]))
		start = end
	}
	out[len(out)-1] = strings.TrimSpace(string(runes[start:]))
	return out
}

func snapForward(runes []rune, at int) int {
	if at >= len(runes) {
		return len(runes)
	}
	for i := at; i < len(runes) && i <= at+snapWindow; i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return at
}
