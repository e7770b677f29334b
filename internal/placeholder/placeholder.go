// Package placeholder shields markup inside unit text from the generation
// service. Fenced code, inline code, HTML tags and URLs are swapped for
// numbered markers ([PH0], [PH1], ...) before drafting and swapped back
// afterwards.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reFencedCode  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode  = regexp.MustCompile("`[^`\n]+`")
	reHTMLTag     = regexp.MustCompile(`</?[A-Za-z][^<>]*>`)
	reURL         = regexp.MustCompile(`https?://[^\s<>"'\])]+`)
	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Set holds the originals captured from one text. The zero value is an
// empty set.
type Set struct {
	originals []string
}

// Protect replaces markup in text with markers in order of appearance.
// Fenced blocks are matched first so their contents are not split by the
// narrower patterns.
func Protect(text string) (string, *Set) {
	s := &Set{}
	replace := func(match string) string {
		id := marker(len(s.originals))
		s.originals = append(s.originals, match)
		return id
	}
	for _, re := range []*regexp.Regexp{reFencedCode, reInlineCode, reHTMLTag, reURL} {
		text = re.ReplaceAllStringFunc(text, replace)
	}
	return text, s
}

func marker(i int) string {
	return fmt.Sprintf("[PH%d]", i)
}

// Len reports how many markers were created.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.originals)
}

// Restore puts the originals back. Unknown indices are left as they are.
func (s *Set) Restore(text string) string {
	if s.Len() == 0 {
		return text
	}
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(s.originals) {
			return match
		}
		return s.originals[idx]
	})
}

// Missing returns the indices of markers absent from text.
func (s *Set) Missing(text string) []int {
	var missing []int
	for i := 0; i < s.Len(); i++ {
		if !strings.Contains(text, marker(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// InstructionHint is appended to prompts that carry protected text.
func InstructionHint() string {
	return "Keep every [PHn] marker exactly as written; do not translate, move or drop them."
}
