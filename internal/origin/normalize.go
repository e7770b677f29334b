package origin

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	controlRe   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
	spaceRunRe  = regexp.MustCompile(`[ \t\p{Zs}]+`)
	spanRe      = regexp.MustCompile(`[가-힣A-Za-z0-9][가-힣A-Za-z0-9\s.,!?…()\-]*`)
	latinRe     = regexp.MustCompile(`[A-Za-z]`)
	allowedPunc = ".,!?;:'\"()[]{}<>-–—…%&/+•|#"
)

// Normalize unifies line endings, drops control characters, trims trailing
// spaces and collapses runs of blank lines to one.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Sanitize filters noise that survives decoding binary streams as text.
// From each line it keeps the longest run that starts with a letter or digit
// and drops lines that carry neither Hangul nor Latin letters.
func Sanitize(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		filtered := strings.Map(func(r rune) rune {
			if allowed(r) {
				return r
			}
			return -1
		}, line)
		filtered = strings.TrimSpace(spaceRunRe.ReplaceAllString(filtered, " "))
		if filtered == "" {
			continue
		}

		var best string
		for _, s := range spanRe.FindAllString(filtered, -1) {
			if len([]rune(s)) > len([]rune(best)) {
				best = s
			}
		}
		best = strings.TrimSpace(best)
		if best == "" {
			continue
		}

		var hangul, alnum int
		for _, r := range best {
			if isHangulSyllable(r) {
				hangul++
			}
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				alnum++
			}
		}
		if alnum == 0 {
			continue
		}
		if float64(hangul)/float64(alnum) < 0.2 && !latinRe.MatchString(best) {
			continue
		}
		kept = append(kept, best)
	}
	return strings.Join(kept, "\n")
}

func allowed(r rune) bool {
	switch {
	case unicode.IsSpace(r), strings.ContainsRune(allowedPunc, r):
		return true
	case r >= 0x1100 && r <= 0x11FF, r >= 0x3130 && r <= 0x318F:
		return true
	case r >= 0x3000 && r <= 0x303F, r >= 0x2010 && r <= 0x205E:
		return true
	}
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
