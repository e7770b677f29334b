package extract

import (
	"encoding/json"
	"strings"
)

// maxCutCandidates bounds how many truncation points Repair tries.
const maxCutCandidates = 64

type cut struct {
	pos   int
	stack string
}

// Repair makes a best-effort attempt to turn truncated JSON into a valid
// document. Control characters are stripped (or escaped inside strings), then
// two strategies are tried: close everything that is still open at the end of
// the text, and cut back to an earlier value boundary before closing. The
// bool is false when text was already valid or no candidate parses.
func Repair(text string) (string, bool) {
	if json.Valid([]byte(text)) {
		return text, false
	}

	s := stripControl(text)
	if json.Valid([]byte(s)) {
		return s, true
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
		cuts     []cut
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			cuts = append(cuts, cut{pos: i + 1, stack: string(stack)})
		case ',':
			cuts = append(cuts, cut{pos: i, stack: string(stack)})
		}
	}

	var tail strings.Builder
	if inString {
		if escaped {
			s = s[:len(s)-1]
		}
		tail.WriteByte('"')
	}
	tail.WriteString(closers(string(stack)))
	if candidate := s + tail.String(); json.Valid([]byte(candidate)) {
		return candidate, true
	}

	tried := 0
	for i := len(cuts) - 1; i >= 0 && tried < maxCutCandidates; i-- {
		tried++
		c := cuts[i]
		candidate := strings.TrimRight(s[:c.pos], " \t\r\n") + closers(c.stack)
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return text, false
}

// closers returns the closing brackets for an open-bracket stack.
func closers(stack string) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// stripControl drops control characters outside strings and escapes line
// breaks and tabs that appear raw inside string literals.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f {
			if !inString {
				if c == '\n' || c == '\r' || c == '\t' {
					b.WriteByte(c)
				}
				continue
			}
			switch c {
			case '\n':
				b.WriteString(`\n`)
			case '\t':
				b.WriteString(`\t`)
			}
			escaped = false
			continue
		}
		b.WriteByte(c)
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		} else if c == '"' {
			inString = true
		}
	}
	return b.String()
}
