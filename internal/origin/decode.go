package origin

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
	xunicode "golang.org/x/text/encoding/unicode"
)

const (
	decodeSample = 4096
	// goodEnough ends the candidate search early.
	goodEnough = 1.2
	// poor triggers the narrowed-byte retry for UTF-16 looking input.
	poor = 0.9
)

type candidate struct {
	name string
	enc  encoding.Encoding
}

// SmartDecode decodes bytes of unknown encoding by scoring candidate
// decodings on their share of printable characters, with a bonus for
// Hangul. UTF-16 is only tried when the input has many NUL bytes.
func SmartDecode(raw []byte) string {
	sample := raw
	if len(sample) > decodeSample {
		sample = sample[:decodeSample]
	}
	looksUTF16 := bytes.Count(sample, []byte{0}) > len(sample)/5

	var candidates []candidate
	if looksUTF16 {
		candidates = append(candidates,
			candidate{"utf-16le", xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM)},
			candidate{"utf-16be", xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)},
			candidate{"utf-16", xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM)},
		)
	}
	legacy := []candidate{
		{"cp949", korean.EUCKR},
		{"utf-8", nil},
	}
	candidates = append(candidates, legacy...)

	best, bestScore := "", -1.0
	try := func(data []byte, cs []candidate) bool {
		for _, c := range cs {
			txt, ok := decodeWith(c.enc, data)
			if !ok {
				continue
			}
			sc := score(txt)
			if sc > bestScore {
				best, bestScore = txt, sc
			}
			if sc > goodEnough {
				return true
			}
		}
		return false
	}

	if try(raw, candidates) {
		return best
	}
	if looksUTF16 && bestScore < poor && len(raw) >= 4 {
		narrowed := make([]byte, 0, len(raw)/2+1)
		for i := 0; i < len(raw); i += 2 {
			narrowed = append(narrowed, raw[i])
		}
		try(narrowed, legacy)
	}
	return best
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	if enc == nil {
		return strings.ToValidUTF8(string(data), "\uFFFD"), true
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func score(txt string) float64 {
	return printableRatio(txt) + 0.4*hangulRatio(txt)
}

func printableRatio(txt string) float64 {
	var total, printable int
	for _, r := range txt {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

func isHangulSyllable(r rune) bool {
	return r >= 0xAC00 && r <= 0xD7A3
}

func hangulRatio(txt string) float64 {
	var hangul, letters int
	for _, r := range txt {
		if isHangulSyllable(r) {
			hangul++
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(hangul) / float64(letters)
}
