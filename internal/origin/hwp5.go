package origin

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

const (
	hwpSignature = "HWP Document File"

	// FileHeader property bits.
	hwpCompressed = 1 << 0
	hwpPassword   = 1 << 1

	tagParaText = 67
	// sizeEscape in a record header means the size follows as a uint32.
	sizeEscape = 0xFFF
)

type hwpSection struct {
	index int
	data  []byte
}

// fromHWP5 reads the BodyText section streams of an HWP 5 compound file.
// ViewText streams are used only when a document has no BodyText, as
// distribution copies do. Paragraph text is taken from PARA_TEXT records;
// a section without any is decoded as a whole with SmartDecode.
func fromHWP5(data []byte) (string, Method, error) {
	r, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("%w: unreadable OLE container: %v", ErrUnsupported, err)
	}

	var (
		props     uint32
		header    bool
		body      []hwpSection
		view      []hwpSection
		readError error
	)
	for f, err := r.Next(); err == nil; f, err = r.Next() {
		switch {
		case len(f.Path) == 0 && f.Name == "FileHeader":
			buf, err := io.ReadAll(f)
			if err != nil {
				return "", "", fmt.Errorf("hwp5: file header: %w", err)
			}
			if len(buf) < 40 || !bytes.HasPrefix(buf, []byte(hwpSignature)) {
				return "", "", fmt.Errorf("%w: OLE file is not an HWP document", ErrUnsupported)
			}
			props = binary.LittleEndian.Uint32(buf[36:40])
			header = true
		case len(f.Path) == 1 && strings.HasPrefix(f.Name, "Section"):
			idx, err := strconv.Atoi(strings.TrimPrefix(f.Name, "Section"))
			if err != nil {
				continue
			}
			buf, err := io.ReadAll(f)
			if err != nil {
				readError = err
				continue
			}
			s := hwpSection{index: idx, data: buf}
			switch f.Path[0] {
			case "BodyText":
				body = append(body, s)
			case "ViewText":
				view = append(view, s)
			}
		}
	}

	if !header {
		return "", "", fmt.Errorf("%w: OLE file is not an HWP document", ErrUnsupported)
	}
	if props&hwpPassword != 0 {
		return "", "", fmt.Errorf("%w: password-protected HWP document", ErrUnsupported)
	}

	sections := body
	if len(sections) == 0 {
		sections = view
	}
	if len(sections) == 0 {
		if readError != nil {
			return "", "", fmt.Errorf("hwp5: section: %w", readError)
		}
		return "", "", ErrEmpty
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].index < sections[j].index })

	method := MethodHWP5
	var parts []string
	for _, s := range sections {
		text, m := sectionText(s.data, props&hwpCompressed != 0)
		if m == MethodSmartDecode {
			method = MethodSmartDecode
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), method, nil
}

func sectionText(raw []byte, compressed bool) (string, Method) {
	if compressed {
		// Sections are raw deflate streams without a zlib header.
		if inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(raw))); err == nil || len(inflated) > 0 {
			raw = inflated
		}
	}
	if text := Normalize(paraText(raw)); text != "" {
		return text, MethodHWP5
	}
	return Sanitize(Normalize(SmartDecode(raw))), MethodSmartDecode
}

// paraText walks the record stream of a section and returns the text of its
// PARA_TEXT records, one paragraph per line. A malformed record ends the
// walk.
func paraText(stream []byte) string {
	var b strings.Builder
	for len(stream) >= 4 {
		h := binary.LittleEndian.Uint32(stream)
		tag, size := h&0x3FF, int64(h>>20)
		stream = stream[4:]
		if size == sizeEscape {
			if len(stream) < 4 {
				break
			}
			size = int64(binary.LittleEndian.Uint32(stream))
			stream = stream[4:]
		}
		if size > int64(len(stream)) {
			break
		}
		if tag == tagParaText {
			writeParaText(&b, stream[:size])
			b.WriteByte('\n')
		}
		stream = stream[size:]
	}
	return b.String()
}

// writeParaText decodes UTF-16LE paragraph text. Code units below 32 are
// controls: char controls take one unit, inline and extended controls take
// eight.
func writeParaText(b *strings.Builder, payload []byte) {
	units := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(payload[i:]))
	}

	text := make([]uint16, 0, len(units))
	for i := 0; i < len(units); {
		c := units[i]
		switch {
		case c >= 32:
			text = append(text, c)
			i++
		case c == 10:
			text = append(text, '\n')
			i++
		case c == 30 || c == 31:
			// non-breaking and fixed-width spaces
			text = append(text, ' ')
			i++
		case c == 0 || c == 13 || c >= 24:
			i++
		default:
			i += 8
		}
	}
	b.WriteString(string(utf16.Decode(text)))
}
