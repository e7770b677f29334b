package origin

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// fromHWPX concatenates the text of every Contents/section*.xml part in
// section order. Paragraph elements become line breaks.
func fromHWPX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("hwpx: %w", err)
	}

	var sections []*zip.File
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if strings.HasPrefix(name, "contents/section") && strings.HasSuffix(name, ".xml") {
			sections = append(sections, f)
		}
	}
	if len(sections) == 0 {
		return "", fmt.Errorf("%w: zip archive has no HWPX sections", ErrUnsupported)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })

	var b strings.Builder
	for _, f := range sections {
		if err := hwpxSectionText(f, &b); err != nil {
			return "", fmt.Errorf("hwpx: %s: %w", f.Name, err)
		}
		b.WriteString("\n\n")
	}
	return Normalize(b.String()), nil
}

func hwpxSectionText(f *zip.File, b *strings.Builder) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			}
		case xml.StartElement:
			if t.Name.Local == "lineBreak" {
				b.WriteString("\n")
			}
		}
	}
}
