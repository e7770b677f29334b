package origin

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf16"

	"golang.org/x/text/encoding/korean"
)

const (
	cfbSector     = 512
	cfbEndOfChain = 0xFFFFFFFE
	cfbFree       = 0xFFFFFFFF
	cfbFATSect    = 0xFFFFFFFD
	cfbNoStream   = 0xFFFFFFFF
	cfbMiniCutoff = 4096
)

type cfbEntry struct {
	name               string
	typ                byte
	left, right, child uint32
	data               []byte
}

// hwp5File builds a version 3 compound file with a FileHeader stream and a
// BodyText storage holding one SectionN stream per section. Streams are
// padded past the mini stream cutoff so only the regular FAT is needed.
func hwp5File(t *testing.T, props uint32, sections ...[]byte) []byte {
	t.Helper()

	pad := func(b []byte) []byte {
		if len(b) < cfbMiniCutoff {
			b = append(b, make([]byte, cfbMiniCutoff-len(b))...)
		}
		return b
	}

	header := make([]byte, 256)
	copy(header, hwpSignature)
	binary.LittleEndian.PutUint32(header[32:], 0x05000300)
	binary.LittleEndian.PutUint32(header[36:], props)

	entries := []cfbEntry{
		{name: "Root Entry", typ: 5, left: cfbNoStream, right: cfbNoStream, child: 1},
		{name: "FileHeader", typ: 2, left: cfbNoStream, right: 2, child: cfbNoStream, data: pad(header)},
		{name: "BodyText", typ: 1, left: cfbNoStream, right: cfbNoStream, child: cfbNoStream},
	}
	for i, s := range sections {
		if i == 0 {
			entries[2].child = uint32(len(entries))
		}
		right := uint32(cfbNoStream)
		if i < len(sections)-1 {
			right = uint32(len(entries) + 1)
		}
		entries = append(entries, cfbEntry{
			name: fmt.Sprintf("Section%d", i), typ: 2,
			left: cfbNoStream, right: right, child: cfbNoStream,
			data: pad(s),
		})
	}

	perSector := cfbSector / 128
	dirSectors := (len(entries) + perSector - 1) / perSector

	fat := []uint32{cfbFATSect}
	chain := func(n int) uint32 {
		start := uint32(len(fat))
		for j := 0; j < n; j++ {
			next := uint32(len(fat) + 1)
			if j == n-1 {
				next = cfbEndOfChain
			}
			fat = append(fat, next)
		}
		return start
	}
	dirStart := chain(dirSectors)

	var body []byte
	starts := make([]uint32, len(entries))
	for i, e := range entries {
		if e.data == nil {
			starts[i] = cfbEndOfChain
			continue
		}
		n := (len(e.data) + cfbSector - 1) / cfbSector
		starts[i] = chain(n)
		block := make([]byte, n*cfbSector)
		copy(block, e.data)
		body = append(body, block...)
	}
	if len(fat) > cfbSector/4 {
		t.Fatalf("fixture needs %d sectors, one FAT sector holds %d", len(fat), cfbSector/4)
	}

	le := binary.LittleEndian
	hdr := make([]byte, cfbSector)
	copy(hdr, oleMagic)
	le.PutUint16(hdr[24:], 0x3E)
	le.PutUint16(hdr[26:], 3)
	le.PutUint16(hdr[28:], 0xFFFE)
	le.PutUint16(hdr[30:], 9)
	le.PutUint16(hdr[32:], 6)
	le.PutUint32(hdr[44:], 1)
	le.PutUint32(hdr[48:], dirStart)
	le.PutUint32(hdr[56:], cfbMiniCutoff)
	le.PutUint32(hdr[60:], cfbEndOfChain)
	le.PutUint32(hdr[68:], cfbEndOfChain)
	le.PutUint32(hdr[76:], 0)
	for i := 80; i < cfbSector; i += 4 {
		le.PutUint32(hdr[i:], cfbFree)
	}

	fatSector := make([]byte, cfbSector)
	for i := 0; i < cfbSector/4; i++ {
		v := uint32(cfbFree)
		if i < len(fat) {
			v = fat[i]
		}
		le.PutUint32(fatSector[i*4:], v)
	}

	dir := make([]byte, dirSectors*cfbSector)
	for i := 0; i < dirSectors*perSector; i++ {
		d := dir[i*128:]
		le.PutUint32(d[68:], cfbNoStream)
		le.PutUint32(d[72:], cfbNoStream)
		le.PutUint32(d[76:], cfbNoStream)
		if i >= len(entries) {
			continue
		}
		e := entries[i]
		units := utf16.Encode([]rune(e.name))
		for j, u := range units {
			le.PutUint16(d[j*2:], u)
		}
		le.PutUint16(d[64:], uint16((len(units)+1)*2))
		d[66] = e.typ
		d[67] = 1
		le.PutUint32(d[68:], e.left)
		le.PutUint32(d[72:], e.right)
		le.PutUint32(d[76:], e.child)
		le.PutUint32(d[116:], starts[i])
		le.PutUint32(d[120:], uint32(len(e.data)))
	}

	var out bytes.Buffer
	out.Write(hdr)
	out.Write(fatSector)
	out.Write(dir)
	out.Write(body)
	return out.Bytes()
}

func record(tag uint32, payload []byte) []byte {
	b := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(b, tag|uint32(len(payload))<<20)
	return append(b, payload...)
}

func paraTextRecord(units ...uint16) []byte {
	payload := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(payload[i*2:], u)
	}
	return record(tagParaText, payload)
}

func text16(s string) []uint16 { return utf16.Encode([]rune(s)) }

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatalf("flate: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func TestFromBytes_HWP5Records(t *testing.T) {
	// An extended control occupies eight code units, including its id.
	control := append([]uint16{11}, text16("dces")...)
	control = append(control, 0, 0, 11)

	var first []byte
	first = append(first, record(66, make([]byte, 22))...)
	first = append(first, paraTextRecord(append(append(control, text16("첫 번째 문단입니다.")...), 13)...)...)
	first = append(first, record(66, make([]byte, 22))...)
	first = append(first, paraTextRecord(append(text16("두 번째"), append([]uint16{30}, append(text16("문단"), 13)...)...)...)...)
	second := paraTextRecord(append(text16("셋째 문단"), 13)...)

	data := hwp5File(t, hwpCompressed, deflate(t, first), deflate(t, second))

	doc, err := FromBytes(".hwp", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Method != MethodHWP5 {
		t.Errorf("method = %s, want hwp5", doc.Method)
	}
	want := "첫 번째 문단입니다.\n두 번째 문단\n\n셋째 문단"
	if doc.Text != want {
		t.Errorf("text = %q, want %q", doc.Text, want)
	}
}

func TestFromBytes_HWP5SmartDecode(t *testing.T) {
	line := "한국어 문서를 번역합니다. 두 번째 문장입니다.\n"
	raw, err := korean.EUCKR.NewEncoder().String(strings.Repeat(line, 100))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	doc, err := FromBytes(".hwp", hwp5File(t, 0, []byte(raw)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Method != MethodSmartDecode {
		t.Errorf("method = %s, want smart_decode", doc.Method)
	}
	first, _, _ := strings.Cut(doc.Text, "\n")
	if first != strings.TrimSpace(line) {
		t.Errorf("first line = %q", first)
	}
}

func TestFromBytes_HWP5Password(t *testing.T) {
	data := hwp5File(t, hwpCompressed|hwpPassword, deflate(t, paraTextRecord(text16("비밀")...)))
	if _, err := FromBytes(".hwp", data); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestParaText_StopsAtMalformedRecord(t *testing.T) {
	stream := append(paraTextRecord(text16("온전한 문단")...), 0x43, 0x00, 0xF0, 0x0F)
	if got := paraText(stream); got != "온전한 문단\n" {
		t.Errorf("paraText = %q", got)
	}
}
