// Package segmenter cuts a document into ordered units with stable ids and
// structural hints, and hashes the normalised document so repeated
// submissions of the same text can be recognised.
package segmenter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/chunker"
	"github.com/valpere/peredoc/internal/detector"
)

// DefaultMaxUnitChars bounds a unit when no limit is configured.
const DefaultMaxUnitChars = 600

// Hints carries language information supplied with a document.
type Hints struct {
	// SourceLang is an ISO code or "auto".
	SourceLang string
	TargetLang string
}

// Segmentation is the result of segmenting one document.
type Segmentation struct {
	Units        []internal.Unit
	DocumentHash string
	SourceLang   string
	TargetLang   string
}

// Segmenter splits documents into units.
type Segmenter struct {
	detector     *detector.Detector
	maxUnitChars int
}

// New returns a Segmenter. det may be nil, in which case "auto" hints
// resolve to "und".
func New(det *detector.Detector, maxUnitChars int) *Segmenter {
	if maxUnitChars <= 0 {
		maxUnitChars = DefaultMaxUnitChars
	}
	return &Segmenter{detector: det, maxUnitChars: maxUnitChars}
}

// Segment splits text into paragraphs, each paragraph into sentences, and
// packs consecutive sentences of a paragraph into units of at most
// maxUnitChars runes. A sentence longer than the limit is cut at word
// boundaries.
func (s *Segmenter) Segment(text string, hints Hints) (*Segmentation, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, fmt.Errorf("segmenter: document is empty")
	}

	hash := DocumentHash(normalized)
	out := &Segmentation{
		DocumentHash: hash,
		SourceLang:   s.resolve(hints.SourceLang, normalized),
		TargetLang:   hints.TargetLang,
	}

	for pi, para := range chunker.Paragraphs(normalized) {
		for _, text := range s.pack(para) {
			idx := len(out.Units)
			out.Units = append(out.Units, internal.Unit{
				ID:             UnitID(hash, idx),
				Index:          idx,
				Text:           text,
				ParagraphIndex: pi,
			})
		}
	}
	return out, nil
}

func (s *Segmenter) resolve(hint, text string) string {
	if s.detector == nil {
		if hint == "" || strings.EqualFold(hint, detector.Auto) {
			return detector.Undetermined
		}
		return hint
	}
	return s.detector.Resolve(hint, text)
}

func (s *Segmenter) pack(paragraph string) []string {
	var (
		units []string
		cur   strings.Builder
		size  int
	)
	flush := func() {
		if cur.Len() > 0 {
			units = append(units, cur.String())
			cur.Reset()
			size = 0
		}
	}

	for _, sentence := range chunker.Sentences(paragraph) {
		for _, piece := range chunker.Chunk(sentence, s.maxUnitChars) {
			n := len([]rune(piece))
			if size > 0 && size+1+n > s.maxUnitChars {
				flush()
			}
			if size > 0 {
				cur.WriteByte(' ')
				size++
			}
			cur.WriteString(piece)
			size += n
		}
	}
	flush()
	return units
}

// Normalize applies Unicode NFC, unifies line endings and trims the text.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(norm.NFC.String(text))
}

// DocumentHash is the hex sha256 of the normalised document.
func DocumentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// UnitID derives a stable id for the unit at index in a document.
func UnitID(documentHash string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentHash, index)))
	return hex.EncodeToString(sum[:])[:16]
}
