// Package validator screens machine-translation seeds before they reach the
// draft prompt. A seed service that fails quietly tends to echo the source
// text; such references are dropped.
package validator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/valpere/peredoc/internal/detector"
	"github.com/valpere/peredoc/internal/translator"
)

// minValidationLength is the minimum rune count required to attempt language detection.
const minValidationLength = 20

// Validator checks that text is written in an expected language.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

func New(det *detector.Detector) *Validator {
	if det == nil {
		det = detector.New()
	}
	return &Validator{det: det}
}

// Check returns nil when text appears to be written in lang. Short texts,
// an empty lang and undetectable texts pass.
func (v *Validator) Check(text, lang string) error {
	if lang == "" || strings.EqualFold(lang, detector.Auto) {
		return nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text is empty")
	}
	if len([]rune(text)) < minValidationLength {
		return nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return nil
	}
	if !strings.EqualFold(detected, baseLang(lang)) {
		return fmt.Errorf("expected %s but detected %s", lang, detected)
	}
	return nil
}

// baseLang strips a region or script subtag: "pt-BR" -> "pt".
func baseLang(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// Seeder wraps a seeder and blanks every seed that fails Check against the
// target language. The draft stage ignores blank seeds.
type Seeder struct {
	translator.Seeder
	Validator *Validator
}

func (s *Seeder) Seed(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	out, err := s.Seeder.Seed(ctx, texts, sourceLang, targetLang)
	if err != nil {
		return nil, err
	}
	for i, seed := range out {
		if s.Validator.Check(seed, targetLang) != nil {
			out[i] = ""
		}
	}
	return out, nil
}

// Close closes the wrapped seeder when it holds resources.
func (s *Seeder) Close() error {
	if c, ok := s.Seeder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
