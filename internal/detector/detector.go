// Package detector resolves the source language of a document when the
// caller does not name one.
package detector

import (
	"strings"
	"unicode/utf8"

	lingua "github.com/pemistahl/lingua-go"
)

// Auto is the language hint that asks for detection.
const Auto = "auto"

// Undetermined is returned when detection fails.
const Undetermined = "und"

// sampleRunes bounds how much text is fed to the detector.
const sampleRunes = 2000

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector over languages, or over every supported language
// when none are given.
func New(languages ...lingua.Language) *Detector {
	builder := lingua.NewLanguageDetectorBuilder()
	var b lingua.LanguageDetectorBuilder
	if len(languages) >= 2 {
		b = builder.FromLanguages(languages...)
	} else {
		b = builder.FromAllLanguages()
	}
	return &Detector{detector: b.Build()}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(sample(text))
}

// DetectISO returns the lowercase ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// Resolve returns hint unless it is empty or Auto, in which case the
// language of text is detected.
func (d *Detector) Resolve(hint, text string) string {
	hint = strings.TrimSpace(hint)
	if hint != "" && !strings.EqualFold(hint, Auto) {
		return hint
	}
	if code, ok := d.DetectISO(text); ok {
		return code
	}
	return Undetermined
}

func sample(text string) string {
	if utf8.RuneCountInString(text) <= sampleRunes {
		return text
	}
	return string([]rune(text)[:sampleRunes])
}
