// Package origin turns source files into plain document text. It handles
// plain text in unknown legacy encodings, Markdown, HWPX word-processor
// archives and binary HWP 5 documents.
package origin

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Method names the extraction path that produced a Document.
type Method string

const (
	MethodText        Method = "text"
	MethodMarkdown    Method = "markdown"
	MethodHWPX        Method = "hwpx"
	MethodHWP5        Method = "hwp5"
	MethodSmartDecode Method = "smart_decode"
)

var (
	ErrUnsupported = errors.New("origin: unsupported document format")
	ErrEmpty       = errors.New("origin: no textual content found")
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Document is extracted text plus the method that produced it.
type Document struct {
	Path   string `json:"path"`
	Text   string `json:"text"`
	Method Method `json:"method"`
}

// Extract reads the file at path and returns its text.
func Extract(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("origin: read %s: %w", path, err)
	}
	doc, err := FromBytes(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("origin: %s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// FromBytes extracts text from data. ext is the file extension including
// the dot and only disambiguates Markdown from plain text.
func FromBytes(ext string, data []byte) (*Document, error) {
	var (
		text   string
		method Method
	)
	switch {
	case bytes.HasPrefix(data, zipMagic):
		t, err := fromHWPX(data)
		if err != nil {
			return nil, err
		}
		text, method = t, MethodHWPX
	case bytes.HasPrefix(data, oleMagic):
		t, m, err := fromHWP5(data)
		if err != nil {
			return nil, err
		}
		text, method = t, m
	case !utf8.Valid(data):
		text, method = Sanitize(Normalize(SmartDecode(data))), MethodSmartDecode
	case isMarkdown(ext):
		text, method = Normalize(MarkdownToText(data)), MethodMarkdown
	default:
		text, method = Normalize(string(data)), MethodText
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	return &Document{Text: text, Method: method}, nil
}

func isMarkdown(ext string) bool {
	switch strings.ToLower(ext) {
	case ".md", ".markdown", ".mdown":
		return true
	}
	return false
}
