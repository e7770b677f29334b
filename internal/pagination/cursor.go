// Package pagination delivers stage output in fixed-size pages linked by
// opaque "<stage>:<marker>" cursors. A marker is either a page index or the
// content hash of the last delivered item.
package pagination

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var (
	stageRe = regexp.MustCompile(`^[^:\s]+$`)
	pageRe  = regexp.MustCompile(`^[0-9]{1,9}$`)
	hashRe  = regexp.MustCompile(`^[0-9a-f]{16}$`)
)

// Cursor is a parsed resume position. Exactly one of Page or Hash is
// meaningful: Hash is empty for page cursors.
type Cursor struct {
	Stage string `json:"stage"`
	Page  int    `json:"page"`
	Hash  string `json:"hash,omitempty"`
}

// String serializes c.
func (c Cursor) String() string {
	if c.Hash != "" {
		return Serialize(c.Stage, c.Hash)
	}
	return Serialize(c.Stage, strconv.Itoa(c.Page))
}

// Serialize joins stage and marker into a cursor string.
func Serialize(stage, marker string) string {
	return stage + ":" + marker
}

// PageCursor returns the cursor that resumes at page.
func PageCursor(stage string, page int) string {
	return Serialize(stage, strconv.Itoa(page))
}

// HashCursor returns the cursor that resumes after the item with hash.
func HashCursor(stage, hash string) string {
	return Serialize(stage, hash)
}

// Parse decodes s. Empty or malformed input yields nil, never an error.
// Any stage name without a colon or whitespace round-trips.
func Parse(s string) *Cursor {
	stage, marker, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !stageRe.MatchString(stage) {
		return nil
	}
	switch {
	case pageRe.MatchString(marker):
		page, err := strconv.Atoi(marker)
		if err != nil {
			return nil
		}
		return &Cursor{Stage: stage, Page: page}
	case hashRe.MatchString(marker):
		return &Cursor{Stage: stage, Hash: marker}
	default:
		return nil
	}
}

// ParseFor is Parse restricted to cursors issued for stage.
func ParseFor(stage, s string) *Cursor {
	c := Parse(s)
	if c == nil || c.Stage != stage {
		return nil
	}
	return c
}

// ContentHash is the 16 hex digit hash used in segment hashes and hash
// cursors.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
