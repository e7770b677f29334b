package budget

import (
	"strings"
	"testing"

	"github.com/valpere/peredoc/internal"
)

func unitsOf(texts ...string) []internal.Unit {
	units := make([]internal.Unit, len(texts))
	for i, t := range texts {
		units[i] = internal.Unit{ID: "u", Index: i, Text: t}
	}
	return units
}

func TestEstimate(t *testing.T) {
	e := New(Options{BytesPerToken: 4, ExtraBytesPerUnit: 4, Floor: 10, Caps: map[Mode]int{ModeDraft: 500}})

	tests := []struct {
		name      string
		units     []internal.Unit
		mode      Mode
		direction string
		want      int
	}{
		// 396+4 bytes -> 100 tokens -> x1.5 = 150
		{"draft neutral", unitsOf(strings.Repeat("a", 396)), ModeDraft, "en->uk", 150},
		// 100 tokens -> x1.5 -> x1.4 = 210
		{"draft dense source", unitsOf(strings.Repeat("a", 396)), ModeDraft, "ko->en", 210},
		{"revise", unitsOf(strings.Repeat("a", 396)), ModeRevise, "", 130},
		{"proofread", unitsOf(strings.Repeat("a", 396)), ModeProofread, "en->de", 60},
		{"floor", unitsOf("hi"), ModeDraft, "en->uk", 10},
		{"cap", unitsOf(strings.Repeat("a", 4000)), ModeDraft, "en->uk", 500},
		{"profile is fixed", unitsOf(strings.Repeat("a", 4000)), ModeProfile, "en->uk", 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Estimate(tt.units, tt.mode, tt.direction); got != tt.want {
				t.Errorf("Estimate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDirectionFactor(t *testing.T) {
	tests := []struct {
		direction string
		want      int
	}{
		{Direction("ko", "en"), 140},
		{Direction("zh-Hant", "uk"), 140},
		{Direction("en", "ja"), 110},
		{Direction("ko", "ja"), 100},
		{Direction("en", "uk"), 100},
		{"en", 100},
		{Direction("not a tag", "en"), 100},
	}
	for _, tt := range tests {
		if got := DirectionFactor(tt.direction); got != tt.want {
			t.Errorf("DirectionFactor(%q) = %d, want %d", tt.direction, got, tt.want)
		}
	}
}

func TestTokensAndDefaults(t *testing.T) {
	e := New(Options{})
	if got := e.Tokens("abcde"); got != 2 {
		t.Errorf("Tokens = %d, want 2", got)
	}
	if e.caps[ModeDraft] != 8192 || e.floor != 256 {
		t.Errorf("defaults not applied: %+v", e)
	}
}
