// Package budget estimates how many output tokens a stage call over a set of
// units should request. Estimates are heuristic: tokens are approximated as
// ceil(utf8 bytes / bytes-per-token), scaled by stage mode and by the
// translation direction, and capped per mode.
package budget

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/valpere/peredoc/internal"
)

// Mode is the stage a budget is computed for.
type Mode string

const (
	ModeProfile   Mode = "profile"
	ModeDraft     Mode = "draft"
	ModeRevise    Mode = "revise"
	ModeProofread Mode = "proofread"
)

// Options configures an Estimator. Zero values take defaults.
type Options struct {
	BytesPerToken int `mapstructure:"bytes_per_token"`
	// ExtraBytesPerUnit accounts for per-unit JSON framing (ids, quotes).
	ExtraBytesPerUnit int          `mapstructure:"extra_bytes_per_unit"`
	Floor             int          `mapstructure:"floor"`
	Caps              map[Mode]int `mapstructure:"caps"`
}

// Estimator computes output budgets.
type Estimator struct {
	bytesPerToken int
	extraPerUnit  int
	floor         int
	caps          map[Mode]int
}

var defaultCaps = map[Mode]int{
	ModeProfile:   1024,
	ModeDraft:     8192,
	ModeRevise:    8192,
	ModeProofread: 4096,
}

// Output size relative to input size, in percent.
var modeFactorPct = map[Mode]int{
	ModeDraft:     150,
	ModeRevise:    130,
	ModeProofread: 60,
}

// New returns an Estimator.
func New(opts Options) *Estimator {
	e := &Estimator{
		bytesPerToken: 4,
		extraPerUnit:  24,
		floor:         256,
		caps:          make(map[Mode]int, len(defaultCaps)),
	}
	if opts.BytesPerToken > 0 {
		e.bytesPerToken = opts.BytesPerToken
	}
	if opts.ExtraBytesPerUnit > 0 {
		e.extraPerUnit = opts.ExtraBytesPerUnit
	}
	if opts.Floor > 0 {
		e.floor = opts.Floor
	}
	for m, c := range defaultCaps {
		e.caps[m] = c
	}
	for m, c := range opts.Caps {
		if c > 0 {
			e.caps[m] = c
		}
	}
	return e
}

// Tokens estimates the token count of text.
func (e *Estimator) Tokens(text string) int {
	return ceilDiv(len(text), e.bytesPerToken)
}

// Estimate returns the capped output budget for units in mode. direction is
// "<source>-><target>", for example "ko->en"; an unparsable direction is
// treated as neutral.
func (e *Estimator) Estimate(units []internal.Unit, mode Mode, direction string) int {
	capTokens := e.caps[mode]
	if mode == ModeProfile {
		// A profile is a fixed-size summary regardless of input length.
		return capTokens
	}

	bytes := 0
	for _, u := range units {
		bytes += len(u.Text) + e.extraPerUnit
	}
	in := ceilDiv(bytes, e.bytesPerToken)

	pct, ok := modeFactorPct[mode]
	if !ok {
		pct = 100
	}
	out := in * pct / 100 * DirectionFactor(direction) / 100

	if out < e.floor {
		out = e.floor
	}
	if capTokens > 0 && out > capTokens {
		out = capTokens
	}
	return out
}

// Direction formats a language pair for Estimate.
func Direction(source, target string) string {
	return source + "->" + target
}

// DirectionFactor returns the expected output/input size ratio in percent
// for a translation direction. Scripts that pack more meaning per byte
// (Han, Hangul, Kana) expand when translated into alphabetic languages.
func DirectionFactor(direction string) int {
	src, tgt, ok := strings.Cut(direction, "->")
	if !ok {
		return 100
	}
	srcDense, okSrc := dense(src)
	tgtDense, okTgt := dense(tgt)
	switch {
	case !okSrc || !okTgt:
		return 100
	case srcDense && !tgtDense:
		return 140
	case !srcDense && tgtDense:
		return 110
	default:
		return 100
	}
}

func dense(tag string) (isDense, ok bool) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return false, false
	}
	base, _ := t.Base()
	switch base.String() {
	case "ko", "ja", "zh":
		return true, true
	}
	return false, true
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		d = 1
	}
	return (n + d - 1) / d
}
