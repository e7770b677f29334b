package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/extract"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/segment"
)

var reUnitMarker = regexp.MustCompile(`(?m)^[ \t]*<<([^<>\n]+)>>[ \t]*\r?\n?`)

type ReviseInput struct {
	Units      []internal.Unit
	Drafts     []string
	SourceLang string
	TargetLang string
	Profile    *Profile
}

type ReviseResult struct {
	Texts  []string `json:"texts"`
	Report Report   `json:"report"`
}

// Revise polishes the draft of every unit. Output is free text, so when a
// single unit is split into sentences its draft is sliced proportionally to
// give each sentence a matching piece.
func (r *Runner) Revise(ctx context.Context, in ReviseInput) (*ReviseResult, error) {
	if len(in.Drafts) != len(in.Units) {
		return nil, fmt.Errorf("revise: %d drafts for %d units", len(in.Drafts), len(in.Units))
	}
	if len(in.Units) == 0 {
		return &ReviseResult{}, nil
	}

	drafts := newDraftIndex(in.Units, in.Drafts)
	direction := budget.Direction(in.SourceLang, in.TargetLang)

	texts, report, err := runBatches(ctx, r, in.Units, func(_ int, batch []internal.Unit) call[string] {
		return call[string]{
			units:     batch,
			direction: direction,
			shape:     generation.Shape{Name: "revision", Format: generation.FormatText},
			build: func(units []internal.Unit, compact bool) []generation.Message {
				items := make([]promptUnit, len(units))
				for j, u := range units {
					items[j] = promptUnit{ID: u.ID, Text: u.Text, Draft: drafts.lookup(u)}
				}
				return buildRevisePrompt(in.SourceLang, in.TargetLang, in.Profile, items, compact)
			},
			parse: func(resp *generation.Response, units []internal.Unit) ([]string, bool, error) {
				return parseRevision(resp, units, drafts)
			},
			join: func(_ internal.Unit, _ []internal.Unit, results []string) (string, error) {
				return segment.JoinSentences(results), nil
			},
		}
	})
	if err != nil {
		return nil, err
	}
	return &ReviseResult{Texts: texts, Report: report}, nil
}

// draftIndex resolves the draft of a unit or of a sentence-level part of a
// unit.
type draftIndex struct {
	units  map[string]internal.Unit
	drafts map[string]string
}

func newDraftIndex(units []internal.Unit, drafts []string) *draftIndex {
	d := &draftIndex{
		units:  make(map[string]internal.Unit, len(units)),
		drafts: make(map[string]string, len(units)),
	}
	for i, u := range units {
		d.units[u.ID] = u
		d.drafts[u.ID] = drafts[i]
	}
	return d
}

func (d *draftIndex) lookup(u internal.Unit) string {
	if text, ok := d.drafts[u.ID]; ok {
		return text
	}
	parentID, n, ok := splitPartID(u.ID)
	if !ok {
		return ""
	}
	parent, ok := d.units[parentID]
	if !ok {
		return ""
	}
	parts := segment.SplitUnit(parent)
	slices := segment.Redistribute(d.drafts[parentID], parts)
	if n >= len(slices) {
		return ""
	}
	return slices[n]
}

// splitPartID parses "<id>#<n>".
func splitPartID(id string) (string, int, bool) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

func parseRevision(resp *generation.Response, units []internal.Unit, drafts *draftIndex) ([]string, bool, error) {
	text, err := extract.Text(resp)
	if err != nil {
		return nil, false, err
	}
	complete := !resp.Incomplete()

	sections := splitMarked(text)
	if len(sections) == 0 && len(units) == 1 && strings.TrimSpace(text) != "" {
		sections = map[string]string{units[0].ID: strings.TrimSpace(text)}
	}

	out := make([]string, len(units))
	for i, u := range units {
		if s, ok := sections[u.ID]; ok && s != "" {
			out[i] = s
			continue
		}
		if complete {
			return nil, false, generation.Errorf(generation.KindSchemaValidation, "missing revision for unit %s", u.ID)
		}
		// Units the service never reached keep their draft.
		out[i] = drafts.lookup(u)
	}
	return out, false, nil
}

// splitMarked cuts text at "<<id>>" marker lines.
func splitMarked(text string) map[string]string {
	locs := reUnitMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make(map[string]string, len(locs))
	for i, loc := range locs {
		id := strings.TrimSpace(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[id] = strings.TrimSpace(text[loc[1]:end])
	}
	return out
}
