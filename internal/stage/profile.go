package stage

import (
	"context"
	"strings"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/extract"
	"github.com/valpere/peredoc/internal/generation"
)

// Profile describes a document so later stages stay consistent.
type Profile struct {
	Domain   string `json:"domain" validate:"required"`
	Tone     string `json:"tone" validate:"required"`
	Register string `json:"register" validate:"required"`
	Summary  string `json:"summary,omitempty"`
	Terms    []Term `json:"terms,omitempty" validate:"dive"`
}

type Term struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target"`
}

type ProfileInput struct {
	Units      []internal.Unit
	SourceLang string
	TargetLang string
}

type ProfileResult struct {
	Profile Profile `json:"profile"`
	Report  Report  `json:"report"`
}

// Profile runs one call over a leading sample of the document.
func (r *Runner) Profile(ctx context.Context, in ProfileInput) (*ProfileResult, error) {
	if len(in.Units) == 0 {
		return &ProfileResult{}, nil
	}
	opts := r.Options.withDefaults()
	sample := sampleUnits(in.Units, opts.SampleChars)

	var b strings.Builder
	for i, u := range sample {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(u.Text)
	}
	text := b.String()

	c := call[Profile]{
		units:     sample,
		direction: budget.Direction(in.SourceLang, in.TargetLang),
		single:    true,
		shape:     generation.Shape{Name: "document_profile", Format: generation.FormatJSON, Schema: profileSchema},
		build: func(_ []internal.Unit, compact bool) []generation.Message {
			return buildProfilePrompt(in.SourceLang, in.TargetLang, text, compact)
		},
		parse: func(resp *generation.Response, _ []internal.Unit) ([]Profile, bool, error) {
			ext, err := extract.Extract(resp, extract.Options{})
			if err != nil {
				return nil, false, err
			}
			var p Profile
			if err := extract.Decode(ext, &p); err != nil {
				return nil, false, err
			}
			return []Profile{p}, ext.RepairApplied, nil
		},
	}

	out, err := execute(ctx, r, c, "")
	if err != nil {
		return nil, err
	}
	return &ProfileResult{Profile: out.results[0], Report: out.report}, nil
}

// sampleUnits returns the leading units up to roughly maxChars bytes, and
// at least one unit.
func sampleUnits(units []internal.Unit, maxChars int) []internal.Unit {
	chars := 0
	for i, u := range units {
		chars += len(u.Text)
		if chars > maxChars && i > 0 {
			return units[:i]
		}
	}
	return units
}
