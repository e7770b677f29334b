package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/extract"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/pagination"
)

// Issue is one problem found by proofreading.
type Issue struct {
	UnitID      string `json:"unit_id" validate:"required"`
	Severity    string `json:"severity" validate:"required,oneof=minor major critical"`
	Category    string `json:"category,omitempty"`
	Original    string `json:"original,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

type ProofreadInput struct {
	Units      []internal.Unit
	Texts      []string
	SourceLang string
	TargetLang string
	PageSize   int
}

type ProofreadResult struct {
	Issues []Issue            `json:"issues"`
	Pages  []pagination.Page `json:"pages"`
	Report Report             `json:"report"`
}

// Proofread lists issues in the translation and delivers them as pages.
// Pages are marked forced when the analysis needed truncation, repair or
// decomposition to complete.
func (r *Runner) Proofread(ctx context.Context, in ProofreadInput) (*ProofreadResult, error) {
	if len(in.Texts) != len(in.Units) {
		return nil, fmt.Errorf("proofread: %d texts for %d units", len(in.Texts), len(in.Units))
	}
	stageName := string(r.Mode)

	texts := make(map[string]string, len(in.Units))
	for i, u := range in.Units {
		texts[u.ID] = in.Texts[i]
	}
	direction := budget.Direction(in.SourceLang, in.TargetLang)

	var (
		perUnit [][]Issue
		report  Report
		err     error
	)
	if len(in.Units) > 0 {
		perUnit, report, err = runBatches(ctx, r, in.Units, func(_ int, batch []internal.Unit) call[[]Issue] {
			return call[[]Issue]{
				units:     batch,
				direction: direction,
				shape:     generation.Shape{Name: "proofread_issues", Format: generation.FormatJSON, Schema: issuesSchema},
				build: func(units []internal.Unit, compact bool) []generation.Message {
					items := make([]promptUnit, len(units))
					for j, u := range units {
						items[j] = promptUnit{ID: u.ID, Text: u.Text, Draft: translatedPart(texts, u)}
					}
					return buildProofreadPrompt(in.SourceLang, in.TargetLang, items, compact)
				},
				parse: parseIssues,
				join: func(unit internal.Unit, _ []internal.Unit, results [][]Issue) ([]Issue, error) {
					var merged []Issue
					for _, part := range results {
						for _, is := range part {
							is.UnitID = unit.ID
							merged = append(merged, is)
						}
					}
					return merged, nil
				},
			}
		})
		if err != nil {
			return nil, err
		}
	}

	res := &ProofreadResult{Report: report}
	var items []pagination.Item
	for i, issues := range perUnit {
		unitID := in.Units[i].ID
		for k, is := range issues {
			res.Issues = append(res.Issues, is)
			data, err := json.Marshal(is)
			if err != nil {
				return nil, err
			}
			items = append(items, pagination.Item{
				ChunkID: fmt.Sprintf("%s-%s-%d", stageName, unitID, k),
				Text:    is.Suggestion,
				UnitIDs: []string{unitID},
				Data:    data,
			})
		}
	}
	res.Pages = pagination.Paginate(stageName, items, pagination.Options{
		PageSize:       in.PageSize,
		Forced:         pagination.ForcedFrom(report.Truncated, report.Metrics) || report.RepairApplied,
		DownshiftCount: report.Metrics.Downshifts,
	})
	return res, nil
}

// translatedPart returns the translation shown next to u. Sentence-level
// parts see the whole translation of their unit since proofreading only
// reports fragments.
func translatedPart(texts map[string]string, u internal.Unit) string {
	if t, ok := texts[u.ID]; ok {
		return t
	}
	if parentID, _, ok := splitPartID(u.ID); ok {
		return texts[parentID]
	}
	return ""
}

func parseIssues(resp *generation.Response, units []internal.Unit) ([][]Issue, bool, error) {
	ext, err := extract.Extract(resp, extract.Options{EmptyPayload: `{"issues":[]}`})
	if err != nil {
		return nil, false, err
	}
	issues, dropped, err := extract.DecodeItems[Issue](ext, "issues")
	if err != nil {
		return nil, false, err
	}
	if len(issues) == 0 && dropped > 0 && ext.UsageComplete {
		return nil, false, generation.Errorf(generation.KindSchemaValidation, "all %d issues failed validation", dropped)
	}

	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.ID] = i
	}
	out := make([][]Issue, len(units))
	for _, is := range issues {
		i, ok := index[strings.TrimSpace(is.UnitID)]
		if !ok {
			if len(units) != 1 {
				continue
			}
			i = 0
		}
		is.UnitID = units[i].ID
		out[i] = append(out[i], is)
	}
	return out, ext.RepairApplied, nil
}
