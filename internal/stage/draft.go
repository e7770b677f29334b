package stage

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/chunker"
	"github.com/valpere/peredoc/internal/extract"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/placeholder"
	"github.com/valpere/peredoc/internal/segment"
	"github.com/valpere/peredoc/internal/store"
	"github.com/valpere/peredoc/internal/translator"
)

// Memory is the translation memory consulted before drafting.
type Memory interface {
	Recall(ctx context.Context, sourceText, sourceLang, targetLang string) (string, bool, error)
	Remember(ctx context.Context, e store.MemoryEntry) error
}

type DraftInput struct {
	Units      []internal.Unit
	SourceLang string
	TargetLang string
	Profile    *Profile
	// Memory and Seeder are optional.
	Memory Memory
	Seeder translator.Seeder
}

type DraftResult struct {
	Translations []string `json:"translations"`
	FromMemory   int      `json:"from_memory"`
	Seeded       int      `json:"seeded"`
	Report       Report   `json:"report"`
}

type draftItem struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text"`
}

type draftPayload struct {
	Translations []draftItem `json:"translations" validate:"required,dive"`
}

// Draft translates every unit. Units found in the translation memory are
// not sent to the generation service.
func (r *Runner) Draft(ctx context.Context, in DraftInput) (*DraftResult, error) {
	log := r.log().WithField("stage", r.Mode)
	res := &DraftResult{Translations: make([]string, len(in.Units))}

	var (
		pending []internal.Unit
		slots   []int
	)
	for i, u := range in.Units {
		if in.Memory != nil {
			text, ok, err := in.Memory.Recall(ctx, u.Text, in.SourceLang, in.TargetLang)
			if err != nil {
				log.WithError(err).WithField("unit_id", u.ID).Warn("translation memory lookup failed")
			}
			if ok {
				res.Translations[i] = text
				res.FromMemory++
				continue
			}
		}
		pending = append(pending, u)
		slots = append(slots, i)
	}
	if len(pending) == 0 {
		return res, nil
	}

	seeds := r.seed(ctx, in, pending, log)
	res.Seeded = len(seeds)

	opts := r.Options.withDefaults()
	groups := batches(pending, opts.BatchUnits, opts.BatchChars)
	direction := budget.Direction(in.SourceLang, in.TargetLang)

	translations, report, err := runBatches(ctx, r, pending, func(i int, batch []internal.Unit) call[string] {
		var preceding string
		if i > 0 {
			preceding = chunker.ExtractContext(joinText(groups[i-1]), opts.ContextWords)
		}
		return call[string]{
			units:     batch,
			direction: direction,
			shape:     generation.Shape{Name: "draft_translations", Format: generation.FormatJSON, Schema: draftSchema},
			build: func(units []internal.Unit, compact bool) []generation.Message {
				items := make([]promptUnit, len(units))
				for j, u := range units {
					protected, _ := placeholder.Protect(u.Text)
					items[j] = promptUnit{ID: u.ID, Text: protected, Reference: seeds[u.ID]}
				}
				return buildDraftPrompt(in.SourceLang, in.TargetLang, in.Profile, preceding, items, compact)
			},
			parse: parseDraft,
			join: func(_ internal.Unit, _ []internal.Unit, results []string) (string, error) {
				return segment.JoinSentences(results), nil
			},
		}
	})
	res.Report = report
	if err != nil {
		return nil, err
	}

	for j, text := range translations {
		res.Translations[slots[j]] = text
	}

	if in.Memory != nil && !report.Truncated {
		service := ""
		if r.Primary.Client != nil {
			service = r.Primary.Client.Name()
		}
		for j, u := range pending {
			if translations[j] == "" {
				continue
			}
			if err := in.Memory.Remember(ctx, store.MemoryEntry{
				SourceText:  u.Text,
				SourceLang:  in.SourceLang,
				TargetLang:  in.TargetLang,
				FinalText:   translations[j],
				DraftText:   seeds[u.ID],
				ServiceUsed: service,
			}); err != nil {
				log.WithError(err).WithField("unit_id", u.ID).Warn("failed to save to translation memory")
			}
		}
	}
	return res, nil
}

// seed asks the machine-translation seeder for reference translations. A
// failing seeder only costs the references.
func (r *Runner) seed(ctx context.Context, in DraftInput, units []internal.Unit, log *logrus.Entry) map[string]string {
	if in.Seeder == nil {
		return nil
	}
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	out, err := in.Seeder.Seed(ctx, texts, in.SourceLang, in.TargetLang)
	if err != nil || len(out) != len(units) {
		log.WithError(err).WithField("seeder", in.Seeder.Name()).Warn("machine translation seed unavailable")
		return nil
	}
	seeds := make(map[string]string, len(units))
	for i, u := range units {
		if s := strings.TrimSpace(out[i]); s != "" {
			seeds[u.ID] = s
		}
	}
	return seeds
}

func parseDraft(resp *generation.Response, units []internal.Unit) ([]string, bool, error) {
	ext, err := extract.Extract(resp, extract.Options{EmptyPayload: `{"translations":[]}`})
	if err != nil {
		return nil, false, err
	}
	items, _, err := extract.DecodeItems[draftItem](ext, "translations")
	if err != nil {
		return nil, false, err
	}

	byID := make(map[string]string, len(items))
	for _, it := range items {
		byID[strings.TrimSpace(it.ID)] = it.Text
	}

	out := make([]string, len(units))
	for i, u := range units {
		text, ok := byID[u.ID]
		if !ok {
			if ext.UsageComplete {
				return nil, false, generation.Errorf(generation.KindSchemaValidation, "missing translation for unit %s", u.ID)
			}
			continue
		}
		_, set := placeholder.Protect(u.Text)
		out[i] = strings.TrimSpace(set.Restore(text))
	}
	return out, ext.RepairApplied, nil
}

func joinText(units []internal.Unit) string {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}
	return strings.Join(texts, " ")
}
