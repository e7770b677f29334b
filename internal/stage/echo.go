package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/peredoc/internal/generation"
)

// NewEcho returns a client that answers every stage request without a
// generation service: drafts echo the reference or the source text,
// revisions echo the draft and proofreading finds nothing. It makes the
// pipeline runnable offline.
func NewEcho() *generation.Scripted {
	s := generation.NewScripted()
	s.Label = "echo"
	s.Responder = echoRespond
	return s
}

func echoRespond(_ context.Context, req generation.Request) (*generation.Response, error) {
	var out string
	switch req.Shape.Name {
	case "document_profile":
		out = `{"domain":"general","tone":"neutral","register":"neutral"}`
	case "proofread_issues":
		out = `{"issues":[]}`
	case "draft_translations":
		units, err := echoUnits(req)
		if err != nil {
			return nil, err
		}
		items := make([]draftItem, len(units))
		for i, u := range units {
			text := u.Reference
			if text == "" {
				text = u.Text
			}
			items[i] = draftItem{ID: u.ID, Text: text}
		}
		data, err := json.Marshal(draftPayload{Translations: items})
		if err != nil {
			return nil, err
		}
		out = string(data)
	case "revision":
		units, err := echoUnits(req)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, u := range units {
			fmt.Fprintf(&b, "<<%s>>\n%s\n", u.ID, u.Draft)
		}
		out = b.String()
	default:
		return nil, generation.Errorf(generation.KindInvalidRequest, "echo: unknown shape %q", req.Shape.Name)
	}

	in := 0
	for _, m := range req.Messages {
		in += len(m.Content) / 4
	}
	resp := generation.TextResponse(out)
	resp.Model = req.Model
	resp.Usage = generation.Usage{InputTokens: in, OutputTokens: len(out) / 4}
	return resp, nil
}

func echoUnits(req generation.Request) ([]promptUnit, error) {
	if len(req.Messages) == 0 {
		return nil, generation.Errorf(generation.KindInvalidRequest, "echo: no messages")
	}
	content := req.Messages[len(req.Messages)-1].Content
	if i := strings.LastIndex(content, "UNITS:\n"); i >= 0 {
		content = content[i+len("UNITS:\n"):]
	}
	var units []promptUnit
	if err := json.Unmarshal([]byte(content), &units); err != nil {
		return nil, generation.NewError(generation.KindInvalidRequest, fmt.Errorf("echo: %w", err))
	}
	return units, nil
}
