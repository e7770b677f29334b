// Package extract turns raw generation responses into structured payloads,
// repairing output that was cut off mid-document.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/postprocess"
)

// DefaultEmptyPayload is synthesized for budget-exhausted empty responses.
const DefaultEmptyPayload = "{}"

type Options struct {
	// EmptyPayload replaces the output of a response that ran out of budget
	// before producing anything. Defaults to DefaultEmptyPayload.
	EmptyPayload string
}

type Extraction struct {
	Payload       json.RawMessage
	RepairApplied bool
	// UsageComplete is false when the service stopped because of the output
	// budget.
	UsageComplete bool
	Synthesized   bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Extract returns the structured payload carried by resp. The provider-native
// parsed field wins; otherwise the text fragments are joined, cleaned and
// parsed, with one structural repair pass on failure.
func Extract(resp *generation.Response, opts Options) (*Extraction, error) {
	if resp == nil {
		return nil, generation.Errorf(generation.KindJSONParse, "nil response")
	}

	ext := &Extraction{UsageComplete: !resp.Incomplete()}

	if len(resp.Parsed) > 0 && json.Valid(resp.Parsed) {
		ext.Payload = resp.Parsed
		return ext, nil
	}

	text := postprocess.CleanJSON(resp.Text())
	if text == "" {
		if resp.Incomplete() {
			empty := opts.EmptyPayload
			if empty == "" {
				empty = DefaultEmptyPayload
			}
			ext.Payload = json.RawMessage(empty)
			ext.Synthesized = true
			return ext, nil
		}
		return nil, generation.Errorf(generation.KindJSONParse, "empty output")
	}

	if json.Valid([]byte(text)) {
		ext.Payload = json.RawMessage(text)
		return ext, nil
	}

	repaired, ok := Repair(text)
	if !ok {
		return nil, generation.Errorf(generation.KindJSONParse, "unparseable payload: %s", snippet(text))
	}
	ext.Payload = json.RawMessage(repaired)
	ext.RepairApplied = true
	return ext, nil
}

// Text returns the cleaned free-text output of resp. Empty output from a
// budget-exhausted response is returned as an empty string without error.
func Text(resp *generation.Response) (string, error) {
	if resp == nil {
		return "", generation.Errorf(generation.KindJSONParse, "nil response")
	}
	text := postprocess.Clean(resp.Text())
	if text == "" && !resp.Incomplete() {
		return "", generation.Errorf(generation.KindJSONParse, "empty output")
	}
	return text, nil
}

// Decode unmarshals the payload into v and checks its validate tags. Tags
// are only enforced for usage-complete payloads since a truncated payload is
// expected to be partial.
func Decode(ext *Extraction, v any) error {
	if err := json.Unmarshal(ext.Payload, v); err != nil {
		return generation.NewError(generation.KindJSONParse, err)
	}
	if !ext.UsageComplete {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return generation.NewError(generation.KindSchemaValidation, fmt.Errorf("payload failed validation: %w", err))
	}
	return nil
}

// Items returns the array elements found at path (gjson syntax) in payload.
func Items(payload json.RawMessage, path string) []json.RawMessage {
	res := gjson.GetBytes(payload, path)
	if !res.IsArray() {
		return nil
	}
	var out []json.RawMessage
	res.ForEach(func(_, v gjson.Result) bool {
		out = append(out, json.RawMessage(v.Raw))
		return true
	})
	return out
}

// DecodeItems decodes the array at path one element at a time. Elements that
// do not unmarshal into T or fail its validation tags are dropped and
// counted. A payload without an array at path is a json_parse failure.
func DecodeItems[T any](ext *Extraction, path string) (items []T, dropped int, err error) {
	if !gjson.GetBytes(ext.Payload, path).IsArray() {
		return nil, 0, generation.Errorf(generation.KindJSONParse, "payload has no %s array", path)
	}
	for _, raw := range Items(ext.Payload, path) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			dropped++
			continue
		}
		if err := validate.Struct(&v); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				dropped++
				continue
			}
		}
		items = append(items, v)
	}
	return items, dropped, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
