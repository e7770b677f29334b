package extract

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/peredoc/internal/generation"
)

func TestRepair_AlreadyValid(t *testing.T) {
	inputs := []string{`{"a":1}`, `[1,2,3]`, `{"items":[{"a":"x"}]}`}
	for _, in := range inputs {
		got, applied := Repair(in)
		if applied {
			t.Errorf("Repair(%q) reported repair on valid JSON", in)
		}
		if got != in {
			t.Errorf("Repair(%q) = %q, want input unchanged", in, got)
		}
	}
}

func TestRepair_Truncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unbalanced trailing object", `{"items":[{"a":1}`, `{"items":[{"a":1}]}`},
		{"open string", `{"a":"hel`, `{"a":"hel"}`},
		{"dangling key", `{"a":1,"b":`, `{"a":1}`},
		{"trailing comma in array", `{"items":[1,2,`, `{"items":[1,2]}`},
		{"trailing garbage", `{"a":1} and then some`, `{"a":1}`},
		{"half a nested item", `{"items":[{"id":"u1","text":"ok"},{"id":"u2","te`, `{"items":[{"id":"u1","text":"ok"},{"id":"u2"}]}`},
		{"raw newline in string", "{\"a\":\"line1\nline2\"}", `{"a":"line1\nline2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := Repair(tt.input)
			if !applied {
				t.Fatalf("Repair(%q) did not apply a repair", tt.input)
			}
			if !json.Valid([]byte(got)) {
				t.Fatalf("Repair(%q) = %q, not valid JSON", tt.input, got)
			}
			if got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepair_Hopeless(t *testing.T) {
	if _, applied := Repair(`{"a":tr`); applied {
		t.Error("expected no repair for a truncated literal with no earlier boundary")
	}
}

func TestExtract_PrefersParsed(t *testing.T) {
	resp := &generation.Response{
		Status: generation.StatusCompleted,
		Parsed: json.RawMessage(`{"from":"parsed"}`),
		Output: []string{`{"from":"text"}`},
	}
	ext, err := Extract(resp, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ext.Payload) != `{"from":"parsed"}` {
		t.Errorf("expected parsed payload, got %s", ext.Payload)
	}
	if ext.RepairApplied || !ext.UsageComplete {
		t.Errorf("unexpected flags: %+v", ext)
	}
}

func TestExtract_JoinsFragments(t *testing.T) {
	resp := &generation.Response{
		Status: generation.StatusCompleted,
		Output: []string{"```json\n{\"a\":", "[1,2]}\n```"},
	}
	ext, err := Extract(resp, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(ext.Payload) != `{"a":[1,2]}` {
		t.Errorf("unexpected payload %s", ext.Payload)
	}
}

func TestExtract_RepairsTruncated(t *testing.T) {
	resp := generation.TruncatedResponse(`{"items":[{"a":1}`)
	ext, err := Extract(resp, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ext.RepairApplied {
		t.Error("expected RepairApplied")
	}
	if ext.UsageComplete {
		t.Error("expected UsageComplete=false for a truncated response")
	}
}

func TestExtract_SynthesizesEmpty(t *testing.T) {
	resp := generation.TruncatedResponse("")
	ext, err := Extract(resp, Options{EmptyPayload: `{"items":[]}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ext.Synthesized || string(ext.Payload) != `{"items":[]}` {
		t.Errorf("expected synthesized payload, got %+v", ext)
	}
}

func TestExtract_EmptyCompleteFails(t *testing.T) {
	_, err := Extract(generation.TextResponse("   "), Options{})
	if generation.KindOf(err) != generation.KindJSONParse {
		t.Errorf("expected json_parse error, got %v", err)
	}
}

func TestExtract_Garbage(t *testing.T) {
	_, err := Extract(generation.TextResponse("no json here"), Options{})
	if generation.KindOf(err) != generation.KindJSONParse {
		t.Errorf("expected json_parse error, got %v", err)
	}
}

type payload struct {
	Items []struct {
		ID string `json:"id" validate:"required"`
	} `json:"items" validate:"required,dive"`
}

func TestDecode_Validation(t *testing.T) {
	ext := &Extraction{Payload: json.RawMessage(`{"items":[{"id":""}]}`), UsageComplete: true}
	var p payload
	err := Decode(ext, &p)
	if generation.KindOf(err) != generation.KindSchemaValidation {
		t.Errorf("expected schema_validation error, got %v", err)
	}

	ext.UsageComplete = false
	if err := Decode(ext, &p); err != nil {
		t.Errorf("expected truncated payload to skip validation, got %v", err)
	}
}

func TestDecode_BadJSON(t *testing.T) {
	var p payload
	err := Decode(&Extraction{Payload: json.RawMessage(`{"items":"x"}`), UsageComplete: true}, &p)
	if generation.KindOf(err) != generation.KindJSONParse {
		t.Errorf("expected json_parse error, got %v", err)
	}
}

func TestItems(t *testing.T) {
	items := Items(json.RawMessage(`{"issues":[{"a":1},{"a":2}]}`), "issues")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if string(items[1]) != `{"a":2}` {
		t.Errorf("unexpected item %s", items[1])
	}
	if Items(json.RawMessage(`{}`), "issues") != nil {
		t.Error("expected nil for a missing path")
	}
}

func TestDecodeItems(t *testing.T) {
	type item struct {
		ID string `json:"id" validate:"required"`
	}
	ext := &Extraction{Payload: json.RawMessage(`{"items":[{"id":"a"},{"id":""},"x",{"id":"b"}]}`), UsageComplete: true}

	items, dropped, err := DecodeItems[item](ext, "items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]item{{ID: "a"}, {ID: "b"}}, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	_, _, err = DecodeItems[item](&Extraction{Payload: json.RawMessage(`{"items":{}}`)}, "items")
	if generation.KindOf(err) != generation.KindJSONParse {
		t.Errorf("expected json_parse error for a missing array, got %v", err)
	}
}

func TestText(t *testing.T) {
	got, err := Text(generation.TextResponse("Here's the revised text: Готово"))
	if err != nil || got != "Готово" {
		t.Errorf("Text() = %q, %v", got, err)
	}
	if got, err := Text(generation.TruncatedResponse("")); err != nil || got != "" {
		t.Errorf("expected empty text without error for truncated response, got %q, %v", got, err)
	}
}
