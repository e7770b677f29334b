package postprocess

import "testing"

func TestRemoveThinkingBlocks(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"empty", "", ""},
		{"no blocks", "Plain revision text.", "Plain revision text."},
		{"thinking", "Some text<thinking>Let me revise this</thinking>More text", "Some textMore text"},
		{"reasoning", "Start<reasoning>Analyzing</reasoning>End", "StartEnd"},
		{"reflection", "Begin<reflection>Checking</reflection>Finish", "BeginFinish"},
		{"multiple", "<think>First</think>middle<think>Second</think>", "middle"},
		{"truncated", "<thinking>Cut off mid", ""},
		{"truncated after content", "Before<thinking>Incomplete", "Before"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeThinkingBlocks(tt.input); got != tt.expected {
				t.Errorf("removeThinkingBlocks(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRemoveInstructionEchoes(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"no echo", "Just a normal translation.", "Just a normal translation."},
		{"here's", "Here's the translation: Actual text", "Actual text"},
		{"revised", "Here is the revised text: Done", "Done"},
		{"the revision", "The revision: Hello world", "Hello world"},
		{"sure", "Sure, here's the polished translation: Done", "Done"},
		{"not at start", "Before Here's the translation: After", "Before Here's the translation: After"},
		{"no colon", "Here's the translation text", "Here's the translation text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeInstructionEchoes(tt.input); got != tt.expected {
				t.Errorf("removeInstructionEchoes(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRemoveQuoteWrapping(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"single char", "a", "a"},
		{"double", "\"Hello world\"", "Hello world"},
		{"guillemets", "«Hello world»", "Hello world"},
		{"curly", "“Hello world”", "Hello world"},
		{"unmatched", "\"Hello world'", "\"Hello world'"},
		{"inner quotes kept", "\"He said \"hello\"\"", "He said \"hello\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removeQuoteWrapping(tt.input); got != tt.expected {
				t.Errorf("removeQuoteWrapping(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestClean(t *testing.T) {
	input := "<thinking>Thinking</thinking>Here's the translation:\n\"Translated text\""
	if got := Clean(input); got != "Translated text" {
		t.Errorf("Clean() = %q, want %q", got, "Translated text")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"unterminated", "```json\n{\"a\":[1,", `{"a":[1,`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.input); got != tt.expected {
				t.Errorf("StripFences(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"preamble", "Sure! Here you go: {\"a\":1}", `{"a":1}`},
		{"thinking and fence", "<think>hmm</think>```json\n{\"a\":1}\n```", `{"a":1}`},
		{"string literal", `"quoted"`, `"quoted"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanJSON(tt.input); got != tt.expected {
				t.Errorf("CleanJSON(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
