package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/placeholder"
)

type promptUnit struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Draft     string `json:"draft,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func encodeUnits(units []promptUnit) string {
	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		// promptUnit holds only strings.
		panic(err)
	}
	return string(data)
}

func messages(system, user string) []generation.Message {
	return []generation.Message{
		{Role: generation.RoleSystem, Content: system},
		{Role: generation.RoleUser, Content: user},
	}
}

func profileBlock(p *Profile) string {
	if p == nil || p.Domain == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\nDOCUMENT PROFILE:\n- Domain: %s\n- Tone: %s\n- Register: %s\n", p.Domain, p.Tone, p.Register)
	if p.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", p.Summary)
	}
	if len(p.Terms) > 0 {
		b.WriteString("- Terminology:\n")
		for _, t := range p.Terms {
			fmt.Fprintf(&b, "  %s => %s\n", t.Source, t.Target)
		}
	}
	return b.String()
}

func buildProfilePrompt(sourceLang, targetLang, sample string, compact bool) []generation.Message {
	if compact {
		return messages(
			`Describe the document. Reply with JSON only: {"domain":"","tone":"","register":""}.`,
			sample,
		)
	}
	system := fmt.Sprintf(`You are a senior translation project manager preparing a %s to %s translation.

Read the document excerpt and describe it so translators can stay consistent.

Reply with a single JSON object:
{"domain": "...", "tone": "...", "register": "...", "summary": "...", "terms": [{"source": "...", "target": "..."}]}

- domain: subject area (e.g. legal, medical, fiction, software)
- tone: overall voice (e.g. neutral, persuasive, playful)
- register: formality level (e.g. formal, neutral, colloquial)
- summary: one or two sentences
- terms: up to 15 recurring terms with their preferred %s rendering

Output ONLY the JSON object.`, sourceLang, targetLang, targetLang)
	return messages(system, "DOCUMENT EXCERPT:\n"+sample)
}

func buildDraftPrompt(sourceLang, targetLang string, p *Profile, context string, units []promptUnit, compact bool) []generation.Message {
	payload := encodeUnits(units)
	if compact {
		return messages(
			fmt.Sprintf(`Translate each unit from %s to %s. %s Reply with JSON only: {"translations":[{"id":"","text":""}]}.`,
				sourceLang, targetLang, placeholder.InstructionHint()),
			payload,
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are a professional %s to %s translator.
%s
# TASK

Translate every unit in the input array. Each unit may carry a "reference" machine translation; use it only as a hint.

# RULES

- Translate the meaning faithfully; do not add or omit content
- Keep names, numbers and formatting
- %s
- Return exactly one translation per unit id, in input order

Reply with a single JSON object:
{"translations": [{"id": "<unit id>", "text": "<translation>"}]}

Output ONLY the JSON object.`, sourceLang, targetLang, profileBlock(p), placeholder.InstructionHint())

	user := "UNITS:\n" + payload
	if context != "" {
		user = "PRECEDING CONTEXT (do not translate):\n" + context + "\n\n" + user
	}
	return messages(b.String(), user)
}

func buildRevisePrompt(sourceLang, targetLang string, p *Profile, units []promptUnit, compact bool) []generation.Message {
	payload := encodeUnits(units)
	format := "Write each revised unit on its own block, starting with a line <<id>> holding the unit id."
	if compact {
		return messages(
			fmt.Sprintf("Polish each %s draft translation. %s No commentary.", targetLang, format),
			payload,
		)
	}
	system := fmt.Sprintf(`You are an elite %s editor and prose stylist.

# YOUR TASK: REFINE AND POLISH

Each input unit holds the ORIGINAL %s text and a DRAFT %s translation.
Rewrite every draft so it reads naturally in %s.
%s
**Priority:**
1. Natural flow
2. Idiomatic expressions
3. Preserve meaning

**What to Preserve:**
- All factual content and meaning
- Names and proper nouns
- [PHn] markers and formatting

CRITICAL: If a draft is already good, return it unchanged.

# OUTPUT FORMAT

%s
Example:
<<u1>>
Revised text of u1.
<<u2>>
Revised text of u2.

Output ONLY the revised units.`, targetLang, sourceLang, targetLang, targetLang, profileBlock(p), format)
	return messages(system, "UNITS:\n"+payload)
}

func buildProofreadPrompt(sourceLang, targetLang string, units []promptUnit, compact bool) []generation.Message {
	payload := encodeUnits(units)
	if compact {
		return messages(
			`List translation errors. Reply with JSON only: {"issues":[{"unit_id":"","severity":"minor|major|critical","suggestion":""}]}. Use {"issues":[]} when there are none.`,
			payload,
		)
	}
	system := fmt.Sprintf(`You are a meticulous proofreader checking a %s to %s translation.

Each input unit holds the ORIGINAL text and its translation in "draft".
Report only real problems: mistranslations, omissions, additions, grammar, terminology.

Reply with a single JSON object:
{"issues": [{"unit_id": "...", "severity": "minor|major|critical", "category": "...", "original": "...", "suggestion": "...", "explanation": "..."}]}

- unit_id must be one of the input ids
- original: the faulty fragment of the translation
- suggestion: the corrected fragment

Reply with {"issues": []} when the translation is clean.
Output ONLY the JSON object.`, sourceLang, targetLang)
	return messages(system, "UNITS:\n"+payload)
}

var (
	profileSchema = json.RawMessage(`{"type":"object","required":["domain","tone","register"],"properties":{"domain":{"type":"string"},"tone":{"type":"string"},"register":{"type":"string"},"summary":{"type":"string"},"terms":{"type":"array","items":{"type":"object","required":["source","target"],"properties":{"source":{"type":"string"},"target":{"type":"string"}}}}}}`)
	draftSchema   = json.RawMessage(`{"type":"object","required":["translations"],"properties":{"translations":{"type":"array","items":{"type":"object","required":["id","text"],"properties":{"id":{"type":"string"},"text":{"type":"string"}}}}}}`)
	issuesSchema  = json.RawMessage(`{"type":"object","required":["issues"],"properties":{"issues":{"type":"array","items":{"type":"object","required":["unit_id","severity"],"properties":{"unit_id":{"type":"string"},"severity":{"type":"string","enum":["minor","major","critical"]},"category":{"type":"string"},"original":{"type":"string"},"suggestion":{"type":"string"},"explanation":{"type":"string"}}}}}}`)
)
