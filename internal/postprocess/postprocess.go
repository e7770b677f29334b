// Package postprocess strips chatter that models wrap around their actual
// output: reasoning blocks, echoed instructions, quote wrapping and markdown
// code fences.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes reasoning blocks, instruction echoes and quote wrapping from
// free-text output.
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeInstructionEchoes(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// CleanJSON prepares structured output for parsing. It removes reasoning
// blocks and code fences and drops any prose before the first bracket. Quote
// wrapping is left alone since a JSON string literal is quoted.
func CleanJSON(text string) string {
	text = removeThinkingBlocks(text)
	text = StripFences(text)
	if i := strings.IndexAny(text, "{["); i > 0 {
		text = text[i:]
	}
	return strings.TrimSpace(text)
}

// Go's RE2 engine has no backreferences, so each tag pair is listed.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opened tag with no closing tag means the model was cut off mid-thought.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoPatterns are anchored at the start and require a colon.
var echoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:refined |polished |revised |translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:refined |polished |revised )?(?:translation|translated text|revision)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:refined |polished |revised |translated )?(?:translation|text)\s*:`),
}

func removeInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// removeQuoteWrapping strips one matching pair of outer quotes:
//
//	"…"  '…'  «…»  “…”  ‘…’
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}

// fenceRe matches an opening fence with an optional language tag. The closing
// fence is optional because truncated output may never reach it.
var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n?(.*?)(?:\\n?```\\s*)?$")

// StripFences unwraps text enclosed in a markdown code fence.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
