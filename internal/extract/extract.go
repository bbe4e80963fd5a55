// Package extract pulls structured records out of free-form LLM output.
//
// Parse never fails loudly: every strategy that does not apply hands over
// to the next one, and the caller gets a tagged Result.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind tags how much of a response could be recovered.
type Kind int

const (
	// None means nothing could be extracted.
	None Kind = iota
	// Partial means only the prompt field was recovered by pattern matching.
	Partial
	// Full means a complete JSON object was parsed.
	Full
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "none"
	}
}

// Result is the outcome of Parse. Record is nil when Kind is None.
type Result struct {
	Kind   Kind
	Record Record
}

// OK reports whether anything was extracted.
func (r Result) OK() bool {
	return r.Kind != None
}

var (
	// fencePattern matches the body of the first markdown code fence.
	fencePattern = regexp.MustCompile("```(?:[A-Za-z0-9_-]+)?[ \\t]*\\n?([\\s\\S]*?)\\n?```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// promptFieldPattern matches a quoted or backtick-quoted "prompt" value.
	promptFieldPattern = regexp.MustCompile("\"prompt\"\\s*:\\s*\"((?:[^\"\\\\]|\\\\.)*)\"|\"prompt\"\\s*:\\s*`((?:[^`\\\\]|\\\\.)*)`")
)

// Parse extracts a record from text. Strategies in order: fenced block,
// first balanced object, trailing comma repair, prompt field pattern.
func Parse(text string) Result {
	for _, candidate := range candidates(text) {
		if rec, ok := decodeObject(candidate); ok {
			return Result{Kind: Full, Record: rec}
		}
		if repaired := trailingCommaPattern.ReplaceAllString(candidate, "$1"); repaired != candidate {
			if rec, ok := decodeObject(repaired); ok {
				return Result{Kind: Full, Record: rec}
			}
		}
	}

	if prompt, ok := promptField(text); ok {
		return Result{Kind: Partial, Record: Record{"prompt": prompt}}
	}

	return Result{Kind: None}
}

// candidates returns the spans of text that may hold the JSON object, most
// likely first. The object scan still runs when a fence exists, since a
// prompt value may contain a fence of its own.
func candidates(text string) []string {
	var out []string
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if span := firstObject(text); span != "" && (len(out) == 0 || out[0] != span) {
		out = append(out, span)
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(text))
	}
	return out
}

// firstObject returns the first balanced {...} span, ignoring braces inside
// JSON strings. Unbalanced input falls back to first '{' through last '}'.
func firstObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	if end := strings.LastIndexByte(text, '}'); end > start {
		return text[start : end+1]
	}
	return ""
}

func decodeObject(s string) (Record, bool) {
	if s == "" {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil || rec == nil {
		return nil, false
	}
	return rec, true
}

func promptField(text string) (string, bool) {
	m := promptFieldPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	content := m[1]
	if content == "" {
		content = m[2]
	}
	if content == "" {
		return "", false
	}

	var unescaped string
	if err := json.Unmarshal([]byte(`"`+content+`"`), &unescaped); err == nil {
		return unescaped, true
	}
	return content, true
}
