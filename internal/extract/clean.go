package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SalvageMinLength is the length above which raw optimizer output is
// accepted as a prompt when it contains markup.
const SalvageMinLength = 500

var (
	fenceOpenPattern  = regexp.MustCompile("^```(?:json|xml)?\\s*\\n?")
	fenceClosePattern = regexp.MustCompile("\\n?```\\s*$")
	taggedBodyPattern = regexp.MustCompile(`(<(?:role|system|prompt|task)>[\s\S]*</(?:role|system|prompt|task)>)`)
)

// hasPromptTags reports whether s already looks like a tagged prompt body.
func hasPromptTags(s string) bool {
	return strings.Contains(s, "<role>") || strings.Contains(s, "<task>") || strings.Contains(s, "<system>")
}

// CleanPrompt unwraps prompt text that an agent returned wrapped in a code
// fence or a JSON document with a "prompt" field. Tagged prompt bodies are
// returned as they are.
func CleanPrompt(raw string) string {
	if raw == "" {
		return ""
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		body := fenceOpenPattern.ReplaceAllString(trimmed, "")
		body = fenceClosePattern.ReplaceAllString(body, "")
		if p, ok := promptFromJSON(body); ok {
			return p
		}
		if hasPromptTags(body) {
			return body
		}
	}

	if hasPromptTags(raw) {
		return raw
	}
	if p, ok := promptFromJSON(raw); ok {
		return p
	}
	return raw
}

func promptFromJSON(s string) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return "", false
	}
	p, ok := doc["prompt"].(string)
	return p, ok
}

// Salvage recovers a prompt from optimizer output that held no parseable
// record: the outermost tagged prompt block, or the whole output when it is
// long and contains markup. It reports false when neither applies.
func Salvage(output string) (string, bool) {
	if m := taggedBodyPattern.FindString(output); m != "" {
		return m, true
	}
	if len(output) > SalvageMinLength && strings.ContainsAny(output, "<#") {
		return strings.TrimSpace(output), true
	}
	return "", false
}
