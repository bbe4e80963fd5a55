// Package prompts provides the agent system prompts with language fallback
// and override support.
package prompts

import "embed"

//go:embed agents/*/*.md
var embeddedFS embed.FS
