package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when a template is missing in the configured language.
const DefaultLanguage = "en"

// Languages lists the languages shipped with the binary.
var Languages = []string{"en", "cn"}

// ErrTemplateNotFound is returned when no template exists for an agent in
// the configured or the default language.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateMeta holds frontmatter metadata for agent templates.
type TemplateMeta struct {
	Agent       string `yaml:"agent"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     int    `yaml:"version"`
}

// Vars are the values available to agent templates.
type Vars struct {
	PassScore     float64
	MaxIterations int
	Language      string
}

// Template is a parsed agent template.
type Template struct {
	Agent    string
	Language string
	Source   string // "embedded" or the override file path
	Meta     *TemplateMeta
	tmpl     *template.Template
}

// Loader resolves agent templates: override directories first, then the
// embedded defaults; the configured language first, then DefaultLanguage.
type Loader struct {
	language     string
	overrideDirs []string // Directories to check for overrides (in priority order)
	vars         Vars
	cache        map[string]*Template
	mu           sync.RWMutex
}

// NewLoader creates a loader for language with the given override directories.
// Each override directory mirrors the embedded layout: <dir>/<lang>/<agent>.md.
func NewLoader(language string, overrideDirs ...string) *Loader {
	if language == "" {
		language = DefaultLanguage
	}
	return &Loader{
		language:     language,
		overrideDirs: overrideDirs,
		vars:         Vars{PassScore: 8.0, MaxIterations: 3, Language: language},
		cache:        make(map[string]*Template),
	}
}

// DefaultOverrideDirs returns the standard override paths:
// 1. Project-local: .prompt-factory/prompts/
// 2. User config: ~/.config/prompt-factory/prompts/
func DefaultOverrideDirs(projectRoot string) []string {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".prompt-factory", "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "prompt-factory", "prompts"))

	return dirs
}

// Language returns the configured language.
func (l *Loader) Language() string {
	return l.language
}

// OverrideDirs returns the override directories in priority order.
func (l *Loader) OverrideDirs() []string {
	return append([]string(nil), l.overrideDirs...)
}

// SetVars sets the values templates are rendered with.
func (l *Loader) SetVars(v Vars) {
	l.mu.Lock()
	if v.Language == "" {
		v.Language = l.language
	}
	l.vars = v
	l.mu.Unlock()
}

// languages returns the lookup order for templates.
func (l *Loader) languages() []string {
	if l.language == DefaultLanguage {
		return []string{l.language}
	}
	return []string{l.language, DefaultLanguage}
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(lang, agent string) ([]byte, string, error) {
	name := agent + ".md"

	// Check override directories first
	for _, dir := range l.overrideDirs {
		fullPath := filepath.Join(dir, lang, name)
		if data, err := os.ReadFile(fullPath); err == nil {
			return data, fullPath, nil
		}
	}

	// Fall back to embedded
	data, err := fs.ReadFile(embeddedFS, path.Join("agents", lang, name))
	return data, "embedded", err
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := strings.ReplaceAll(string(content), "\r\n", "\n")

	// Check for frontmatter delimiter
	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil // No frontmatter
	}

	// Find closing delimiter
	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:] // Skip closing "---\n"

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// Load returns the parsed template for agent.
func (l *Loader) Load(agent string) (*Template, error) {
	l.mu.RLock()
	if t, ok := l.cache[agent]; ok {
		l.mu.RUnlock()
		return t, nil
	}
	l.mu.RUnlock()

	for _, lang := range l.languages() {
		content, source, err := l.loadContent(lang, agent)
		if err != nil {
			continue
		}

		meta, body, err := parseFrontmatter(content)
		if err != nil {
			return nil, fmt.Errorf("parse %s/%s: %w", lang, agent, err)
		}

		tmpl, err := template.New(agent).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("compile template %s/%s: %w", lang, agent, err)
		}

		t := &Template{Agent: agent, Language: lang, Source: source, Meta: meta, tmpl: tmpl}
		l.mu.Lock()
		l.cache[agent] = t
		l.mu.Unlock()
		return t, nil
	}

	return nil, fmt.Errorf("%w: %s (language %s)", ErrTemplateNotFound, agent, l.language)
}

// Get returns the rendered system prompt for agent.
func (l *Loader) Get(agent string) (string, error) {
	t, err := l.Load(agent)
	if err != nil {
		return "", err
	}

	l.mu.RLock()
	vars := l.vars
	l.mu.RUnlock()

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute %s: %w", agent, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// List returns every agent template available in the configured language,
// including fallbacks, sorted by agent name.
func (l *Loader) List() ([]*Template, error) {
	seen := make(map[string]struct{})
	for _, lang := range l.languages() {
		entries, err := fs.ReadDir(embeddedFS, path.Join("agents", lang))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			seen[strings.TrimSuffix(entry.Name(), ".md")] = struct{}{}
		}
	}

	agents := make([]string, 0, len(seen))
	for a := range seen {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	result := make([]*Template, 0, len(agents))
	for _, a := range agents {
		t, err := l.Load(a)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// ClearCache drops parsed templates so the next lookup rereads them.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*Template)
	l.mu.Unlock()
}
