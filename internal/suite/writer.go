// Package suite writes generated prompt suites to disk: one markdown file per
// role as soon as the role completes, then an overview and a JSON document
// when the run is assembled.
package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

const (
	// OverviewFile is written at assembly.
	OverviewFile = "0_overview.md"
	// DataFile holds the JSON form of the assembled suite.
	DataFile = "_data.json"

	maxKeywordRunes = 20
)

// ErrSuiteNotFound is returned by Get for unknown suite names.
var ErrSuiteNotFound = errors.New("suite not found")

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// Requirement is the request a suite was generated from.
type Requirement struct {
	Description string `json:"description"`
	Type        string `json:"type"`
	TargetModel string `json:"target_model"`
}

// Data is the JSON document stored next to a suite's markdown files.
type Data struct {
	RunID        string             `json:"run_id"`
	Requirement  Requirement        `json:"requirement"`
	Suite        *domain.Suite      `json:"suite"`
	TestResult   *domain.TestResult `json:"test_result,omitempty"`
	AverageScore float64            `json:"average_score"`
	SavedAt      time.Time          `json:"saved_at"`
}

// Summary describes a saved suite for listings.
type Summary struct {
	Name         string    `json:"name"`
	SystemName   string    `json:"system_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	RolesCount   int       `json:"roles_count"`
	AverageScore float64   `json:"average_score"`
	SavedAt      time.Time `json:"saved_at"`
}

// Writer renders suites below a result directory.
type Writer struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	dirs map[string]string // run id -> result directory
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithClock sets the time source used for folder names and timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		root:   dir,
		logger: slog.Default(),
		now:    time.Now,
		dirs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the result directory.
func (w *Writer) Root() string {
	return w.root
}

// PrepareRun creates the folder for a run, named after a keyword of the
// description and the current date, and returns its path. Calling it again
// for the same run returns the same folder.
func (w *Writer) PrepareRun(runID, description string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir, ok := w.dirs[runID]; ok {
		return dir, nil
	}

	now := w.now()
	name := fmt.Sprintf("%s_%s", Keyword(description, now), now.Format("2006-01-02"))
	dir := filepath.Join(w.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create result dir: %w", err)
	}

	w.dirs[runID] = dir
	return dir, nil
}

func (w *Writer) runDir(runID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.dirs[runID]
	if !ok {
		return "", fmt.Errorf("no result dir prepared for run %s", runID)
	}
	return dir, nil
}

// RoleFilename returns the file name used for the role at index.
func RoleFilename(index int, p domain.RolePrompt) string {
	name := p.RoleName
	if name == "" {
		name = p.RoleID
	}
	if name == "" {
		name = fmt.Sprintf("role_%d", index)
	}
	return fmt.Sprintf("%d_%s.md", index+1, unsafeNameChars.ReplaceAllString(name, "_"))
}

// WriteRoleArtifact writes the markdown file of one completed role and
// returns its path.
func (w *Writer) WriteRoleArtifact(runID string, index int, p domain.RolePrompt) (string, error) {
	dir, err := w.runDir(runID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, RoleFilename(index, p))
	if err := writeFileAtomic(path, []byte(renderRole(p))); err != nil {
		return "", err
	}

	w.logger.Debug("Role artifact written", "run_id", runID, "role", p.RoleName, "path", path)
	return path, nil
}

// WriteFinalArtifact writes the overview and the JSON document of an
// assembled suite and returns the folder path.
func (w *Writer) WriteFinalArtifact(runID string, data *Data) (string, error) {
	dir, err := w.runDir(runID)
	if err != nil {
		return "", err
	}

	data.RunID = runID
	if data.SavedAt.IsZero() {
		data.SavedAt = w.now()
	}

	if err := writeFileAtomic(filepath.Join(dir, OverviewFile), []byte(renderOverview(data))); err != nil {
		return "", err
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal suite: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, DataFile), raw); err != nil {
		return "", err
	}

	w.logger.Info("Suite written", "run_id", runID, "path", dir)
	return dir, nil
}

// List returns every saved suite, newest first. Folders without a readable
// data file are listed by name only.
func (w *Writer) List() ([]Summary, error) {
	entries, err := os.ReadDir(w.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s := Summary{Name: entry.Name()}
		if data, err := w.read(entry.Name()); err == nil {
			s.Description = data.Requirement.Description
			s.AverageScore = data.AverageScore
			s.SavedAt = data.SavedAt
			if data.Suite != nil {
				s.SystemName = data.Suite.SystemName
				s.RolesCount = data.Suite.TotalRoles
			}
		} else if info, err := entry.Info(); err == nil {
			s.SavedAt = info.ModTime()
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

// Get returns the stored document of a suite.
func (w *Writer) Get(name string) (*Data, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, ErrSuiteNotFound
	}
	data, err := w.read(name)
	if os.IsNotExist(err) {
		return nil, ErrSuiteNotFound
	}
	return data, err
}

func (w *Writer) read(name string) (*Data, error) {
	raw, err := os.ReadFile(filepath.Join(w.root, name, DataFile))
	if err != nil {
		return nil, err
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &data, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var (
	keywordPrefixes = []string{
		"i need ", "i want ", "please ", "help me ", "create ", "generate ", "build ", "make ", "write ",
		"我需要", "我想要", "帮我", "请", "给我", "创建", "生成", "做一个", "写一个", "一个",
		"a ", "an ",
	}
	keywordSuffixes = []string{
		" prompts", " prompt", " assistant", " system",
		"的提示词", "提示词", "的prompt", "prompt", "助手", "系统",
	}
)

// Keyword derives a short folder-safe name from a description.
func Keyword(description string, now time.Time) string {
	kw := strings.TrimSpace(description)

	for _, p := range keywordPrefixes {
		if len(kw) > len(p) && strings.EqualFold(kw[:len(p)], p) {
			kw = strings.TrimSpace(kw[len(p):])
		}
	}
	for _, s := range keywordSuffixes {
		if len(kw) > len(s) && strings.EqualFold(kw[len(kw)-len(s):], s) {
			kw = strings.TrimSpace(kw[:len(kw)-len(s)])
		}
	}

	if r := []rune(kw); len(r) > maxKeywordRunes {
		kw = strings.TrimSpace(string(r[:maxKeywordRunes]))
	}
	kw = strings.Join(strings.Fields(kw), "_")
	kw = unsafeNameChars.ReplaceAllString(kw, "_")

	if kw == "" {
		kw = fmt.Sprintf("prompt_%d", now.Unix())
	}
	return kw
}
