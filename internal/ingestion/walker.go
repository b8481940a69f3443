// Package ingestion discovers the files of a repository and feeds them
// through extraction, chunking and storage.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const (
	// IndexDir is the directory, relative to the repository root, holding
	// the index. It is never walked.
	IndexDir = ".repoctx"

	// MaxFileBytes is the largest file that is indexed.
	MaxFileBytes = 1 << 20

	// LanguageText tags files without a known language.
	LanguageText = "text"
)

// ErrNotText reports a file that is too large or not text. Such files are
// skipped, never indexed.
var ErrNotText = errors.New("not an indexable text file")

// FileEntry represents a file to be processed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the slash-separated path relative to the repo root. It is
	// the path stored in the index.
	RelPath string

	// Language is the detected programming language.
	Language string

	// Content is the file content.
	Content []byte

	// SHA256 is the hex hash of Content.
	SHA256 string
}

// Languages by lower-cased file extension. Structural extraction exists
// for python, typescript, javascript and go; every other text file is
// chunked and searched only.
var languageByExtension = map[string]string{
	".py":         "python",
	".pyi":        "python",
	".pyx":        "python",
	".ts":         "typescript",
	".tsx":        "typescript",
	".mts":        "typescript",
	".cts":        "typescript",
	".js":         "javascript",
	".jsx":        "javascript",
	".mjs":        "javascript",
	".cjs":        "javascript",
	".go":         "go",
	".java":       "java",
	".kt":         "kotlin",
	".kts":        "kotlin",
	".rs":         "rust",
	".c":          "c",
	".h":          "c",
	".cpp":        "cpp",
	".hpp":        "cpp",
	".cc":         "cpp",
	".cxx":        "cpp",
	".cs":         "csharp",
	".rb":         "ruby",
	".php":        "php",
	".swift":      "swift",
	".scala":      "scala",
	".sh":         "bash",
	".bash":       "bash",
	".zsh":        "zsh",
	".md":         "markdown",
	".rst":        "restructuredtext",
	".adoc":       "asciidoc",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".json":       "json",
	".ini":        "ini",
	".cfg":        "ini",
	".html":       "html",
	".css":        "css",
	".scss":       "scss",
	".less":       "less",
	".vue":        "vue",
	".svelte":     "svelte",
	".sql":        "sql",
	".graphql":    "graphql",
	".proto":      "protobuf",
	".dockerfile": "dockerfile",
}

// Languages of extensionless file names, lower-cased.
var languageByName = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
	"rakefile":   "ruby",
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	IndexDir + "/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".eggs/",
	"*.egg-info/",
	".pytest_cache/",
	".mypy_cache/",
	".nox/",
	".ruff_cache/",
	".cache/",
	".idea/",
	".vscode/",
	".svn/",
	".hg/",
	"dist/",
	"build/",
	"target/",
	"coverage/",
	"htmlcov/",
	".coverage",
	"*.pyc",
	"*.swp",
	"*.min.js",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"poetry.lock",
	"Cargo.lock",
	"go.sum",
	".DS_Store",
}

// Matcher decides which paths of a repository are ignored.
type Matcher struct {
	root    string
	matcher gitignore.Matcher
}

// NewMatcher combines the default ignore patterns with the repository's
// root .gitignore, if any.
func NewMatcher(root string) (*Matcher, error) {
	loaded, err := loadGitignore(root)
	if err != nil {
		return nil, err
	}
	patterns := append(defaultPatterns(), loaded...)

	return &Matcher{root: root, matcher: gitignore.NewMatcher(patterns)}, nil
}

// Ignored reports whether the absolute path is excluded.
func (m *Matcher) Ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	return m.matcher.Match(splitPath(rel), isDir)
}

// Watched reports whether changes to the file at path are indexed.
func (m *Matcher) Watched(path string) bool {
	return !m.Ignored(path, false)
}

// WalkRepo walks the repository and returns every text file that the
// matcher keeps, ordered by relative path. Binary files and files larger
// than MaxFileBytes are skipped. A nil matcher applies the default
// patterns only.
func WalkRepo(root string, m *Matcher) ([]FileEntry, error) {
	if m == nil {
		m = &Matcher{root: root, matcher: gitignore.NewMatcher(defaultPatterns())}
	}

	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && m.Ignored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.Ignored(path, false) {
			return nil
		}

		entry, err := ReadEntry(root, path)
		if errors.Is(err, ErrNotText) {
			return nil
		}
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// ReadEntry loads one file below root. Files over MaxFileBytes and
// binary files fail with ErrNotText.
func ReadEntry(root, path string) (FileEntry, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileEntry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, err
	}
	if info.Size() > MaxFileBytes {
		return FileEntry{}, fmt.Errorf("%s: %w: %d bytes", filepath.ToSlash(rel), ErrNotText, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileEntry{}, err
	}
	if !IsText(content) {
		return FileEntry{}, fmt.Errorf("%s: %w: %s", filepath.ToSlash(rel), ErrNotText, mimetype.Detect(content))
	}
	hash := sha256.Sum256(content)
	return FileEntry{
		Path:     path,
		RelPath:  filepath.ToSlash(rel),
		Language: DetectLanguage(path),
		Content:  content,
		SHA256:   hex.EncodeToString(hash[:]),
	}, nil
}

// IsText reports whether content sniffs as text. Empty content is text.
func IsText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	for mt := mimetype.Detect(content); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

// DetectLanguage returns the language for a file name. Unknown names are
// LanguageText.
func DetectLanguage(filename string) string {
	base := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(base))
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	if ext == "" {
		if lang, ok := languageByName[strings.ToLower(base)]; ok {
			return lang
		}
	}
	return LanguageText
}

func defaultPatterns() []gitignore.Pattern {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	return patterns
}

// loadGitignore loads .gitignore patterns from the repository root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(filepath.ToSlash(path), "/")
}
