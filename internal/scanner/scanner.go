// Package scanner finds the source files an analysis run covers.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/panbanda/spectrometer/pkg/config"
	"github.com/panbanda/spectrometer/pkg/parser"
)

// ErrNoFiles is reported when a scan finds nothing to analyze.
var ErrNoFiles = errors.New("no source files found")

// Result is the outcome of a scan. Files are absolute and sorted.
type Result struct {
	Root        string         `json:"root"`
	Files       []string       `json:"files"`
	Languages   map[string]int `json:"languages"`
	Excluded    int            `json:"excluded"`
	TooLarge    int            `json:"too_large"`
	Unsupported int            `json:"unsupported"`
}

// Scanner finds source files in a directory.
type Scanner struct {
	config    *config.Config
	matchers  []gitignore.Matcher
	matchBase string
	langs     map[parser.Language]bool
	dirs      map[string]bool
}

// NewScanner creates a new file scanner.
func NewScanner(cfg *config.Config) *Scanner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Scanner{config: cfg, dirs: make(map[string]bool)}
	for _, d := range cfg.Exclude.Dirs {
		s.dirs[d] = true
	}
	if len(cfg.Analysis.Languages) > 0 {
		s.langs = make(map[parser.Language]bool)
		for _, l := range cfg.Analysis.Languages {
			s.langs[parser.Language(l)] = true
		}
	}
	return s
}

// findGitRoot finds the root of the git repository by looking for .git directory.
// Returns empty string if not in a git repository.
func findGitRoot(start string) string {
	dir := start
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadExcludePatterns builds the gitignore matcher from config patterns and,
// when enabled, every .gitignore below the repository root. Patterns are
// matched relative to matchBase.
func (s *Scanner) loadExcludePatterns(root string) {
	s.matchers = nil
	s.matchBase = root

	var patterns []gitignore.Pattern
	for _, pattern := range s.config.Exclude.Patterns {
		patterns = append(patterns, gitignore.ParsePattern(pattern, nil))
	}

	if s.config.Exclude.Gitignore {
		base := findGitRoot(root)
		if base == "" {
			base = root
		}
		s.matchBase = base
		if gitPatterns, err := gitignore.ReadPatterns(osfs.New(base), nil); err == nil {
			patterns = append(patterns, gitPatterns...)
		}
	}

	if len(patterns) > 0 {
		s.matchers = append(s.matchers, gitignore.NewMatcher(patterns))
	}
}

// isExcluded checks an absolute path against the gitignore matchers.
func (s *Scanner) isExcluded(path string, isDir bool) bool {
	if len(s.matchers) == 0 {
		return false
	}
	rel, err := filepath.Rel(s.matchBase, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, m := range s.matchers {
		if m.Match(parts, isDir) {
			return true
		}
	}
	return false
}

// included reports whether rel matches the include globs. No globs
// includes everything.
func (s *Scanner) included(rel string) bool {
	if len(s.config.Include) == 0 {
		return true
	}
	for _, pattern := range s.config.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) supported(lang parser.Language) bool {
	if lang == parser.LangUnknown {
		return false
	}
	return s.langs == nil || s.langs[lang]
}

// Scan finds the source files under root. A root that is a regular file
// yields that file when it is analyzable.
func (s *Scanner) Scan(root string) (*Result, error) {
	for _, pattern := range s.config.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}

	res := &Result{Root: absRoot, Languages: make(map[string]int)}
	if !info.IsDir() {
		res.Root = filepath.Dir(absRoot)
		s.loadExcludePatterns(res.Root)
		s.consider(res, absRoot, info.Size())
		return res, nil
	}

	s.loadExcludePatterns(absRoot)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		// Symlinks must resolve inside root.
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil || !isWithinRoot(resolved, absRoot) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if s.dirs[d.Name()] || s.isExcluded(path, true) {
				return filepath.SkipDir
			}
			return nil
		}

		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if fi, err := os.Stat(path); err == nil {
				size = fi.Size()
			}
		}
		s.consider(res, path, size)
		return nil
	})

	sort.Strings(res.Files)
	return res, walkErr
}

func (s *Scanner) consider(res *Result, path string, size int64) {
	rel, err := filepath.Rel(res.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	if s.config.ShouldExclude(rel) || s.isExcluded(path, false) || !s.included(rel) {
		res.Excluded++
		return
	}
	lang := parser.DetectLanguage(path)
	if !s.supported(lang) {
		res.Unsupported++
		return
	}
	if limit := s.config.Analysis.MaxFileSize; limit > 0 && size > limit {
		res.TooLarge++
		return
	}
	res.Files = append(res.Files, path)
	res.Languages[string(lang)]++
}

// ScanDir recursively scans a directory for source files.
func (s *Scanner) ScanDir(root string) ([]string, error) {
	res, err := s.Scan(root)
	if err != nil {
		return nil, err
	}
	return res.Files, nil
}

// isWithinRoot checks if a path is contained within the root directory.
// Returns false if the path escapes via symlinks or relative paths.
func isWithinRoot(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	root = filepath.Clean(root)

	// Add separator to prevent "/root2" matching "/root"
	return absPath == root || strings.HasPrefix(absPath, root+string(filepath.Separator))
}

// GroupByLanguage groups files by their detected language.
func GroupByLanguage(files []string) map[parser.Language][]string {
	groups := make(map[parser.Language][]string)
	for _, f := range files {
		lang := parser.DetectLanguage(f)
		if lang != parser.LangUnknown {
			groups[lang] = append(groups[lang], f)
		}
	}
	return groups
}
