// Package patterns detects design-pattern atoms with declarative
// tree-sitter queries.
package patterns

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/roles"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

const queryFile = "patterns.scm"

// minCacheSize keeps every supported grammar resident so a query is never
// evicted while a cursor is using it.
const minCacheSize = 16

// Compile-time checks.
var (
	_ analyzer.FileAnalyzer[*Analysis]   = (*Matcher)(nil)
	_ analyzer.TreeAnalyzer[FileMatches] = (*Matcher)(nil)
)

type compiled struct {
	query *sitter.Query
}

// Matcher runs the per-language pattern queries against parsed trees.
// It is safe for concurrent use.
type Matcher struct {
	mu          sync.Mutex
	cache       *lru.Cache[parser.Language, compiled]
	overrides   map[parser.Language]string
	logger      *slog.Logger
	maxFileSize int64
	workers     int
}

// Option is a functional option for configuring Matcher.
type Option func(*Matcher)

// WithLogger sets the logger for query load warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = l
	}
}

// WithQuery replaces the embedded query for a language.
func WithQuery(lang parser.Language, query string) Option {
	return func(m *Matcher) {
		m.overrides[lang] = query
	}
}

// WithMaxFileSize sets the maximum file size to analyze (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(m *Matcher) {
		m.maxFileSize = maxSize
	}
}

// WithWorkers sets the number of parallel workers used by Analyze.
func WithWorkers(n int) Option {
	return func(m *Matcher) {
		m.workers = n
	}
}

// New creates a pattern matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		overrides: make(map[parser.Language]string),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	// Only fails for a non-positive size.
	m.cache, _ = lru.NewWithEvict[parser.Language, compiled](minCacheSize, func(_ parser.Language, c compiled) {
		if c.query != nil {
			c.query.Close()
		}
	})
	return m
}

// Close releases compiled queries.
func (m *Matcher) Close() {
	m.cache.Purge()
}

// queryDirs returns the query directories tried for a language, in order.
func queryDirs(lang parser.Language) []string {
	switch lang {
	case parser.LangTypeScript, parser.LangTSX:
		return []string{"typescript", "javascript"}
	case parser.LangJavaScript:
		return []string{"javascript"}
	default:
		return []string{string(lang)}
	}
}

func (m *Matcher) querySource(lang parser.Language) (string, bool) {
	if q, ok := m.overrides[lang]; ok {
		return q, true
	}
	for _, dir := range queryDirs(lang) {
		data, err := queryFiles.ReadFile(path.Join("queries", dir, queryFile))
		if err == nil {
			return string(data), true
		}
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("reading pattern query", slog.String("language", string(lang)), slog.Any("error", err))
		}
	}
	return "", false
}

// query returns the compiled query for lang, or nil when the language has
// none or its query does not compile.
func (m *Matcher) query(lang parser.Language) *sitter.Query {
	if c, ok := m.cache.Get(lang); ok {
		return c.query
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cache.Get(lang); ok {
		return c.query
	}

	var c compiled
	if src, ok := m.querySource(lang); ok {
		q, err := compileQuery(lang, src)
		if err != nil {
			m.logger.Warn("pattern query disabled", slog.String("language", string(lang)), slog.Any("error", err))
		} else {
			c.query = q
		}
	}
	m.cache.Add(lang, c)
	return c.query
}

func compileQuery(lang parser.Language, src string) (*sitter.Query, error) {
	tsLang, err := parser.Grammar(lang)
	if err != nil {
		return nil, err
	}
	q, err := sitter.NewQuery([]byte(src), tsLang)
	if err != nil {
		return nil, fmt.Errorf("compiling %s patterns: %w", lang, err)
	}
	return q, nil
}

// HasQuery reports whether a usable query exists for lang.
func (m *Matcher) HasQuery(lang parser.Language) bool {
	return m.query(lang) != nil
}

// Match runs the language's queries over a parsed tree. A language without
// a query, or with a query that fails to compile, yields no matches.
// The only error is context cancellation.
func (m *Matcher) Match(ctx context.Context, result *parser.ParseResult) ([]AtomMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := result.Root()
	if root == nil {
		return nil, nil
	}
	q := m.query(result.Language)
	if q == nil {
		return nil, nil
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, root)

	type key struct {
		kind, name string
		line       uint32
	}
	seen := make(map[key]struct{})
	var matches []AtomMatch

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, result.Source)
		for _, capture := range match.Captures {
			name := q.CaptureNameForId(capture.Index)
			kind, isName, ok := parseCapture(name)
			if !ok {
				continue
			}

			node := capture.Node
			text := captureText(node, result.Source, isName)
			start := node.StartPoint().Row + 1
			k := key{kind, text, start}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}

			am := AtomMatch{
				Kind:       kind,
				Name:       text,
				Role:       roles.FromPatternKind(kind),
				StartLine:  start,
				EndLine:    node.EndPoint().Row + 1,
				StartByte:  node.StartByte(),
				EndByte:    node.EndByte(),
				Confidence: Confidence(kind),
				Evidence:   "Pattern: @" + name,
				Capture:    name,
			}
			if err := am.Validate(); err != nil {
				m.logger.Debug("dropping pattern match", slog.String("path", result.Path), slog.String("capture", name), slog.Any("error", err))
				continue
			}
			matches = append(matches, am)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].StartByte != matches[j].StartByte {
			return matches[i].StartByte < matches[j].StartByte
		}
		return matches[i].Kind < matches[j].Kind
	})
	return matches, nil
}

// parseCapture splits atom.<kind>[.name]. Helper kinds start with _.
func parseCapture(capture string) (kind string, isName, ok bool) {
	rest, found := strings.CutPrefix(capture, "atom.")
	if !found || rest == "" {
		return "", false, false
	}
	kind, suffix, _ := strings.Cut(rest, ".")
	if kind == "" || strings.HasPrefix(kind, "_") {
		return "", false, false
	}
	return kind, suffix == "name", true
}

func captureText(node *sitter.Node, source []byte, isName bool) string {
	text := parser.GetNodeText(node, source)
	if !isName {
		text, _, _ = strings.Cut(text, "\n")
		text = strings.TrimSpace(text)
	}
	return stripQuotes(text)
}

func stripQuotes(s string) string {
	if len(s) > 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// AnalyzeTree matches one parsed file.
func (m *Matcher) AnalyzeTree(ctx context.Context, result *parser.ParseResult) (FileMatches, error) {
	matches, err := m.Match(ctx, result)
	if err != nil {
		return FileMatches{}, err
	}
	return FileMatches{Path: result.Path, Language: result.Language, Matches: matches}, nil
}

// Analyze parses and matches files in parallel. Files that fail to parse
// are skipped.
func (m *Matcher) Analyze(ctx context.Context, files []string) (*Analysis, error) {
	results, errs := fileproc.MapFilesN(ctx, files, m.workers, func(p *parser.Parser, path string) (FileMatches, error) {
		res, err := p.ParseFileWithLimit(ctx, path, m.maxFileSize)
		if err != nil {
			return FileMatches{}, err
		}
		defer res.Close()
		return m.AnalyzeTree(ctx, res)
	})
	if errs.HasErrors() {
		m.logger.Debug("pattern matching skipped files", slog.Int("count", errs.Len()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewAnalysis(results), nil
}
