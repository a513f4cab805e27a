// Package discovery finds syntactic constructs the atom taxonomy does not
// know, aggregates evidence for them and proposes taxonomy candidates.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Compile-time checks.
var (
	_ analyzer.FileAnalyzer[*Report]  = (*Engine)(nil)
	_ analyzer.TreeAnalyzer[*Partial] = (*Engine)(nil)
)

// ErrUnclassified is returned when promoting a candidate the heuristics
// could not place in the taxonomy.
var ErrUnclassified = errors.New("candidate has no proposed classification")

// structural node types never treated as discoveries
var ignoredTypes = set(
	"module", "program", "source_file", "block", "ERROR",
	"string_start", "string_end", "string_content", "escape_sequence",
	"comment", "line_comment", "block_comment",
)

// Engine observes parsed trees against a catalogue snapshot.
type Engine struct {
	catalog     *taxonomy.Catalog
	repo        string
	root        string
	weights     Weights
	limits      Limits
	workers     int
	maxFileSize int64
	logger      *slog.Logger
	now         func() time.Time
}

// Option is a functional option for configuring Engine.
type Option func(*Engine)

// WithRepo names the repository recorded as evidence.
func WithRepo(name string) Option {
	return func(e *Engine) {
		e.repo = name
	}
}

// WithRoot makes recorded file paths relative to dir.
func WithRoot(dir string) Option {
	return func(e *Engine) {
		e.root = dir
	}
}

// WithWeights overrides the confidence weight table.
func WithWeights(w Weights) Option {
	return func(e *Engine) {
		e.weights = w
	}
}

// WithLimits overrides the evidence bounds.
func WithLimits(l Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithWorkers sets the number of parallel workers.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithMaxFileSize sets the maximum file size to parse (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(e *Engine) {
		e.maxFileSize = maxSize
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a discovery engine reading from catalog.
func New(catalog *taxonomy.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		repo:    "local",
		weights: DefaultWeights,
		limits:  DefaultLimits(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases engine resources.
func (e *Engine) Close() {}

func (e *Engine) relPath(path string) string {
	if e.root != "" {
		if rel, err := filepath.Rel(e.root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// AnalyzeTree observes one parsed file.
func (e *Engine) AnalyzeTree(ctx context.Context, result *parser.ParseResult) (*Partial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.ObserveFile(result), nil
}

// ObserveFile records every named node of a file the catalogue does not
// know.
func (e *Engine) ObserveFile(result *parser.ParseResult) *Partial {
	p := NewPartial()
	root := result.Root()
	if root == nil {
		return p
	}
	p.Files = 1
	rel := e.relPath(result.Path)
	seen := e.now().UTC()

	parser.WalkTyped(root, result.Source, func(n *sitter.Node, t string, src []byte) bool {
		if !n.IsNamed() || n.IsMissing() {
			return true
		}
		p.TotalNodes++
		if cat := e.catalog.Categorize(t); cat != taxonomy.CategoryUnknown {
			p.KnownNodes++
			p.ByCategory[cat]++
			return true
		}
		if ignoredTypes[t] {
			return true
		}
		p.UnknownNodes++
		e.observe(p, n, t, src, result.Language, rel, seen)
		return true
	})
	return p
}

func (e *Engine) observe(p *Partial, n *sitter.Node, t string, src []byte, lang parser.Language, rel string, seen time.Time) {
	children := childTypes(n, signatureChildren)
	text := parser.GetNodeText(n, src)
	sample := text
	if lim := e.limits.SampleChars; lim > 0 && len(sample) > lim {
		sample = sample[:lim]
	}
	sample = strings.ToValidUTF8(sample, "")

	obs := &UnknownAtom{
		Signature:          Signature(t, children),
		ASTType:            t,
		ASTSignature:       Shape(t, children),
		BehaviorIndicators: Behavior(text),
		ContextIndicators:  Context(n, lang),
		OccurrenceCount:    1,
		Files:              []string{rel},
		Repos:              []string{e.repo},
		Locations:          []string{fmt.Sprintf("%s:%d", rel, n.StartPoint().Row+1)},
		Proposal:           Propose(t),
		FirstSeen:          seen,
		LastSeen:           seen,
	}
	if sample != "" && e.limits.Samples > 0 {
		obs.CodeSamples = []string{sample}
	}
	if e.limits.Locations <= 0 {
		obs.Locations = nil
	}
	obs.Confidence = e.weights.Score(obs.signals())
	e.add(p, obs)
}

func (e *Engine) add(p *Partial, obs *UnknownAtom) {
	if existing, ok := p.Atoms[obs.Signature]; ok {
		existing.Merge(obs, e.limits, e.weights)
		return
	}
	p.Atoms[obs.Signature] = obs
}

// Merge combines partials into a new partial. Inputs are not modified and
// the result is independent of argument order.
func (e *Engine) Merge(parts ...*Partial) *Partial {
	out := NewPartial()
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Files += p.Files
		out.TotalNodes += p.TotalNodes
		out.KnownNodes += p.KnownNodes
		out.UnknownNodes += p.UnknownNodes
		for cat, n := range p.ByCategory {
			out.ByCategory[cat] += n
		}
		for _, a := range p.Atoms {
			e.add(out, a.Clone())
		}
	}
	return out
}

// Report summarises a partial.
func (e *Engine) Report(p *Partial) *Report {
	r := &Report{
		Repo:          e.repo,
		Timestamp:     e.now().UTC(),
		FilesAnalyzed: p.Files,
		TotalNodes:    p.TotalNodes,
		KnownNodes:    p.KnownNodes,
		UnknownNodes:  p.UnknownNodes,
		ByCategory:    maps.Clone(p.ByCategory),
		Unknown:       p.Sorted(),
	}
	if p.TotalNodes > 0 {
		r.CoverageRatio = float64(p.KnownNodes) / float64(p.TotalNodes)
		r.DiscoveryRate = float64(len(p.Atoms)) / float64(p.TotalNodes)
	}
	return r
}

// Analyze parses files, observes them in parallel and reports.
func (e *Engine) Analyze(ctx context.Context, files []string) (*Report, error) {
	parts, errs := fileproc.MapFilesN(ctx, files, e.workers, func(psr *parser.Parser, path string) (*Partial, error) {
		res, err := psr.ParseFileWithLimit(ctx, path, e.maxFileSize)
		if err != nil {
			return nil, err
		}
		defer res.Close()
		return e.ObserveFile(res), nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs.HasErrors() {
		e.logger.Debug("discovery skipped files", slog.Int("count", errs.Len()))
	}
	return e.Report(e.Merge(parts...)), nil
}

// Promote registers a candidate as a new atom through the registry handle.
// This is an explicit caller decision; discovery never promotes on its own.
func Promote(reg *taxonomy.Registry, c *UnknownAtom, repo string) (int, []taxonomy.Conflict, error) {
	if !c.Proposal.Classified() {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnclassified, c.ASTType)
	}
	if repo == "" && len(c.Repos) > 0 {
		repo = c.Repos[0]
	}
	return reg.RegisterDiscovery(taxonomy.Discovery{
		Name:            c.Proposal.Name,
		ASTTypes:        []string{c.ASTType},
		Continent:       c.Proposal.Continent,
		Fundamental:     c.Proposal.Fundamental,
		Level:           c.Proposal.Level,
		Description:     "Discovered structural pattern " + c.ASTSignature,
		DetectionRule:   "node.type == " + c.ASTType,
		Source:          repo,
		OccurrenceCount: c.OccurrenceCount,
	})
}
