// Package graph extracts a typed code graph of files, declarations and
// variables linked by call, import, inherit and data-flow edges.
package graph

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/analyzer/dataflow"
	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Compile-time checks.
var (
	_ analyzer.FileAnalyzer[*CodeGraph] = (*Extractor)(nil)
	_ analyzer.TreeAnalyzer[*CodeGraph] = (*Extractor)(nil)
)

// Extractor builds a CodeGraph from source files in two passes: one
// collecting declarations per file, one resolving references against
// every declaration seen.
type Extractor struct {
	root        string
	workers     int
	maxFileSize int64
	catalog     *taxonomy.Catalog
	logger      *slog.Logger
}

// Option is a functional option for configuring Extractor.
type Option func(*Extractor)

// WithRoot makes file paths in node ids relative to dir.
func WithRoot(dir string) Option {
	return func(e *Extractor) {
		e.root = dir
	}
}

// WithWorkers sets the number of parallel workers.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		e.workers = n
	}
}

// WithMaxFileSize sets the maximum file size to parse (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(e *Extractor) {
		e.maxFileSize = maxSize
	}
}

// WithCatalog classifies extracted nodes against an atom catalog.
func WithCatalog(c *taxonomy.Catalog) Option {
	return func(e *Extractor) {
		e.catalog = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// New creates a graph extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases extractor resources.
func (e *Extractor) Close() {}

// Analyze parses files and extracts their graph.
func (e *Extractor) Analyze(ctx context.Context, files []string) (*CodeGraph, error) {
	facts, errs := fileproc.MapFilesN(ctx, files, e.workers, func(psr *parser.Parser, path string) (*fileFacts, error) {
		res, err := psr.ParseFileWithLimit(ctx, path, e.maxFileSize)
		if err != nil {
			return nil, err
		}
		defer res.Close()
		return e.collect(res), nil
	})
	if errs.HasErrors() {
		e.logger.Debug("graph extraction skipped files", slog.Int("count", errs.Len()))
	}
	return e.build(ctx, facts)
}

// AnalyzeTree extracts the graph of a single parsed file. References to
// other files resolve to external nodes.
func (e *Extractor) AnalyzeTree(ctx context.Context, result *parser.ParseResult) (*CodeGraph, error) {
	return e.ExtractTrees(ctx, []*parser.ParseResult{result})
}

// ExtractTrees extracts the graph of files parsed elsewhere.
func (e *Extractor) ExtractTrees(ctx context.Context, results []*parser.ParseResult) (*CodeGraph, error) {
	facts := make([]*fileFacts, 0, len(results))
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.Root() == nil {
			continue
		}
		facts = append(facts, e.collect(r))
	}
	return e.build(ctx, facts)
}

func (e *Extractor) relPath(path string) string {
	if e.root != "" {
		if rel, err := filepath.Rel(e.root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// FileID returns the node id of a file given its relative path.
func FileID(rel string) string { return "file:" + rel }

type refKind int

const (
	refCall refKind = iota
	refImport
	refInherit
)

// ref is an unresolved reference found in pass one.
type ref struct {
	kind     refKind
	from     string
	name     string
	text     string
	receiver string
	class    string
	self     bool
	ctor     bool
	line     uint32
}

type decl struct {
	id     string
	name   string
	kind   NodeKind
	member bool
	file   string
}

// fileFacts is everything pass one learns about a file.
type fileFacts struct {
	rel   string
	lang  parser.Language
	nodes []Node
	decls []decl
	refs  []ref
	flows []Edge
}

func (f *fileFacts) dir() string { return dirOf(f.rel) }

func dirOf(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return "."
}

type scope struct {
	id     string
	class  string
	self   string
	vars   map[string]string
	parent *scope
}

func (s *scope) lookup(name string) (string, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if id, ok := sc.vars[name]; ok {
			return id, true
		}
	}
	return "", false
}

type walker struct {
	spec   *langSpec
	lang   parser.Language
	src    []byte
	rel    string
	fileID string
	facts  *fileFacts
}

func (e *Extractor) collect(res *parser.ParseResult) *fileFacts {
	rel := e.relPath(res.Path)
	root := res.Root()
	facts := &fileFacts{rel: rel, lang: res.Language}
	w := &walker{
		spec:   specFor(res.Language),
		lang:   res.Language,
		src:    res.Source,
		rel:    rel,
		fileID: FileID(rel),
		facts:  facts,
	}
	fileNode := Node{
		ID:      w.fileID,
		Name:    rel,
		Kind:    KindFile,
		RawType: "module",
		File:    rel,
		Attributes: map[string]string{
			"language": string(res.Language),
		},
	}
	if root != nil {
		fileNode.RawType = root.Type()
		fileNode.StartLine = root.StartPoint().Row + 1
		fileNode.EndLine = root.EndPoint().Row + 1
	}
	facts.nodes = append(facts.nodes, fileNode)
	if root != nil {
		w.walk(root, &scope{id: w.fileID, vars: make(map[string]string)}, "")
	}
	return facts
}

func line(n *sitter.Node) uint32 { return n.StartPoint().Row + 1 }

func (w *walker) node(n *sitter.Node, id, name string, kind NodeKind, parent string) Node {
	return Node{
		ID:        id,
		Name:      name,
		Kind:      kind,
		RawType:   n.Type(),
		File:      w.rel,
		StartLine: n.StartPoint().Row + 1,
		EndLine:   n.EndPoint().Row + 1,
		Parent:    parent,
	}
}

func (w *walker) qualify(sc *scope, name string) string {
	if sc.id == w.fileID {
		return w.rel + ":" + name
	}
	return sc.id + "." + name
}

func (w *walker) walk(n *sitter.Node, sc *scope, consumer string) {
	if n == nil {
		return
	}
	t := n.Type()
	switch {
	case w.spec.classes[t]:
		w.class(n, sc)
		return
	case w.spec.functions[t]:
		w.function(n, sc)
		return
	case w.spec.calls[t]:
		w.call(n, sc, consumer)
		return
	case w.spec.assigns[t]:
		w.assign(n, sc)
		return
	case w.spec.identifiers[t]:
		w.read(n, sc, consumer)
		return
	case w.spec.imports[t]:
		if paths := w.spec.importPaths(n, w.src); len(paths) > 0 {
			for _, p := range paths {
				w.facts.refs = append(w.facts.refs, ref{kind: refImport, from: w.fileID, text: p, line: line(n)})
			}
			return
		}
	}
	w.children(n, sc, consumer)
}

func (w *walker) children(n *sitter.Node, sc *scope, consumer string) {
	skip := w.spec.skipFields[n.Type()]
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || !c.IsNamed() {
			continue
		}
		if len(skip) > 0 && contains(skip, n.FieldNameForChild(i)) {
			continue
		}
		w.walk(c, sc, consumer)
	}
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}

func (w *walker) class(n *sitter.Node, sc *scope) {
	name := w.spec.className(n, w.src)
	if name == "" {
		w.children(n, sc, "")
		return
	}
	id := w.qualify(sc, name)
	w.facts.nodes = append(w.facts.nodes, w.node(n, id, name, KindClass, sc.id))
	w.facts.decls = append(w.facts.decls, decl{id: id, name: name, kind: KindClass, member: sc.class != "", file: w.rel})
	for _, base := range w.spec.bases(n, w.src) {
		w.facts.refs = append(w.facts.refs, ref{
			kind: refInherit,
			from: id,
			name: lastSegment(base),
			text: base,
			line: line(n),
		})
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &scope{id: id, class: id, vars: make(map[string]string), parent: sc}
	w.children(body, inner, "")
}

func (w *walker) function(n *sitter.Node, sc *scope) {
	name := parser.FunctionName(n, w.src, w.lang)
	if name == "" {
		inner := &scope{id: sc.id, class: sc.class, self: sc.self, vars: make(map[string]string), parent: sc}
		w.bindParams(n, inner)
		w.walk(n.ChildByFieldName("body"), inner, "")
		return
	}

	id := ""
	class := sc.class
	self := ""
	nd := w.node(n, "", name, KindFunction, sc.id)
	if w.spec.receiver != nil {
		if typ, recv := w.spec.receiver(n, w.src); typ != "" {
			id = w.rel + ":" + typ + "." + name
			class = w.rel + ":" + typ
			self = recv
			nd.Attributes = map[string]string{"receiver": typ}
		}
	}
	if id == "" {
		id = w.qualify(sc, name)
	}
	nd.ID = id
	w.facts.nodes = append(w.facts.nodes, nd)
	w.facts.decls = append(w.facts.decls, decl{id: id, name: name, kind: KindFunction, member: class != "", file: w.rel})

	inner := &scope{id: id, class: class, self: self, vars: make(map[string]string), parent: sc}
	w.bindParams(n, inner)
	w.walk(n.ChildByFieldName("body"), inner, "")
}

func (w *walker) bindParams(fn *sitter.Node, sc *scope) {
	for _, p := range w.spec.params(fn) {
		w.bind(sc, p)
	}
}

func (w *walker) bind(sc *scope, ident *sitter.Node) {
	name := parser.GetNodeText(ident, w.src)
	if name == "" || name == "_" || w.spec.selfNames[name] || name == sc.self {
		return
	}
	id := sc.id + "::" + name
	if _, ok := sc.vars[name]; !ok {
		nd := w.node(ident, id, name, KindVariable, sc.id)
		if p := ident.Parent(); p != nil {
			nd.RawType = p.Type()
		}
		w.facts.nodes = append(w.facts.nodes, nd)
		sc.vars[name] = id
	}
}

func (w *walker) read(n *sitter.Node, sc *scope, consumer string) {
	varID, ok := sc.lookup(parser.GetNodeText(n, w.src))
	if !ok {
		return
	}
	target := consumer
	if target == "" {
		target = sc.id
	}
	if target == varID {
		return
	}
	w.facts.flows = append(w.facts.flows, Edge{
		Source: varID,
		Target: target,
		Type:   EdgeDataFlow,
		File:   w.rel,
		Line:   line(n),
	})
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func (w *walker) assign(n *sitter.Node, sc *scope) {
	lhs, value := w.spec.assignParts(n)
	var idents []*sitter.Node
	if value == nil || !w.spec.functions[value.Type()] {
		for _, l := range lhs {
			idents = append(idents, bindingIdents(l, w.spec.identifiers)...)
		}
	}

	consumer := ""
	if len(idents) > 0 {
		name := parser.GetNodeText(idents[0], w.src)
		if name != "_" && !w.spec.selfNames[name] {
			consumer = sc.id + "::" + name
			if existing, ok := sc.lookup(name); ok {
				consumer = existing
			}
		}
	}
	if value != nil {
		w.walk(value, sc, consumer)
	}
	for _, id := range idents {
		if _, bound := sc.lookup(parser.GetNodeText(id, w.src)); bound {
			continue
		}
		w.bind(sc, id)
	}
	for _, l := range lhs {
		if len(bindingIdents(l, w.spec.identifiers)) == 0 {
			w.walk(l, sc, "")
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if sameNode(c, value) {
			continue
		}
		isLHS := false
		for _, l := range lhs {
			if sameNode(c, l) {
				isLHS = true
				break
			}
		}
		if isLHS || w.spec.identifiers[c.Type()] {
			continue
		}
		w.walk(c, sc, "")
	}
}

func (w *walker) call(n *sitter.Node, sc *scope, consumer string) {
	ci := w.spec.callee(n, w.src)
	switch {
	case ci.name == "":
	case w.lang.Family() == parser.LangJavaScript && ci.text == "require":
		if p := firstStringArg(n, w.src); p != "" {
			w.facts.refs = append(w.facts.refs, ref{kind: refImport, from: w.fileID, text: p, line: line(n)})
			return
		}
	default:
		local := false
		if ci.recv != nil {
			_, isVar := sc.lookup(ci.receiver)
			local = isVar && dataflow.IsMutatingMethod(w.lang, ci.name)
		}
		if !local {
			self := ci.recv != nil && (w.spec.selfNames[ci.receiver] || (sc.self != "" && ci.receiver == sc.self))
			implicit := ci.recv == nil && w.spec.implicitThis && !ci.ctor
			w.facts.refs = append(w.facts.refs, ref{
				kind:     refCall,
				from:     sc.id,
				name:     ci.name,
				text:     ci.text,
				receiver: ci.receiver,
				class:    sc.class,
				self:     self || implicit,
				ctor:     ci.ctor,
				line:     line(n),
			})
		}
	}
	w.children(n, sc, consumer)
}

func firstStringArg(n *sitter.Node, src []byte) string {
	args := n.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return ""
	}
	return unquote(parser.GetNodeText(arg, src))
}

// build merges per-file facts into a graph and resolves references.
func (e *Extractor) build(ctx context.Context, facts []*fileFacts) (*CodeGraph, error) {
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].rel < facts[j].rel })

	g := NewCodeGraph()
	for _, f := range facts {
		for _, n := range f.nodes {
			g.AddNode(n)
		}
	}

	idx := newSymbolIndex(g, facts)
	resolved, errs := fileproc.ForEachN(ctx, facts, e.workers,
		func(f *fileFacts) string { return f.rel },
		func(f *fileFacts) ([]Edge, error) { return idx.resolveFile(f), nil })
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs.HasErrors() {
		e.logger.Debug("graph resolution skipped files", slog.Int("count", errs.Len()))
	}

	for _, f := range facts {
		for _, fl := range f.flows {
			g.AddEdge(fl)
		}
	}
	for _, edges := range resolved {
		for _, edge := range edges {
			g.AddEdge(edge)
		}
	}
	g.Classify(e.catalog)
	return g, nil
}
