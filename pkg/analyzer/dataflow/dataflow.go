// Package dataflow tracks assignments, mutations and side effects to
// score how pure each function is.
package dataflow

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/parser"
)

// Compile-time checks.
var (
	_ analyzer.FileAnalyzer[*Analysis]  = (*Analyzer)(nil)
	_ analyzer.TreeAnalyzer[FileResult] = (*Analyzer)(nil)
)

// Analyzer computes data-flow facts and purity.
type Analyzer struct {
	thresholds  Thresholds
	weights     Weights
	maxFileSize int64
	workers     int
	logger      *slog.Logger
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithThresholds sets the limits reported as violations.
func WithThresholds(t Thresholds) Option {
	return func(a *Analyzer) {
		a.thresholds = t
	}
}

// WithWeights overrides the purity weights.
func WithWeights(w Weights) Option {
	return func(a *Analyzer) {
		a.weights = w
	}
}

// WithMaxFileSize sets the maximum file size to analyze (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(a *Analyzer) {
		a.maxFileSize = maxSize
	}
}

// WithWorkers sets the number of parallel workers used by Analyze.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		a.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates a new data-flow analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		thresholds: DefaultThresholds(),
		weights:    DefaultWeights,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close releases analyzer resources.
func (a *Analyzer) Close() {}

// AnalyzeTree collects module and per-function data flow for a parsed file.
func (a *Analyzer) AnalyzeTree(ctx context.Context, result *parser.ParseResult) (FileResult, error) {
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}
	fr := FileResult{
		Path:      result.Path,
		Language:  string(result.Language),
		Functions: make([]FunctionResult, 0),
	}
	root := result.Root()
	if root == nil {
		return fr, nil
	}

	fr.Module = Collect(root, result.Source, result.Language)
	for _, fn := range parser.GetFunctions(result) {
		var flow Flow
		if fn.Body != nil {
			flow = Collect(fn.Body, result.Source, result.Language)
		}
		score := a.weights.Score(len(flow.Assignments), flow.MutationCount(), len(flow.SideEffects), flow.HasGlobalWrite())
		res := FunctionResult{
			Name:      fn.Name,
			File:      result.Path,
			StartLine: fn.StartLine,
			EndLine:   fn.EndLine,
			Flow:      flow,
			Purity:    score,
			Rating:    RatePurity(score),
		}
		if a.thresholds.MinPurity > 0 && score < a.thresholds.MinPurity {
			res.Violations = append(res.Violations,
				fmt.Sprintf("purity %.2f below %.2f", score, a.thresholds.MinPurity))
		}
		fr.Functions = append(fr.Functions, res)
	}
	return fr, nil
}

// Analyze parses and analyzes files in parallel.
// Progress is tracked via context using analyzer.WithTracker.
func (a *Analyzer) Analyze(ctx context.Context, files []string) (*Analysis, error) {
	results, errs := fileproc.MapFilesN(ctx, files, a.workers, func(psr *parser.Parser, path string) (FileResult, error) {
		res, err := psr.ParseFileWithLimit(ctx, path, a.maxFileSize)
		if err != nil {
			return FileResult{}, err
		}
		defer res.Close()
		return a.AnalyzeTree(ctx, res)
	})
	if errs.HasErrors() {
		a.logger.Debug("data-flow analysis skipped files", slog.Int("count", errs.Len()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BuildAnalysis(results), nil
}

// BuildAnalysis aggregates per-file results.
func BuildAnalysis(results []FileResult) *Analysis {
	analysis := &Analysis{Files: results}
	s := &analysis.Summary
	s.TotalFiles = len(results)
	s.Ratings = make(map[PurityRating]int)
	s.MutationKinds = make(map[MutationKind]int)
	s.SideEffectKinds = make(map[EffectKind]int)

	total := 0.0
	s.MinPurity = 1
	for _, fr := range results {
		for _, fn := range fr.Functions {
			s.TotalFunctions++
			total += fn.Purity
			s.MinPurity = math.Min(s.MinPurity, fn.Purity)
			s.Ratings[fn.Rating]++
			s.ViolationCount += len(fn.Violations)
			if fn.Flow.IsPure() {
				s.PureFunctions++
			}
			factors := fn.Flow.PurityFactors()
			s.TotalMutations += factors.Mutations
			s.TotalSideEffects += factors.SideEffects
			for k, v := range factors.MutationKinds {
				s.MutationKinds[k] += v
			}
			for k, v := range factors.SideEffectKinds {
				s.SideEffectKinds[k] += v
			}
		}
	}
	if s.TotalFunctions > 0 {
		s.AvgPurity = total / float64(s.TotalFunctions)
	} else {
		s.AvgPurity = 1
	}
	return analysis
}

// Collect walks the subtree rooted at node and records its assignments,
// mutations and side effects. It never fails; unknown constructs are
// ignored.
func Collect(node *sitter.Node, source []byte, lang parser.Language) Flow {
	c := &collector{
		source:  source,
		lang:    lang.Family(),
		globals: make(map[string]bool),
	}
	if node != nil {
		c.visit(node)
	}
	c.flow.Globals = c.globalOrder
	return c.flow
}

type collector struct {
	source      []byte
	lang        parser.Language
	flow        Flow
	globals     map[string]bool
	globalOrder []string
}

func (c *collector) text(n *sitter.Node) string {
	return parser.GetNodeText(n, c.source)
}

func (c *collector) visit(n *sitter.Node) {
	switch c.lang {
	case parser.LangPython:
		c.python(n)
	case parser.LangJavaScript:
		c.javascript(n)
	case parser.LangGo:
		c.golang(n)
	case parser.LangJava:
		c.java(n)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c.visit(n.NamedChild(i))
	}
}

func (c *collector) python(n *sitter.Node) {
	switch n.Type() {
	case "assignment":
		left := n.ChildByFieldName("left")
		if left == nil {
			return
		}
		kind := targetKind(left)
		c.assign(n, left, n.ChildByFieldName("right"), kind, false)
	case "augmented_assignment":
		if left := n.ChildByFieldName("left"); left != nil {
			c.assign(n, left, n.ChildByFieldName("right"), MutationAugmented, true)
		}
	case "global_statement", "nonlocal_statement":
		keyword := "global"
		if n.Type() == "nonlocal_statement" {
			keyword = "nonlocal"
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			id := n.NamedChild(i)
			if id.Type() != "identifier" {
				continue
			}
			name := c.text(id)
			if !c.globals[name] {
				c.globals[name] = true
				c.globalOrder = append(c.globalOrder, name)
			}
			c.effect(EffectGlobal, name, n, keyword+" "+name)
		}
	case "delete_statement":
		c.deleteTargets(n, n)
	case "call":
		c.call(n, n.ChildByFieldName("function"), "attribute", "object", "attribute")
	}
}

func (c *collector) deleteTargets(stmt, n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		t := n.NamedChild(i)
		switch t.Type() {
		case "identifier", "attribute", "subscript", "member_expression", "subscript_expression":
			c.record(stmt, c.text(t), nil, MutationDelete)
		case "expression_list":
			c.deleteTargets(stmt, t)
		}
	}
}

func (c *collector) javascript(n *sitter.Node) {
	switch n.Type() {
	case "variable_declarator":
		if name := n.ChildByFieldName("name"); name != nil {
			c.assign(n, name, n.ChildByFieldName("value"), MutationNone, false)
		}
	case "assignment_expression":
		if left := n.ChildByFieldName("left"); left != nil {
			c.assign(n, left, n.ChildByFieldName("right"), targetKind(left), false)
		}
	case "augmented_assignment_expression":
		if left := n.ChildByFieldName("left"); left != nil {
			c.assign(n, left, n.ChildByFieldName("right"), MutationAugmented, true)
		}
	case "update_expression":
		if arg := n.ChildByFieldName("argument"); arg != nil {
			name := c.text(arg)
			c.record(n, name, []string{name}, MutationUpdate)
		}
	case "unary_expression":
		if op := n.ChildByFieldName("operator"); op != nil && op.Type() == "delete" {
			if arg := n.ChildByFieldName("argument"); arg != nil {
				c.record(n, c.text(arg), nil, MutationDelete)
			}
		}
	case "call_expression":
		c.call(n, n.ChildByFieldName("function"), "member_expression", "object", "property")
	}
}

func (c *collector) golang(n *sitter.Node) {
	switch n.Type() {
	case "short_var_declaration", "assignment_statement":
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		if left == nil {
			return
		}
		op := ""
		if o := n.ChildByFieldName("operator"); o != nil {
			op = o.Type()
		}
		augmented := n.Type() == "assignment_statement" && op != "=" && op != ""
		for i := 0; i < int(left.NamedChildCount()); i++ {
			target := left.NamedChild(i)
			if c.text(target) == "_" {
				continue
			}
			kind := targetKind(target)
			if augmented {
				kind = MutationAugmented
			}
			c.assign(n, target, right, kind, augmented)
		}
	case "var_spec":
		value := n.ChildByFieldName("value")
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if id := n.NamedChild(i); id.Type() == "identifier" {
				c.assign(n, id, value, MutationNone, false)
			}
		}
	case "inc_statement", "dec_statement":
		if n.NamedChildCount() > 0 {
			target := n.NamedChild(0)
			name := c.text(target)
			c.record(n, name, []string{name}, MutationUpdate)
		}
	case "call_expression":
		c.call(n, n.ChildByFieldName("function"), "selector_expression", "operand", "field")
	}
}

func (c *collector) java(n *sitter.Node) {
	switch n.Type() {
	case "variable_declarator":
		if name := n.ChildByFieldName("name"); name != nil {
			if value := n.ChildByFieldName("value"); value != nil {
				c.assign(n, name, value, MutationNone, false)
			}
		}
	case "assignment_expression":
		left := n.ChildByFieldName("left")
		if left == nil {
			return
		}
		kind := targetKind(left)
		augmented := false
		if op := n.ChildByFieldName("operator"); op != nil && op.Type() != "=" {
			kind, augmented = MutationAugmented, true
		}
		c.assign(n, left, n.ChildByFieldName("right"), kind, augmented)
	case "update_expression":
		if n.NamedChildCount() > 0 {
			name := c.text(n.NamedChild(0))
			c.record(n, name, []string{name}, MutationUpdate)
		}
	case "method_invocation":
		name := n.ChildByFieldName("name")
		if name == nil {
			return
		}
		object := n.ChildByFieldName("object")
		callee := c.text(name)
		if object != nil {
			callee = c.text(object) + "." + callee
		}
		c.classify(n, callee)
		if object != nil && IsMutatingMethod(c.lang, c.text(name)) {
			c.record(n, c.text(object), nil, MutationMethod)
		}
	}
}

// call handles a call node whose callee is fn. member names the attribute
// node type whose object and property fields identify a method call.
func (c *collector) call(n, fn *sitter.Node, member, objectField, propertyField string) {
	if fn == nil {
		return
	}
	c.classify(n, c.text(fn))
	if fn.Type() != member {
		return
	}
	prop := fn.ChildByFieldName(propertyField)
	obj := fn.ChildByFieldName(objectField)
	if prop == nil || obj == nil {
		return
	}
	if IsMutatingMethod(c.lang, c.text(prop)) {
		c.record(n, c.text(obj), nil, MutationMethod)
	}
}

func (c *collector) classify(n *sitter.Node, callee string) {
	if kind, ok := classifyCall(c.lang, callee); ok {
		c.effect(kind, callee, n, "Call to "+callee)
	}
}

func (c *collector) effect(kind EffectKind, name string, n *sitter.Node, evidence string) {
	c.flow.SideEffects = append(c.flow.SideEffects, SideEffect{
		Kind:     kind,
		Name:     name,
		Line:     n.StartPoint().Row + 1,
		Evidence: evidence,
	})
}

// assign records a write of value into target. readsTarget prepends the
// target to the sources (augmented forms read before writing).
func (c *collector) assign(stmt, target, value *sitter.Node, kind MutationKind, readsTarget bool) {
	name := c.targetName(target)
	var sources []string
	if readsTarget {
		sources = append(sources, name)
	}
	sources = append(sources, ReferencedNames(value, c.source)...)
	c.record(stmt, name, sources, kind)
}

func (c *collector) record(stmt *sitter.Node, target string, sources []string, kind MutationKind) {
	a := Assignment{
		Target:    target,
		Sources:   sources,
		Line:      stmt.StartPoint().Row + 1,
		StartByte: stmt.StartByte(),
		EndByte:   stmt.EndByte(),
		Kind:      kind,
	}
	if c.globals[target] {
		a.GlobalWrite = true
		if a.Kind == MutationNone {
			a.Kind = MutationGlobalWrite
		}
	}
	c.flow.Assignments = append(c.flow.Assignments, a)
}

func (c *collector) targetName(n *sitter.Node) string {
	switch n.Type() {
	case "tuple_pattern", "list_pattern", "pattern_list", "array_pattern", "object_pattern":
		return "<destructured>"
	}
	return c.text(n)
}

// targetKind classifies an assignment target node.
func targetKind(n *sitter.Node) MutationKind {
	switch n.Type() {
	case "attribute", "member_expression", "selector_expression", "field_access":
		return MutationAttribute
	case "subscript", "subscript_expression", "index_expression", "array_access":
		return MutationSubscript
	}
	return MutationNone
}

// ReferencedNames returns every identifier under node, in source order.
func ReferencedNames(node *sitter.Node, source []byte) []string {
	if node == nil {
		return nil
	}
	var names []string
	parser.WalkTyped(node, source, func(n *sitter.Node, t string, src []byte) bool {
		if t == "identifier" {
			names = append(names, parser.GetNodeText(n, src))
		}
		return true
	})
	return names
}
