package graph

import (
	"path"
	"sort"
	"strings"

	"github.com/panbanda/spectrometer/pkg/parser"
)

// symbolIndex is the read-only view pass two resolves against.
type symbolIndex struct {
	ids    map[string]bool
	byName map[string][]decl
	files  map[string]bool
	dirs   map[string][]string
	sorted []string
}

func newSymbolIndex(g *CodeGraph, facts []*fileFacts) *symbolIndex {
	idx := &symbolIndex{
		ids:    make(map[string]bool, g.NodeCount()),
		byName: make(map[string][]decl),
		files:  make(map[string]bool, len(facts)),
		dirs:   make(map[string][]string),
	}
	for _, n := range g.Nodes() {
		idx.ids[n.ID] = true
	}
	for _, f := range facts {
		idx.files[f.rel] = true
		idx.dirs[f.dir()] = append(idx.dirs[f.dir()], f.rel)
		idx.sorted = append(idx.sorted, f.rel)
		for _, d := range f.decls {
			idx.byName[d.name] = append(idx.byName[d.name], d)
		}
	}
	sort.Strings(idx.sorted)
	for name := range idx.byName {
		ds := idx.byName[name]
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].id < ds[j].id })
	}
	return idx
}

func (idx *symbolIndex) resolveFile(f *fileFacts) []Edge {
	edges := make([]Edge, 0, len(f.refs))
	for _, r := range f.refs {
		switch r.kind {
		case refCall:
			edges = append(edges, Edge{Source: r.from, Target: idx.resolveCall(r, f), Type: EdgeCall, File: f.rel, Line: r.line})
		case refInherit:
			edges = append(edges, Edge{Source: r.from, Target: idx.resolveInherit(r, f), Type: EdgeInherit, File: f.rel, Line: r.line})
		case refImport:
			for _, target := range idx.resolveImport(r, f) {
				edges = append(edges, Edge{Source: r.from, Target: target, Type: EdgeImport, File: f.rel, Line: r.line})
			}
		}
	}
	return edges
}

// narrow picks a unique candidate preferring the same file, then the
// same directory, then the whole project. A tier with several candidates
// is ambiguous and stops the search.
func narrow(cands []decl, f *fileFacts) (decl, bool) {
	tiers := []func(decl) bool{
		func(d decl) bool { return d.file == f.rel },
		func(d decl) bool { return dirOf(d.file) == f.dir() },
		func(decl) bool { return true },
	}
	for _, in := range tiers {
		var hit []decl
		for _, d := range cands {
			if in(d) {
				hit = append(hit, d)
			}
		}
		switch len(hit) {
		case 0:
			continue
		case 1:
			return hit[0], true
		default:
			return decl{}, false
		}
	}
	return decl{}, false
}

func (idx *symbolIndex) resolveCall(r ref, f *fileFacts) string {
	if r.self && r.class != "" {
		if id := r.class + "." + r.name; idx.ids[id] {
			return id
		}
	}

	var cands []decl
	for _, d := range idx.byName[r.name] {
		switch {
		case r.ctor && d.kind != KindClass:
		case r.receiver == "" && d.member:
		default:
			cands = append(cands, d)
		}
	}
	// Prefer functions when a name is both a function and a class.
	if !r.ctor {
		var fns []decl
		for _, d := range cands {
			if d.kind == KindFunction {
				fns = append(fns, d)
			}
		}
		if len(fns) > 0 {
			cands = fns
		}
	}
	if d, ok := narrow(cands, f); ok {
		return d.id
	}
	if r.ctor {
		return ExternalID(ExternalClass, r.text)
	}
	return ExternalID(ExternalFunc, r.text)
}

func (idx *symbolIndex) resolveInherit(r ref, f *fileFacts) string {
	var cands []decl
	for _, d := range idx.byName[r.name] {
		if d.kind == KindClass {
			cands = append(cands, d)
		}
	}
	if len(cands) == 0 {
		return ExternalID(ExternalClass, r.text)
	}
	for _, d := range cands {
		if d.file == f.rel {
			return d.id
		}
	}
	for _, d := range cands {
		if dirOf(d.file) == f.dir() {
			return d.id
		}
	}
	return cands[0].id
}

func (idx *symbolIndex) resolveImport(r ref, f *fileFacts) []string {
	var files []string
	switch f.lang.Family() {
	case parser.LangPython:
		files = idx.pythonModule(r.text, f)
	case parser.LangJavaScript:
		files = idx.jsModule(r.text, f)
	case parser.LangGo:
		files = idx.packageDir(r.text, ".go")
	case parser.LangJava:
		files = idx.javaType(r.text)
	}
	if len(files) == 0 {
		return []string{ExternalID(ExternalModule, r.text)}
	}
	out := make([]string, len(files))
	for i, rel := range files {
		out[i] = FileID(rel)
	}
	return out
}

func (idx *symbolIndex) first(candidates ...string) []string {
	for _, c := range candidates {
		if idx.files[c] {
			return []string{c}
		}
	}
	return nil
}

func (idx *symbolIndex) suffix(suffixes ...string) []string {
	for _, s := range suffixes {
		for _, rel := range idx.sorted {
			if strings.HasSuffix(rel, "/"+s) {
				return []string{rel}
			}
		}
	}
	return nil
}

func (idx *symbolIndex) pythonModule(mod string, f *fileFacts) []string {
	if strings.HasPrefix(mod, ".") {
		dots := len(mod) - len(strings.TrimLeft(mod, "."))
		base := f.dir()
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
		rest := strings.ReplaceAll(strings.TrimLeft(mod, "."), ".", "/")
		if rest == "" {
			return idx.first(path.Join(base, "__init__.py"))
		}
		p := path.Join(base, rest)
		return idx.first(p+".py", p+"/__init__.py")
	}
	p := strings.ReplaceAll(mod, ".", "/")
	if out := idx.first(p+".py", p+"/__init__.py"); out != nil {
		return out
	}
	return idx.suffix(p+".py", p+"/__init__.py")
}

var jsExtensions = []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
	"/index.ts", "/index.tsx", "/index.js", "/index.jsx"}

func (idx *symbolIndex) jsModule(spec string, f *fileFacts) []string {
	if !strings.HasPrefix(spec, ".") {
		return nil
	}
	p := path.Join(f.dir(), spec)
	candidates := make([]string, len(jsExtensions))
	for i, ext := range jsExtensions {
		candidates[i] = p + ext
	}
	return idx.first(candidates...)
}

// packageDir returns every file with ext in the longest project
// directory the import path ends with.
func (idx *symbolIndex) packageDir(importPath, ext string) []string {
	best := ""
	for dir := range idx.dirs {
		if dir == "." {
			continue
		}
		if (importPath == dir || strings.HasSuffix(importPath, "/"+dir)) && len(dir) > len(best) {
			best = dir
		}
	}
	if best == "" {
		return nil
	}
	var out []string
	for _, rel := range idx.dirs[best] {
		if strings.HasSuffix(rel, ext) {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

func (idx *symbolIndex) javaType(name string) []string {
	p := strings.ReplaceAll(name, ".", "/")
	if out := idx.first(p + ".java"); out != nil {
		return out
	}
	if out := idx.suffix(p + ".java"); out != nil {
		return out
	}
	return idx.packageDir(p, ".java")
}
