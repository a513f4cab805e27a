package graph

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/pkg/parser"
)

// callInfo describes one call site.
type callInfo struct {
	text     string // full callee text
	name     string // final segment
	receiver string // receiver text for member calls
	recv     *sitter.Node
	ctor     bool // constructor call (new T)
}

// langSpec is the per-language description of declarations and
// references used by the extractor.
type langSpec struct {
	classes     map[string]bool
	functions   map[string]bool
	calls       map[string]bool
	imports     map[string]bool
	assigns     map[string]bool
	identifiers map[string]bool
	// skipFields lists child fields that are names rather than reads.
	skipFields   map[string][]string
	selfNames    map[string]bool
	implicitThis bool

	className   func(n *sitter.Node, src []byte) string
	bases       func(n *sitter.Node, src []byte) []string
	receiver    func(fn *sitter.Node, src []byte) (typ, name string)
	params      func(fn *sitter.Node) []*sitter.Node
	assignParts func(n *sitter.Node) (lhs []*sitter.Node, value *sitter.Node)
	callee      func(n *sitter.Node, src []byte) callInfo
	importPaths func(n *sitter.Node, src []byte) []string
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func keys(m map[string]struct{}) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func specFor(lang parser.Language) *langSpec {
	switch lang.Family() {
	case parser.LangPython:
		return pythonSpec
	case parser.LangJavaScript:
		return javascriptSpec
	case parser.LangGo:
		return goSpec
	case parser.LangJava:
		return javaSpec
	default:
		return genericSpec(lang)
	}
}

func nameField(n *sitter.Node, src []byte) string {
	return parser.GetNodeText(n.ChildByFieldName("name"), src)
}

func lastSegment(s string) string {
	if i := strings.LastIndexAny(s, ".:"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// bindingIdents returns the identifiers bound by a parameter or
// assignment target, looking through patterns and typed wrappers.
func bindingIdents(n *sitter.Node, idents map[string]bool) []*sitter.Node {
	if n == nil {
		return nil
	}
	t := n.Type()
	if idents[t] || t == "shorthand_property_identifier_pattern" {
		return []*sitter.Node{n}
	}
	for _, field := range []string{"name", "pattern", "left"} {
		if c := n.ChildByFieldName(field); c != nil {
			return bindingIdents(c, idents)
		}
	}
	switch t {
	case "pattern_list", "tuple_pattern", "list_pattern", "expression_list", "array_pattern",
		"object_pattern", "pair_pattern", "list_splat_pattern", "dictionary_splat_pattern",
		"rest_pattern", "typed_parameter", "parenthesized_expression":
		var out []*sitter.Node
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if !c.IsNamed() || (t == "pair_pattern" && n.FieldNameForChild(i) == "key") {
				continue
			}
			out = append(out, bindingIdents(c, idents)...)
		}
		return out
	}
	return nil
}

func paramsFrom(field string, idents map[string]bool) func(fn *sitter.Node) []*sitter.Node {
	return func(fn *sitter.Node) []*sitter.Node {
		var out []*sitter.Node
		if single := fn.ChildByFieldName("parameter"); single != nil {
			out = append(out, bindingIdents(single, idents)...)
		}
		list := fn.ChildByFieldName(field)
		if list == nil {
			return out
		}
		for i := 0; i < int(list.NamedChildCount()); i++ {
			p := list.NamedChild(i)
			if strings.HasSuffix(p.Type(), "comment") {
				continue
			}
			out = append(out, bindingIdents(p, idents)...)
		}
		return out
	}
}

func leftRight(n *sitter.Node) ([]*sitter.Node, *sitter.Node) {
	left := n.ChildByFieldName("left")
	if left == nil {
		return nil, n.ChildByFieldName("right")
	}
	return []*sitter.Node{left}, n.ChildByFieldName("right")
}

// memberCall builds callInfo for a callee that may be a member access
// node with the given object and property fields.
func memberCall(fn *sitter.Node, src []byte, member, objectField, propertyField string) callInfo {
	if fn == nil {
		return callInfo{}
	}
	ci := callInfo{text: parser.GetNodeText(fn, src)}
	if fn.Type() == member {
		obj := fn.ChildByFieldName(objectField)
		prop := fn.ChildByFieldName(propertyField)
		if obj != nil && prop != nil {
			ci.recv = obj
			ci.receiver = parser.GetNodeText(obj, src)
			ci.name = parser.GetNodeText(prop, src)
			return ci
		}
	}
	ci.name = lastSegment(ci.text)
	return ci
}

// collectTypes gathers base-type names found inside container nodes,
// skipping type arguments.
func collectTypes(n *sitter.Node, src []byte, containers, names map[string]bool) []string {
	return typesIn(n, src, containers, names, false)
}

func typesIn(n *sitter.Node, src []byte, containers, names map[string]bool, inside bool) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		t := c.Type()
		switch {
		case containers[t]:
			out = append(out, typesIn(c, src, containers, names, true)...)
		case !inside:
		case t == "generic_type":
			if c.NamedChildCount() > 0 {
				out = append(out, parser.GetNodeText(c.NamedChild(0), src))
			}
		case names[t]:
			out = append(out, parser.GetNodeText(c, src))
		}
	}
	return out
}

var pythonIdents = set("identifier")

var pythonSpec = &langSpec{
	classes:     set("class_definition"),
	functions:   set("function_definition"),
	calls:       set("call"),
	imports:     set("import_statement", "import_from_statement"),
	assigns:     set("assignment", "augmented_assignment", "for_statement", "for_in_clause"),
	identifiers: pythonIdents,
	skipFields: map[string][]string{
		"attribute":        {"attribute"},
		"keyword_argument": {"name"},
	},
	selfNames: set("self", "cls"),
	className: nameField,
	bases: func(n *sitter.Node, src []byte) []string {
		supers := n.ChildByFieldName("superclasses")
		if supers == nil {
			return nil
		}
		var out []string
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			c := supers.NamedChild(i)
			if c.Type() == "identifier" || c.Type() == "attribute" {
				out = append(out, parser.GetNodeText(c, src))
			}
		}
		return out
	},
	params:      paramsFrom("parameters", pythonIdents),
	assignParts: leftRight,
	callee: func(n *sitter.Node, src []byte) callInfo {
		return memberCall(n.ChildByFieldName("function"), src, "attribute", "object", "attribute")
	},
	importPaths: func(n *sitter.Node, src []byte) []string {
		if n.Type() == "import_from_statement" {
			if mod := n.ChildByFieldName("module_name"); mod != nil {
				return []string{parser.GetNodeText(mod, src)}
			}
			return nil
		}
		var out []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				out = append(out, parser.GetNodeText(c, src))
			case "aliased_import":
				out = append(out, nameField(c, src))
			}
		}
		return out
	},
}

var jsIdents = set("identifier")

var javascriptSpec = &langSpec{
	classes: set("class_declaration", "class", "abstract_class_declaration", "interface_declaration"),
	functions: set("function_declaration", "generator_function_declaration", "method_definition",
		"function_expression", "function", "arrow_function"),
	calls:       set("call_expression", "new_expression"),
	imports:     set("import_statement", "export_statement"),
	assigns:     set("variable_declarator", "assignment_expression", "augmented_assignment_expression"),
	identifiers: jsIdents,
	skipFields: map[string][]string{
		"member_expression": {"property"},
		"pair":              {"key"},
	},
	selfNames: set("this"),
	className: nameField,
	bases: func(n *sitter.Node, src []byte) []string {
		return collectTypes(n, src,
			set("class_heritage", "extends_clause", "implements_clause", "extends_type_clause"),
			set("identifier", "type_identifier", "member_expression", "nested_type_identifier"))
	},
	params: paramsFrom("parameters", jsIdents),
	assignParts: func(n *sitter.Node) ([]*sitter.Node, *sitter.Node) {
		if n.Type() == "variable_declarator" {
			name := n.ChildByFieldName("name")
			if name == nil {
				return nil, n.ChildByFieldName("value")
			}
			return []*sitter.Node{name}, n.ChildByFieldName("value")
		}
		return leftRight(n)
	},
	callee: func(n *sitter.Node, src []byte) callInfo {
		if n.Type() == "new_expression" {
			ci := memberCall(n.ChildByFieldName("constructor"), src, "member_expression", "object", "property")
			ci.ctor = true
			ci.recv, ci.receiver = nil, ""
			return ci
		}
		return memberCall(n.ChildByFieldName("function"), src, "member_expression", "object", "property")
	},
	importPaths: func(n *sitter.Node, src []byte) []string {
		if s := n.ChildByFieldName("source"); s != nil {
			return []string{unquote(parser.GetNodeText(s, src))}
		}
		return nil
	},
}

var goIdents = set("identifier")

var goSpec = &langSpec{
	classes:     set("type_spec"),
	functions:   set("function_declaration", "method_declaration", "func_literal"),
	calls:       set("call_expression"),
	imports:     set("import_spec"),
	assigns:     set("short_var_declaration", "assignment_statement", "var_spec", "range_clause"),
	identifiers: goIdents,
	skipFields: map[string][]string{
		"selector_expression": {"field"},
	},
	className: nameField,
	bases: func(n *sitter.Node, src []byte) []string {
		st := n.ChildByFieldName("type")
		if st == nil || st.Type() != "struct_type" {
			return nil
		}
		var out []string
		parser.WalkTyped(st, src, func(c *sitter.Node, t string, src []byte) bool {
			if t != "field_declaration" {
				return true
			}
			if c.ChildByFieldName("name") == nil {
				if typ := c.ChildByFieldName("type"); typ != nil {
					out = append(out, strings.TrimPrefix(parser.GetNodeText(typ, src), "*"))
				}
			}
			return false
		})
		return out
	},
	receiver: func(fn *sitter.Node, src []byte) (string, string) {
		recv := fn.ChildByFieldName("receiver")
		if recv == nil {
			return "", ""
		}
		var typ, name string
		parser.WalkTyped(recv, src, func(c *sitter.Node, t string, src []byte) bool {
			switch {
			case t == "identifier" && name == "":
				name = parser.GetNodeText(c, src)
			case t == "type_identifier" && typ == "":
				typ = parser.GetNodeText(c, src)
			}
			return typ == ""
		})
		return typ, name
	},
	params: func(fn *sitter.Node) []*sitter.Node {
		var out []*sitter.Node
		for _, field := range []string{"receiver", "parameters"} {
			list := fn.ChildByFieldName(field)
			if list == nil {
				continue
			}
			for i := 0; i < int(list.NamedChildCount()); i++ {
				p := list.NamedChild(i)
				for j := 0; j < int(p.ChildCount()); j++ {
					if p.FieldNameForChild(j) == "name" {
						out = append(out, p.Child(j))
					}
				}
			}
		}
		return out
	},
	assignParts: func(n *sitter.Node) ([]*sitter.Node, *sitter.Node) {
		if n.Type() == "var_spec" {
			var names []*sitter.Node
			for i := 0; i < int(n.ChildCount()); i++ {
				if n.FieldNameForChild(i) == "name" {
					names = append(names, n.Child(i))
				}
			}
			return names, n.ChildByFieldName("value")
		}
		return leftRight(n)
	},
	callee: func(n *sitter.Node, src []byte) callInfo {
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() == "func_literal" || fn.Type() == "parenthesized_expression" {
			return callInfo{}
		}
		return memberCall(fn, src, "selector_expression", "operand", "field")
	},
	importPaths: func(n *sitter.Node, src []byte) []string {
		if p := n.ChildByFieldName("path"); p != nil {
			return []string{unquote(parser.GetNodeText(p, src))}
		}
		return nil
	},
}

var javaIdents = set("identifier")

var javaSpec = &langSpec{
	classes:     set("class_declaration", "interface_declaration", "enum_declaration", "record_declaration"),
	functions:   set("method_declaration", "constructor_declaration"),
	calls:       set("method_invocation", "object_creation_expression"),
	imports:     set("import_declaration"),
	assigns:     set("variable_declarator", "assignment_expression", "enhanced_for_statement"),
	identifiers: javaIdents,
	skipFields: map[string][]string{
		"field_access":      {"field"},
		"method_invocation": {"name"},
	},
	selfNames:    set("this"),
	implicitThis: true,
	className:    nameField,
	bases: func(n *sitter.Node, src []byte) []string {
		return collectTypes(n, src,
			set("superclass", "super_interfaces", "extends_interfaces", "type_list"),
			set("type_identifier", "scoped_type_identifier"))
	},
	params: paramsFrom("parameters", javaIdents),
	assignParts: func(n *sitter.Node) ([]*sitter.Node, *sitter.Node) {
		switch n.Type() {
		case "variable_declarator", "enhanced_for_statement":
			name := n.ChildByFieldName("name")
			if name == nil {
				return nil, n.ChildByFieldName("value")
			}
			return []*sitter.Node{name}, n.ChildByFieldName("value")
		}
		return leftRight(n)
	},
	callee: func(n *sitter.Node, src []byte) callInfo {
		if n.Type() == "object_creation_expression" {
			typ := parser.GetNodeText(n.ChildByFieldName("type"), src)
			if i := strings.IndexByte(typ, '<'); i >= 0 {
				typ = typ[:i]
			}
			return callInfo{text: typ, name: lastSegment(typ), ctor: true}
		}
		name := parser.GetNodeText(n.ChildByFieldName("name"), src)
		if name == "" {
			return callInfo{}
		}
		ci := callInfo{text: name, name: name}
		if obj := n.ChildByFieldName("object"); obj != nil {
			ci.recv = obj
			ci.receiver = parser.GetNodeText(obj, src)
			ci.text = ci.receiver + "." + name
		}
		return ci
	},
	importPaths: func(n *sitter.Node, src []byte) []string {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "scoped_identifier" || c.Type() == "identifier" {
				return []string{parser.GetNodeText(c, src)}
			}
		}
		return nil
	},
}

// genericSpec covers grammars without a dedicated table: declarations
// and plain calls only.
func genericSpec(lang parser.Language) *langSpec {
	return &langSpec{
		classes:     keys(parser.ClassNodeTypes(lang)),
		functions:   keys(parser.FunctionNodeTypes(lang)),
		calls:       set("call_expression"),
		imports:     set(),
		assigns:     set(),
		identifiers: set("identifier"),
		selfNames:   set("self", "this"),
		className:   nameField,
		bases:       func(*sitter.Node, []byte) []string { return nil },
		params:      func(*sitter.Node) []*sitter.Node { return nil },
		assignParts: func(*sitter.Node) ([]*sitter.Node, *sitter.Node) { return nil, nil },
		callee: func(n *sitter.Node, src []byte) callInfo {
			return memberCall(n.ChildByFieldName("function"), src, "field_expression", "argument", "field")
		},
		importPaths: func(*sitter.Node, []byte) []string { return nil },
	}
}
