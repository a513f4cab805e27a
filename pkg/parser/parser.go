package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language names a grammar.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangTSX        Language = "tsx"
	LangJava       Language = "java"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangBash       Language = "bash"
	LangUnknown    Language = "unknown"
)

// ErrUnsupportedLanguage is returned when no grammar exists for a language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrFileTooLarge is returned by ParseFileWithLimit for oversized files.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Family groups languages that share grammar conventions.
// TypeScript and TSX resolve to JavaScript.
func (l Language) Family() Language {
	switch l {
	case LangTypeScript, LangTSX:
		return LangJavaScript
	case LangCPP:
		return LangC
	default:
		return l
	}
}

// Parser holds one tree-sitter parser. It is not safe for concurrent use;
// create one per worker.
type Parser struct {
	parser *sitter.Parser
}

// ParseResult is a parsed file. Call Close to release the tree.
type ParseResult struct {
	Tree     *sitter.Tree
	Language Language
	Source   []byte
	Path     string
}

// Root returns the root node of the tree, or nil.
func (r *ParseResult) Root() *sitter.Node {
	if r == nil || r.Tree == nil {
		return nil
	}
	return r.Tree.RootNode()
}

// Close releases the underlying tree.
func (r *ParseResult) Close() {
	if r != nil && r.Tree != nil {
		r.Tree.Close()
		r.Tree = nil
	}
}

// New returns a Parser.
func New() *Parser {
	return &Parser{
		parser: sitter.NewParser(),
	}
}

// ParseFile reads and parses path, detecting the language from its name.
func (p *Parser) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	return p.ParseFileWithLimit(ctx, path, 0)
}

// ParseFileWithLimit parses a file unless it is larger than maxSize bytes.
// A maxSize of zero disables the check.
func (p *Parser) ParseFileWithLimit(ctx context.Context, path string, maxSize int64) (*ParseResult, error) {
	if maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > maxSize {
			return nil, fmt.Errorf("%s (%d bytes): %w", path, info.Size(), ErrFileTooLarge)
		}
	}

	lang := DetectLanguage(path)
	if lang == LangUnknown {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedLanguage)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return p.Parse(ctx, source, lang, path)
}

// Parse parses source as lang. path is only recorded on the result.
func (p *Parser) Parse(ctx context.Context, source []byte, lang Language, path string) (*ParseResult, error) {
	grammar, err := Grammar(lang)
	if err != nil {
		return nil, err
	}

	p.parser.SetLanguage(grammar)
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &ParseResult{
		Tree:     tree,
		Language: lang,
		Source:   source,
		Path:     path,
	}, nil
}

var grammars = map[Language]func() *sitter.Language{
	LangGo:         golang.GetLanguage,
	LangRust:       rust.GetLanguage,
	LangPython:     python.GetLanguage,
	LangTypeScript: typescript.GetLanguage,
	LangTSX:        tsx.GetLanguage,
	LangJavaScript: javascript.GetLanguage,
	LangJava:       java.GetLanguage,
	LangC:          c.GetLanguage,
	LangCPP:        cpp.GetLanguage,
	LangCSharp:     csharp.GetLanguage,
	LangRuby:       ruby.GetLanguage,
	LangPHP:        php.GetLanguage,
	LangBash:       bash.GetLanguage,
}

// extensions maps lower-cased file extensions to languages. JSX is parsed
// with the TSX grammar.
var extensions = map[string]Language{
	".go": LangGo,
	".rs": LangRust,
	".py": LangPython, ".pyw": LangPython, ".pyi": LangPython,
	".ts": LangTypeScript, ".mts": LangTypeScript, ".cts": LangTypeScript,
	".tsx": LangTSX, ".jsx": LangTSX,
	".js": LangJavaScript, ".mjs": LangJavaScript, ".cjs": LangJavaScript,
	".java": LangJava,
	".c":    LangC, ".h": LangC,
	".cpp": LangCPP, ".cc": LangCPP, ".cxx": LangCPP, ".hpp": LangCPP, ".hxx": LangCPP,
	".cs":   LangCSharp,
	".rb":   LangRuby,
	".php":  LangPHP,
	".sh":   LangBash, ".bash": LangBash,
}

// Grammar returns the tree-sitter grammar for lang.
func Grammar(lang Language) (*sitter.Language, error) {
	g, ok := grammars[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	return g(), nil
}

// DetectLanguage maps a path to a language by extension. Dockerfiles count
// as shell.
func DetectLanguage(path string) Language {
	if strings.EqualFold(filepath.Base(path), "dockerfile") {
		return LangBash
	}
	if lang, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return LangUnknown
}

// Close frees the tree-sitter parser.
func (p *Parser) Close() {
	p.parser.Close()
}

// Visitor receives each node with its type already read. Returning false
// skips the node's children.
type Visitor func(node *sitter.Node, nodeType string, source []byte) bool

// WalkTyped visits node and its descendants in pre-order.
func WalkTyped(node *sitter.Node, source []byte, visitor Visitor) {
	if node == nil {
		return
	}

	nodeType := node.Type()
	if !visitor(node, nodeType, source) {
		return
	}

	for i := range int(node.ChildCount()) {
		WalkTyped(node.Child(i), source, visitor)
	}
}

// FindNodesByType collects the nodes of one type under root.
func FindNodesByType(root *sitter.Node, source []byte, nodeType string) []*sitter.Node {
	var results []*sitter.Node
	WalkTyped(root, source, func(node *sitter.Node, t string, _ []byte) bool {
		if t == nodeType {
			results = append(results, node)
		}
		return true
	})
	return results
}

// GetNodeText returns the source slice covered by node, or "" when the
// node is nil or its offsets fall outside source.
func GetNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start > end || end > uint32(len(source)) {
		return ""
	}
	return string(source[start:end])
}

// Line returns the 1-based start line of a node.
func Line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// FunctionNode is a function or method found in a tree.
type FunctionNode struct {
	Name      string
	Receiver  string
	StartLine uint32
	EndLine   uint32
	Node      *sitter.Node
	Body      *sitter.Node
}

// GetFunctions extracts all function definitions from parsed code,
// including nested ones.
func GetFunctions(result *ParseResult) []FunctionNode {
	var functions []FunctionNode
	funcTypes := FunctionNodeTypes(result.Language)
	if len(funcTypes) == 0 {
		return nil
	}

	WalkTyped(result.Root(), result.Source, func(node *sitter.Node, nodeType string, source []byte) bool {
		// "function" is also the type of the anonymous keyword token.
		if _, ok := funcTypes[nodeType]; ok && node.IsNamed() {
			functions = append(functions, extractFunction(node, source, result.Language))
		}
		return true
	})

	return functions
}

// FunctionNodeTypes returns the AST node types for functions in each language.
func FunctionNodeTypes(lang Language) map[string]struct{} {
	var types []string
	switch lang {
	case LangGo:
		types = []string{"function_declaration", "method_declaration", "func_literal"}
	case LangRust:
		types = []string{"function_item"}
	case LangPython:
		types = []string{"function_definition"}
	case LangTypeScript, LangJavaScript, LangTSX:
		types = []string{"function_declaration", "function", "function_expression", "arrow_function", "method_definition", "generator_function_declaration"}
	case LangJava:
		types = []string{"method_declaration", "constructor_declaration"}
	case LangC, LangCPP:
		types = []string{"function_definition"}
	case LangCSharp:
		types = []string{"method_declaration", "constructor_declaration"}
	case LangRuby:
		types = []string{"method", "singleton_method"}
	case LangPHP:
		types = []string{"function_definition", "method_declaration"}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// ClassNodeTypes returns the AST node types for classes in each language.
func ClassNodeTypes(lang Language) map[string]struct{} {
	var types []string
	switch lang {
	case LangGo:
		types = []string{"type_spec"}
	case LangRust:
		types = []string{"struct_item", "enum_item", "trait_item"}
	case LangPython:
		types = []string{"class_definition"}
	case LangTypeScript, LangJavaScript, LangTSX:
		types = []string{"class_declaration", "class", "abstract_class_declaration", "interface_declaration"}
	case LangJava:
		types = []string{"class_declaration", "interface_declaration", "enum_declaration", "record_declaration"}
	case LangCPP:
		types = []string{"class_specifier", "struct_specifier"}
	case LangCSharp:
		types = []string{"class_declaration", "interface_declaration", "struct_declaration"}
	case LangRuby:
		types = []string{"class", "module"}
	case LangPHP:
		types = []string{"class_declaration", "interface_declaration", "trait_declaration"}
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// FunctionName returns the declared name of a function node.
// Anonymous functions return "".
func FunctionName(node *sitter.Node, source []byte, lang Language) string {
	switch lang {
	case LangC, LangCPP:
		decl := node.ChildByFieldName("declarator")
		for decl != nil {
			if decl.Type() == "identifier" || decl.Type() == "field_identifier" || decl.Type() == "qualified_identifier" {
				return GetNodeText(decl, source)
			}
			decl = decl.ChildByFieldName("declarator")
		}
		return ""
	case LangTypeScript, LangJavaScript, LangTSX:
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			return GetNodeText(nameNode, source)
		}
		// const handler = () => {}
		if parent := node.Parent(); parent != nil && parent.Type() == "variable_declarator" {
			return GetNodeText(parent.ChildByFieldName("name"), source)
		}
		return ""
	default:
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			return GetNodeText(nameNode, source)
		}
		return ""
	}
}

func extractFunction(node *sitter.Node, source []byte, lang Language) FunctionNode {
	fn := FunctionNode{
		Name:      FunctionName(node, source, lang),
		StartLine: node.StartPoint().Row + 1,
		EndLine:   node.EndPoint().Row + 1,
		Node:      node,
	}

	if lang == LangGo && node.Type() == "method_declaration" {
		fn.Receiver = goReceiverType(node.ChildByFieldName("receiver"), source)
	}

	fn.Body = node.ChildByFieldName("body")
	if fn.Body == nil {
		fn.Body = node.ChildByFieldName("block")
	}
	if fn.Body == nil {
		fn.Body = node.ChildByFieldName("body_statement")
	}

	return fn
}

// goReceiverType extracts "T" from "(r *T)" or "(T)".
func goReceiverType(receiver *sitter.Node, source []byte) string {
	if receiver == nil {
		return ""
	}
	var name string
	WalkTyped(receiver, source, func(n *sitter.Node, t string, src []byte) bool {
		if name != "" {
			return false
		}
		if t == "type_identifier" {
			name = GetNodeText(n, src)
			return false
		}
		return true
	})
	return name
}
