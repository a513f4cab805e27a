package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, lang Language, source string) *ParseResult {
	t.Helper()
	p := New()
	defer p.Close()
	result, err := p.Parse(context.Background(), []byte(source), lang, "test.file")
	require.NoError(t, err)
	t.Cleanup(result.Close)
	return result
}

func TestNew(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("New() returned nil")
	}
	if p.parser == nil {
		t.Error("parser field is nil")
	}
	p.Close()
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"main.go", LangGo},
		{"lib.rs", LangRust},
		{"script.py", LangPython},
		{"types.pyi", LangPython},
		{"app.ts", LangTypeScript},
		{"app.mts", LangTypeScript},
		{"component.tsx", LangTSX},
		{"script.js", LangJavaScript},
		{"module.mjs", LangJavaScript},
		{"component.jsx", LangTSX},
		{"Main.java", LangJava},
		{"header.h", LangC},
		{"main.cpp", LangCPP},
		{"Program.cs", LangCSharp},
		{"script.rb", LangRuby},
		{"index.php", LangPHP},
		{"script.sh", LangBash},
		{"Dockerfile", LangBash},
		{"file.txt", LangUnknown},
		{"file", LangUnknown},
		{"Main.GO", LangGo},
		{"SCRIPT.PY", LangPython},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestLanguageFamily(t *testing.T) {
	assert.Equal(t, LangJavaScript, LangTypeScript.Family())
	assert.Equal(t, LangJavaScript, LangTSX.Family())
	assert.Equal(t, LangJavaScript, LangJavaScript.Family())
	assert.Equal(t, LangPython, LangPython.Family())
	assert.Equal(t, LangC, LangCPP.Family())
}

func TestGrammar(t *testing.T) {
	langs := []Language{
		LangGo, LangRust, LangPython, LangTypeScript, LangTSX,
		LangJavaScript, LangJava, LangC, LangCPP, LangCSharp,
		LangRuby, LangPHP, LangBash,
	}

	for _, lang := range langs {
		t.Run(string(lang), func(t *testing.T) {
			tsLang, err := Grammar(lang)
			require.NoError(t, err)
			assert.NotNil(t, tsLang)
		})
	}

	_, err := Grammar(LangUnknown)
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		source string
		lang   Language
	}{
		{"go function", "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n", LangGo},
		{"python function", "def hello():\n    print('hello')\n", LangPython},
		{"javascript function", "function hello() {\n  console.log('hello');\n}\n", LangJavaScript},
		{"rust function", "fn main() {\n    println!(\"hello\");\n}\n", LangRust},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustParse(t, tt.lang, tt.source)
			assert.Equal(t, tt.lang, result.Language)
			assert.Equal(t, tt.source, string(result.Source))
			assert.Equal(t, "test.file", result.Path)
			require.NotNil(t, result.Root())
			assert.Greater(t, int(result.Root().ChildCount()), 0)
		})
	}
}

func TestParseFile(t *testing.T) {
	tmpDir := t.TempDir()
	goFile := filepath.Join(tmpDir, "test.go")
	require.NoError(t, os.WriteFile(goFile, []byte("package main\n\nfunc hello() {}\n"), 0644))

	p := New()
	defer p.Close()

	result, err := p.ParseFile(context.Background(), goFile)
	require.NoError(t, err)
	defer result.Close()
	assert.Equal(t, LangGo, result.Language)
	assert.Equal(t, goFile, result.Path)
}

func TestParseFileErrors(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.ParseFile(context.Background(), "/nonexistent/path/file.go")
	assert.Error(t, err)

	tmpDir := t.TempDir()
	txtFile := filepath.Join(tmpDir, "test.txt")
	require.NoError(t, os.WriteFile(txtFile, []byte("hello"), 0644))

	_, err = p.ParseFile(context.Background(), txtFile)
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))
}

func TestParseFileWithLimit(t *testing.T) {
	tmpDir := t.TempDir()
	pyFile := filepath.Join(tmpDir, "big.py")
	require.NoError(t, os.WriteFile(pyFile, []byte("x = 1\ny = 2\nz = 3\n"), 0644))

	p := New()
	defer p.Close()

	_, err := p.ParseFileWithLimit(context.Background(), pyFile, 4)
	assert.True(t, errors.Is(err, ErrFileTooLarge))

	result, err := p.ParseFileWithLimit(context.Background(), pyFile, 1024)
	require.NoError(t, err)
	result.Close()
}

func TestWalkTyped(t *testing.T) {
	result := mustParse(t, LangGo, "package main\n\nfunc main() {\n\tx := 1\n}\n")

	found := make(map[string]bool)
	WalkTyped(result.Root(), result.Source, func(node *sitter.Node, nodeType string, source []byte) bool {
		found[nodeType] = true
		return nodeType != "function_declaration"
	})
	for _, expected := range []string{"source_file", "package_clause", "function_declaration"} {
		assert.True(t, found[expected], "expected node type %q", expected)
	}
	assert.False(t, found["short_var_declaration"], "children of a rejected node should be skipped")

	WalkTyped(nil, nil, func(node *sitter.Node, nodeType string, source []byte) bool {
		t.Error("Visitor should not be called for nil node")
		return true
	})
}

func TestFindNodesByType(t *testing.T) {
	result := mustParse(t, LangGo, "package main\n\nfunc one() {}\nfunc two() {}\nfunc three() {}\n")
	nodes := FindNodesByType(result.Root(), result.Source, "function_declaration")
	assert.Len(t, nodes, 3)
}

func TestGetNodeText(t *testing.T) {
	result := mustParse(t, LangGo, "package main\n\nfunc hello() {}\n")
	funcs := FindNodesByType(result.Root(), result.Source, "function_declaration")
	require.NotEmpty(t, funcs)
	assert.Equal(t, "func hello() {}", GetNodeText(funcs[0], result.Source))
	assert.Equal(t, "", GetNodeText(nil, result.Source))
}

func TestGetFunctions(t *testing.T) {
	tests := []struct {
		name     string
		lang     Language
		source   string
		expected []string
	}{
		{"go functions", LangGo, "package main\n\nfunc one() {}\nfunc two() {}\n", []string{"one", "two"}},
		{"go method", LangGo, "package main\n\ntype T struct{}\n\nfunc (t *T) Run() {}\n", []string{"Run"}},
		{"python functions", LangPython, "def alpha():\n    pass\n\ndef beta():\n    pass\n", []string{"alpha", "beta"}},
		{"javascript arrow functions", LangJavaScript, "const foo = () => {};\nconst bar = () => {};\n", []string{"foo", "bar"}},
		{"rust functions", LangRust, "fn first() {}\nfn second() {}\n", []string{"first", "second"}},
		{"javascript declaration", LangJavaScript, "function f(xs) { if (xs) { xs.push(1) } else {} extCall() }\n", []string{"f"}},
		{"typescript declaration", LangTypeScript, "function f(xs: number[]): void { if (xs) { xs.push(1) } }\n", []string{"f"}},
		{"javascript function expression", LangJavaScript, "const h = function (x) { return x };\n", []string{"h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustParse(t, tt.lang, tt.source)
			functions := GetFunctions(result)
			require.Len(t, functions, len(tt.expected))
			for i, fn := range functions {
				assert.Equal(t, tt.expected[i], fn.Name)
				assert.NotNil(t, fn.Body)
			}
		})
	}
}

func TestGetFunctionsGoReceiver(t *testing.T) {
	result := mustParse(t, LangGo, "package main\n\ntype Store struct{}\n\nfunc (s *Store) Save() {}\n")
	functions := GetFunctions(result)
	require.Len(t, functions, 1)
	assert.Equal(t, "Store", functions[0].Receiver)
}

func TestSyntaxIssues(t *testing.T) {
	clean := mustParse(t, LangPython, "def ok():\n    return 1\n")
	assert.Empty(t, SyntaxIssues(clean))
	assert.Equal(t, 1.0, Coverage(clean))

	broken := mustParse(t, LangPython, "def broken(:\n    return 1\n")
	issues := SyntaxIssues(broken)
	require.NotEmpty(t, issues)
	assert.Equal(t, 1, issues[0].Line)
	assert.Less(t, Coverage(broken), 1.0)
	assert.GreaterOrEqual(t, Coverage(broken), 0.0)
}

func TestCoverageCountsMissingTokens(t *testing.T) {
	broken := mustParse(t, LangPython, "def broken(:\n    return 1\n")

	var missing int
	for _, issue := range SyntaxIssues(broken) {
		if issue.Kind == IssueMissing {
			missing++
		}
	}
	require.Positive(t, missing, "expected a MISSING token")
	assert.Less(t, Coverage(broken), 1.0)

	js := mustParse(t, LangJavaScript, "function f() { return 1 }\n")
	assert.Equal(t, 1.0, Coverage(js))
}
