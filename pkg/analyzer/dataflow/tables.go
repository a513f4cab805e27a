package dataflow

import (
	"strings"

	"github.com/panbanda/spectrometer/pkg/parser"
)

// effectTable lists callees that indicate a side effect. An entry matches
// the full callee text, a dotted prefix of it (requests -> requests.get),
// or, for io entries, the final attribute (f.write -> write).
type effectTable struct {
	io       []string
	external []string
	global   []string
}

var sideEffectFunctions = map[parser.Language]effectTable{
	parser.LangPython: {
		io:       []string{"print", "input", "open", "read", "write", "close", "flush"},
		external: []string{"requests", "urllib", "socket", "subprocess", "os.system"},
		global:   []string{"globals", "setattr", "delattr", "exec", "eval"},
	},
	parser.LangJavaScript: {
		io:       []string{"console.log", "console.error", "console.warn", "alert", "prompt", "fetch"},
		external: []string{"XMLHttpRequest", "WebSocket", "localStorage", "sessionStorage"},
		global:   []string{"eval", "document.write"},
	},
	parser.LangGo: {
		io: []string{"fmt.Print", "fmt.Println", "fmt.Printf", "fmt.Fprint", "fmt.Fprintln", "fmt.Fprintf",
			"os.Open", "os.Create", "os.ReadFile", "os.WriteFile", "os.Remove", "log.Print", "log.Printf",
			"log.Println", "log.Fatal", "log.Fatalf"},
		external: []string{"http", "exec.Command", "net.Dial", "sql.Open"},
		global:   []string{"os.Setenv", "os.Unsetenv", "os.Exit"},
	},
	parser.LangJava: {
		io:       []string{"System.out.println", "System.out.print", "System.out.printf", "System.err.println", "Files.write", "Files.readAllLines"},
		external: []string{"HttpClient", "Runtime.getRuntime", "DriverManager.getConnection"},
		global:   []string{"System.setProperty", "System.exit"},
	},
}

// mutatingMethods are methods that modify their receiver.
var mutatingMethods = map[parser.Language]map[string]bool{
	parser.LangPython: set(
		"append", "extend", "insert", "pop", "remove", "clear", "reverse", "sort",
		"update", "popitem", "setdefault",
		"add", "discard", "intersection_update", "difference_update", "symmetric_difference_update",
	),
	parser.LangJavaScript: set(
		"push", "pop", "shift", "unshift", "splice", "reverse", "sort", "fill", "copyWithin",
		"set", "delete", "clear", "add",
	),
	parser.LangJava: set(
		"add", "addAll", "put", "putAll", "remove", "removeIf", "clear", "set", "sort", "push", "pop", "offer", "poll",
	),
	parser.LangGo: set(),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// IsMutatingMethod reports whether method is a known container mutator
// for the language.
func IsMutatingMethod(lang parser.Language, method string) bool {
	return mutatingMethods[lang.Family()][method]
}

// classifyCall returns the side-effect kind for a callee, if any.
func classifyCall(lang parser.Language, callee string) (EffectKind, bool) {
	table, ok := sideEffectFunctions[lang.Family()]
	if !ok || callee == "" {
		return "", false
	}
	last := callee
	if i := strings.LastIndexByte(callee, '.'); i >= 0 {
		last = callee[i+1:]
	}
	for _, group := range []struct {
		kind  EffectKind
		names []string
	}{
		{EffectIO, table.io},
		{EffectExternal, table.external},
		{EffectGlobal, table.global},
	} {
		for _, name := range group.names {
			if callee == name || strings.HasPrefix(callee, name+".") {
				return group.kind, true
			}
			if group.kind == EffectIO && !strings.Contains(name, ".") && last == name && last != callee {
				return group.kind, true
			}
		}
	}
	return "", false
}
