package controlflow

import "github.com/panbanda/spectrometer/pkg/parser"

// rules is the per-language node classification used by the walker.
type rules struct {
	decision      map[string]bool
	booleanParent map[string]bool
	booleanOps    map[string]bool
	loop          map[string]bool
	handler       map[string]bool
	branch        map[string]bool
	nesting       map[string]bool
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

var (
	pythonRules = &rules{
		decision: set("if_statement", "elif_clause", "for_statement", "while_statement",
			"except_clause", "conditional_expression", "if_clause", "case_clause"),
		booleanParent: set("boolean_operator"),
		booleanOps:    set("and", "or"),
		loop:          set("for_statement", "while_statement"),
		handler:       set("except_clause"),
		branch:        set("if_statement", "elif_clause", "case_clause"),
		nesting: set("if_statement", "for_statement", "while_statement", "try_statement",
			"with_statement", "match_statement", "function_definition", "class_definition", "lambda"),
	}

	javascriptRules = &rules{
		decision: set("if_statement", "for_statement", "for_in_statement", "while_statement",
			"do_statement", "switch_case", "catch_clause", "ternary_expression"),
		booleanParent: set("binary_expression"),
		booleanOps:    set("&&", "||"),
		loop:          set("for_statement", "for_in_statement", "while_statement", "do_statement"),
		handler:       set("catch_clause"),
		branch:        set("if_statement", "switch_case"),
		nesting: set("if_statement", "for_statement", "for_in_statement", "while_statement",
			"do_statement", "try_statement", "switch_statement", "function_declaration",
			"function_expression", "function", "arrow_function", "method_definition", "class_declaration"),
	}

	goRules = &rules{
		decision: set("if_statement", "for_statement", "expression_case", "type_case",
			"communication_case"),
		booleanParent: set("binary_expression"),
		booleanOps:    set("&&", "||"),
		loop:          set("for_statement"),
		handler:       set(),
		branch:        set("if_statement", "expression_case", "type_case", "communication_case"),
		nesting: set("if_statement", "for_statement", "expression_switch_statement",
			"type_switch_statement", "select_statement", "func_literal"),
	}

	javaRules = &rules{
		decision: set("if_statement", "for_statement", "enhanced_for_statement", "while_statement",
			"do_statement", "switch_block_statement_group", "switch_rule", "catch_clause",
			"ternary_expression"),
		booleanParent: set("binary_expression"),
		booleanOps:    set("&&", "||"),
		loop:          set("for_statement", "enhanced_for_statement", "while_statement", "do_statement"),
		handler:       set("catch_clause"),
		branch:        set("if_statement", "switch_block_statement_group", "switch_rule"),
		nesting: set("if_statement", "for_statement", "enhanced_for_statement", "while_statement",
			"do_statement", "try_statement", "switch_expression", "lambda_expression",
			"class_body", "method_declaration"),
	}

	genericRules = &rules{
		decision: set("if_statement", "if_expression", "while_statement", "while_expression",
			"for_statement", "for_expression", "case_statement", "catch_clause",
			"ternary_expression", "conditional_expression", "match_arm"),
		booleanParent: set("binary_expression"),
		booleanOps:    set("&&", "||", "and", "or"),
		loop:          set("while_statement", "while_expression", "for_statement", "for_expression", "loop_expression"),
		handler:       set("catch_clause", "rescue"),
		branch:        set("if_statement", "if_expression", "case_statement", "match_arm"),
		nesting: set("if_statement", "if_expression", "while_statement", "while_expression",
			"for_statement", "for_expression", "switch_statement", "match_expression",
			"try_statement", "lambda_expression", "closure_expression"),
	}
)

func rulesFor(lang parser.Language) *rules {
	switch lang.Family() {
	case parser.LangPython:
		return pythonRules
	case parser.LangJavaScript:
		return javascriptRules
	case parser.LangGo:
		return goRules
	case parser.LangJava:
		return javaRules
	default:
		return genericRules
	}
}
