package parser

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// IssueKind distinguishes parser recovery nodes.
type IssueKind string

const (
	IssueError   IssueKind = "error"
	IssueMissing IssueKind = "missing"
)

// SyntaxIssue locates a node the parser marked as erroneous or missing.
type SyntaxIssue struct {
	Kind   IssueKind `json:"kind"`
	Line   int       `json:"line"`
	Column int       `json:"column"`
	Text   string    `json:"text,omitempty"`
}

// SyntaxIssues returns every ERROR and MISSING node in the tree.
// Malformed input never fails parsing; this is how it is surfaced.
func SyntaxIssues(result *ParseResult) []SyntaxIssue {
	root := result.Root()
	if root == nil || !root.HasError() {
		return nil
	}

	var issues []SyntaxIssue
	WalkTyped(root, result.Source, func(node *sitter.Node, nodeType string, source []byte) bool {
		switch {
		case node.IsMissing():
			issues = append(issues, SyntaxIssue{
				Kind:   IssueMissing,
				Line:   Line(node),
				Column: int(node.StartPoint().Column) + 1,
				Text:   nodeType,
			})
		case nodeType == "ERROR":
			text := GetNodeText(node, source)
			if len(text) > 80 {
				text = text[:80]
			}
			issues = append(issues, SyntaxIssue{
				Kind:   IssueError,
				Line:   Line(node),
				Column: int(node.StartPoint().Column) + 1,
				Text:   text,
			})
		}
		// Subtrees without errors cannot contain recovery nodes.
		return node.HasError()
	})
	return issues
}

// Coverage is the share of nodes that parsed cleanly, in [0,1]. Named
// nodes and MISSING tokens count; MISSING tokens are usually anonymous
// punctuation the parser inserted. A tree with no such nodes has
// coverage 1.
func Coverage(result *ParseResult) float64 {
	root := result.Root()
	if root == nil {
		return 0
	}

	var total, broken int
	WalkTyped(root, result.Source, func(node *sitter.Node, nodeType string, _ []byte) bool {
		missing := node.IsMissing()
		if !node.IsNamed() && !missing {
			return true
		}
		total++
		if missing || nodeType == "ERROR" {
			broken++
		}
		return true
	})
	if total == 0 {
		return 1
	}
	return 1 - float64(broken)/float64(total)
}
