package grade

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func letterColor(l Letter) *color.Color {
	switch l {
	case LetterA, LetterB:
		return color.New(color.FgGreen, color.Bold)
	case LetterC:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func (r *Result) rows() [][2]string {
	return [][2]string{
		{"Complexity", fmt.Sprintf("%d", r.Components.Complexity)},
		{"Purity", fmt.Sprintf("%d", r.Components.Purity)},
		{"Coupling", fmt.Sprintf("%d", r.Components.Coupling)},
		{"Dead code", fmt.Sprintf("%d", r.Components.DeadCode)},
		{"Parse coverage", fmt.Sprintf("%d", r.Components.Coverage)},
		{"Taxonomy coverage", fmt.Sprintf("%d", r.Components.Taxonomy)},
	}
}

func (r *Result) failedThresholds() []string {
	var failed []string
	for name, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// RenderText implements output.Renderable for text output.
func (r *Result) RenderText(w io.Writer, colored bool) error {
	grade := string(r.Grade)
	if colored {
		grade = letterColor(r.Grade).Sprint(grade)
	}
	fmt.Fprintf(w, "Health Index: %.2f / 10  Grade: %s\n", r.HealthIndex, grade)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Files: %d  Functions: %d  Nodes: %d  Edges: %d\n",
		r.FilesAnalyzed, r.Functions, r.Nodes, r.Edges)
	fmt.Fprintf(w, "Betti: b0=%d b1=%d  Cycles: %d  Dead functions: %d\n",
		r.Betti.B0, r.Betti.B1, r.Cycles, r.DeadFunctions)
	fmt.Fprintln(w)
	for _, row := range r.rows() {
		fmt.Fprintf(w, "  %-18s %5s\n", row[0], row[1])
	}
	if failed := r.failedThresholds(); len(failed) > 0 {
		fmt.Fprintln(w)
		msg := "Failed thresholds: " + strings.Join(failed, ", ")
		if colored {
			msg = color.RedString(msg)
		}
		fmt.Fprintln(w, msg)
	}
	return nil
}

// RenderMarkdown implements output.Renderable for markdown output.
func (r *Result) RenderMarkdown(w io.Writer) error {
	fmt.Fprintln(w, "# Health Grade")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "**Health Index:** %.2f / 10 (**%s**)\n\n", r.HealthIndex, r.Grade)
	fmt.Fprintln(w, "| Component | Score | Weight |")
	fmt.Fprintln(w, "|-----------|-------|--------|")
	weights := []float64{
		r.Weights.Complexity, r.Weights.Purity, r.Weights.Coupling,
		r.Weights.DeadCode, r.Weights.Coverage, r.Weights.Taxonomy,
	}
	for i, row := range r.rows() {
		fmt.Fprintf(w, "| %s | %s | %.2f |\n", row[0], row[1], weights[i])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| Files | %d |\n", r.FilesAnalyzed)
	fmt.Fprintf(w, "| Functions | %d |\n", r.Functions)
	fmt.Fprintf(w, "| Nodes | %d |\n", r.Nodes)
	fmt.Fprintf(w, "| Edges | %d |\n", r.Edges)
	fmt.Fprintf(w, "| Betti b0 / b1 | %d / %d |\n", r.Betti.B0, r.Betti.B1)
	fmt.Fprintf(w, "| Cycles | %d |\n", r.Cycles)
	fmt.Fprintf(w, "| Dead functions | %d |\n", r.DeadFunctions)
	fmt.Fprintln(w)
	return nil
}

// RenderData implements output.Renderable for JSON output.
func (r *Result) RenderData() any {
	return r
}
