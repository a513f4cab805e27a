package discovery

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Report thresholds used when rendering candidate sections.
const (
	ReportMinOccurrences = 5
	ReportMinConfidence  = 0.3
	reportTop            = 20
	reportSampleChars    = 150
)

func orUnknown[T ~string](v T) string {
	if v == "" {
		return "Unknown"
	}
	return string(v)
}

// RenderText implements output.Renderable for text output.
func (r *Report) RenderText(w io.Writer, colored bool) error {
	fmt.Fprintf(w, "Discovery: %s\n", r.Repo)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Files analyzed:       %d\n", r.FilesAnalyzed)
	fmt.Fprintf(w, "AST nodes:            %d\n", r.TotalNodes)
	fmt.Fprintf(w, "Known atoms:          %d (%.1f%%)\n", r.KnownNodes, r.CoverageRatio*100)
	fmt.Fprintf(w, "Unknown nodes:        %d\n", r.UnknownNodes)
	fmt.Fprintf(w, "Unique unknown types: %d\n", len(r.Unknown))
	fmt.Fprintln(w)

	candidates := r.Candidates(ReportMinOccurrences, ReportMinConfidence)
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No taxonomy candidates")
		return nil
	}
	title := "Taxonomy candidates:"
	if colored {
		title = color.New(color.Bold).Sprint(title)
	}
	fmt.Fprintln(w, title)
	for i, c := range candidates {
		if i == reportTop {
			break
		}
		fmt.Fprintf(w, "%2d. %-28s %6dx  conf=%.2f  %s\n",
			i+1, c.Proposal.Name, c.OccurrenceCount, c.Confidence, orUnknown(c.Proposal.Continent))
	}
	return nil
}

// RenderMarkdown implements output.Renderable for markdown output.
func (r *Report) RenderMarkdown(w io.Writer) error {
	fmt.Fprintln(w, "# Atom Discovery Report")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Constructs observed during analysis that the atom taxonomy does not cover, with the evidence collected for each.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Coverage Statistics")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| Repository | %s |\n", r.Repo)
	fmt.Fprintf(w, "| Files Analyzed | %d |\n", r.FilesAnalyzed)
	fmt.Fprintf(w, "| Total AST Nodes | %d |\n", r.TotalNodes)
	fmt.Fprintf(w, "| Known Atoms | %d (%.1f%%) |\n", r.KnownNodes, r.CoverageRatio*100)
	fmt.Fprintf(w, "| Unknown Nodes | %d |\n", r.UnknownNodes)
	fmt.Fprintf(w, "| Unique Unknown Types | %d |\n", len(r.Unknown))
	fmt.Fprintf(w, "| Discovery Rate | %.4f |\n", r.DiscoveryRate)
	fmt.Fprintln(w)

	candidates := r.Candidates(ReportMinOccurrences, ReportMinConfidence)
	if len(candidates) == 0 {
		return nil
	}
	fmt.Fprintln(w, "## Taxonomy Expansion Candidates")
	fmt.Fprintln(w)
	for i, c := range candidates {
		if i == reportTop {
			break
		}
		name := c.Proposal.Name
		if name == "" {
			name = c.ASTType
		}
		fmt.Fprintf(w, "### %d. %s\n\n", i+1, name)
		fmt.Fprintln(w, "| Property | Value |")
		fmt.Fprintln(w, "|----------|-------|")
		fmt.Fprintf(w, "| **AST Type** | `%s` |\n", c.ASTType)
		fmt.Fprintf(w, "| **Occurrences** | %d |\n", c.OccurrenceCount)
		fmt.Fprintf(w, "| **Files** | %d |\n", len(c.Files))
		fmt.Fprintf(w, "| **Confidence** | %.2f |\n", c.Confidence)
		fmt.Fprintf(w, "| **Proposed Continent** | %s |\n", orUnknown(c.Proposal.Continent))
		fmt.Fprintf(w, "| **Proposed Fundamental** | %s |\n", orUnknown(c.Proposal.Fundamental))
		fmt.Fprintf(w, "| **Proposed Level** | %s |\n", orUnknown(c.Proposal.Level))
		fmt.Fprintln(w)
		fmt.Fprintf(w, "**Signature:** `%s`\n\n", c.ASTSignature)
		if len(c.BehaviorIndicators) > 0 {
			fmt.Fprintf(w, "**Behavior:** %s\n\n", strings.Join(c.BehaviorIndicators, ", "))
		}
		if len(c.ContextIndicators) > 0 {
			fmt.Fprintf(w, "**Context:** %s\n\n", strings.Join(c.ContextIndicators, ", "))
		}
		if len(c.CodeSamples) > 0 {
			sample := c.CodeSamples[0]
			if len(sample) > reportSampleChars {
				sample = sample[:reportSampleChars]
			}
			fmt.Fprintf(w, "**Sample:**\n\n```\n%s\n```\n\n", sample)
		}
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}
	return nil
}

// RenderData implements output.Renderable for JSON/TOON output.
func (r *Report) RenderData() any {
	return r
}
