// Package analyzer holds the contracts shared by the per-file analyzers.
package analyzer

import (
	"context"

	"github.com/panbanda/spectrometer/pkg/parser"
)

// FileAnalyzer is implemented by analyzers that can run over a list of paths.
type FileAnalyzer[T any] interface {
	// Analyze parses and processes the files. Per-file failures are
	// reported in the result, not as an error.
	Analyze(ctx context.Context, files []string) (T, error)

	// Close releases any resources held by the analyzer.
	Close()
}

// TreeAnalyzer is implemented by analyzers that work on a tree parsed
// elsewhere, so a pipeline can parse each file once.
type TreeAnalyzer[T any] interface {
	AnalyzeTree(ctx context.Context, result *parser.ParseResult) (T, error)
}
