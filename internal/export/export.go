// Package export writes analysis artifacts to an output directory. JSON
// artifacts are validated against embedded schemas before they are written.
package export

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
	"github.com/panbanda/spectrometer/pkg/pipeline"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Artifact file names.
const (
	GraphFile      = "graph.json"
	SnapshotFile   = "snapshot.json"
	TaxonomyFile   = "taxonomy.json"
	CandidatesFile = "candidates.json"
	GradeFile      = "grade.json"
	DiscoveryFile  = "discovery.md"
	MermaidFile    = "graph.mmd"
)

// ErrSchemaViolation wraps schema validation failures.
var ErrSchemaViolation = errors.New("export does not match schema")

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://spectrometer.dev/schemas/"

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// schemas compiles every embedded schema once, keyed by artifact name.
func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				compileErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
				compileErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			names = append(names, e.Name())
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			sch, err := c.Compile(schemaBase + name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = sch
		}
		compiled = out
	})
	return compiled, compileErr
}

// Validate checks data against the schema for artifact name.
func Validate(name string, data []byte) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	sch, ok := all[name]
	if !ok {
		return fmt.Errorf("no schema for %s", name)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, name, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, name, err)
	}
	return nil
}

// CandidateDocument is the candidates.json payload.
type CandidateDocument struct {
	Repo           string                   `json:"repo"`
	GeneratedAt    time.Time                `json:"generated_at"`
	MinOccurrences int                      `json:"min_occurrences"`
	MinConfidence  float64                  `json:"min_confidence"`
	Candidates     []*discovery.UnknownAtom `json:"candidates"`
}

// Writer writes artifacts into one directory.
type Writer struct {
	dir     string
	logger  *slog.Logger
	mermaid graph.MermaidOptions
	now     func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = l
	}
}

// WithMermaid sets the diagram rendering options.
func WithMermaid(opts graph.MermaidOptions) Option {
	return func(w *Writer) {
		w.mermaid = opts
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates the output directory and a writer for it.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	w := &Writer{
		dir:     dir,
		logger:  slog.Default(),
		mermaid: graph.DefaultMermaidOptions(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteJSON encodes v, validates it against name's schema and writes it.
// Nothing is written when validation fails.
func (w *Writer) WriteJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := Validate(name, data); err != nil {
		return "", err
	}
	return w.write(name, data)
}

// WriteText writes the output of render to name.
func (w *Writer) WriteText(name string, render func(io.Writer) error) (string, error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return w.write(name, buf.Bytes())
}

// write replaces name atomically.
func (w *Writer) write(name string, data []byte) (string, error) {
	dest := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	w.logger.Debug("artifact written", "file", dest, "bytes", len(data))
	return dest, nil
}

// Bundle is everything a full run can export.
type Bundle struct {
	State          *engine.State
	Snapshot       *pipeline.Snapshot
	Registry       *taxonomy.Registry
	MinOccurrences int
	MinConfidence  float64
}

// WriteAll writes every artifact the bundle has data for and returns the
// written paths in sorted order. Writing stops at the first error.
func (w *Writer) WriteAll(b Bundle) ([]string, error) {
	var written []string
	add := func(p string, err error) error {
		if err != nil {
			return err
		}
		written = append(written, p)
		return nil
	}

	if b.Snapshot != nil {
		if err := add(w.WriteJSON(SnapshotFile, b.Snapshot)); err != nil {
			return written, err
		}
	}
	if b.Registry != nil {
		if err := add(w.WriteJSON(TaxonomyFile, b.Registry.Canon())); err != nil {
			return written, err
		}
	}

	s := b.State
	if s == nil {
		sort.Strings(written)
		return written, nil
	}
	if s.Graph != nil {
		if err := add(w.WriteJSON(GraphFile, s.Graph.Export())); err != nil {
			return written, err
		}
		g := s.Graph
		if err := add(w.WriteText(MermaidFile, func(out io.Writer) error {
			_, err := io.WriteString(out, g.ToMermaid(w.mermaid))
			return err
		})); err != nil {
			return written, err
		}
	}
	if s.Discovery != nil {
		doc := CandidateDocument{
			Repo:           s.Discovery.Repo,
			GeneratedAt:    w.now().UTC(),
			MinOccurrences: b.MinOccurrences,
			MinConfidence:  b.MinConfidence,
			Candidates:     s.Candidates,
		}
		if doc.Candidates == nil {
			doc.Candidates = []*discovery.UnknownAtom{}
		}
		if doc.MinOccurrences < 1 {
			doc.MinOccurrences = 1
		}
		if err := add(w.WriteJSON(CandidatesFile, doc)); err != nil {
			return written, err
		}
		if err := add(w.WriteText(DiscoveryFile, s.Discovery.RenderMarkdown)); err != nil {
			return written, err
		}
	}
	if s.Grade != nil {
		if err := add(w.WriteJSON(GradeFile, s.Grade)); err != nil {
			return written, err
		}
	}

	sort.Strings(written)
	return written, nil
}
