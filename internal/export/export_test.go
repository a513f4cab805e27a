package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/internal/logging"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
	"github.com/panbanda/spectrometer/pkg/config"
)

func TestSchemasCompile(t *testing.T) {
	all, err := schemas()
	require.NoError(t, err)
	for _, name := range []string{GraphFile, SnapshotFile, TaxonomyFile, CandidatesFile, GradeFile} {
		assert.Contains(t, all, name)
	}
}

func TestValidateRejectsBadGraph(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing edges", `{"nodes": [], "stats": {"nodes": 0, "edges": 0}}`},
		{"unknown kind", `{"nodes": [{"id": "a", "name": "a", "kind": "module"}], "edges": [], "stats": {"nodes": 1, "edges": 0}}`},
		{"empty id", `{"nodes": [{"id": "", "name": "a", "kind": "file"}], "edges": [], "stats": {"nodes": 1, "edges": 0}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(GraphFile, []byte(tt.doc))
			assert.ErrorIs(t, err, ErrSchemaViolation)
		})
	}
}

func TestValidateUnknownArtifact(t *testing.T) {
	err := Validate("nope.json", []byte(`{}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchemaViolation)
}

func TestWriteJSONValidGraph(t *testing.T) {
	w, err := NewWriter(t.TempDir(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	g := graph.NewCodeGraph()
	g.AddNode(graph.Node{ID: "a.py", Name: "a.py", Kind: graph.KindFile})
	g.AddNode(graph.Node{ID: "a.py:f", Name: "f", Kind: graph.KindFunction, File: "a.py", Parent: "a.py"})
	g.AddEdge(graph.Edge{Source: "a.py:f", Target: "a.py:f", Type: graph.EdgeCall})

	p, err := w.WriteJSON(GraphFile, g.Export())
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)

	var doc graph.Export
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Nodes, 2)
	assert.Len(t, doc.Edges, 1)
}

func TestWriteJSONInvalidWritesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WithLogger(logging.Discard()))
	require.NoError(t, err)

	bad := &grade.Result{HealthIndex: 42, Grade: "Z", Timestamp: time.Now()}
	_, err = w.WriteJSON(GradeFile, bad)
	require.ErrorIs(t, err, ErrSchemaViolation)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewWriterRequiresDir(t *testing.T) {
	_, err := NewWriter("")
	assert.Error(t, err)
}

func TestWriteAllFromRun(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "svc.py"), []byte(`def process(items):
    result = []
    if items:
        result.append(transform(items))
    else:
        return None
    return result
`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = false
	e, err := engine.New(cfg, engine.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer e.Close()

	state, snap := e.Run(context.Background(), src)
	require.Zero(t, snap.Summary.FailCount)

	out := filepath.Join(t.TempDir(), "out")
	w, err := NewWriter(out, WithLogger(logging.Discard()))
	require.NoError(t, err)

	written, err := w.WriteAll(Bundle{
		State:          state,
		Snapshot:       snap,
		Registry:       e.Registry(),
		MinOccurrences: cfg.Discovery.MinOccurrences,
		MinConfidence:  cfg.Discovery.MinConfidence,
	})
	require.NoError(t, err)

	var names []string
	for _, p := range written {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{
		CandidatesFile, DiscoveryFile, GradeFile, GraphFile, MermaidFile, SnapshotFile, TaxonomyFile,
	}, names)

	mmd, err := os.ReadFile(filepath.Join(out, MermaidFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(mmd), "graph") || strings.HasPrefix(string(mmd), "flowchart"))

	for _, name := range []string{GraphFile, SnapshotFile, TaxonomyFile, CandidatesFile, GradeFile} {
		data, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.NoError(t, Validate(name, data), name)
	}
}

func TestWriteAllEmptyBundle(t *testing.T) {
	w, err := NewWriter(t.TempDir(), WithLogger(logging.Discard()))
	require.NoError(t, err)

	written, err := w.WriteAll(Bundle{})
	require.NoError(t, err)
	assert.Empty(t, written)
}
