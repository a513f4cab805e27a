package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/spectrometer/internal/export"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
	"github.com/panbanda/spectrometer/pkg/pipeline"
	"github.com/panbanda/spectrometer/pkg/roles"
)

const serviceSource = `def process(items):
    result = []
    if items:
        result.append(transform(items))
    else:
        return None
    return result
`

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	argv := append([]string{"spectrometer", "--no-color"}, args...)
	code := run(context.Background(), argv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc.py"), []byte(serviceSource), 0o644))
	return dir
}

func TestInterspersed(t *testing.T) {
	app := newApp(&bytes.Buffer{}, &bytes.Buffer{})
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "trailing bool flag",
			args: []string{"s", "grade", "./src", "--json"},
			want: []string{"s", "grade", "--json", "./src"},
		},
		{
			name: "trailing value flag",
			args: []string{"s", "full", "./src", "--output", "out"},
			want: []string{"s", "full", "--output", "out", "./src"},
		},
		{
			name: "global flags stay put",
			args: []string{"s", "--log-level", "debug", "grade", "x", "-f", "json"},
			want: []string{"s", "--log-level", "debug", "grade", "-f", "json", "x"},
		},
		{
			name: "subcommand",
			args: []string{"s", "taxonomy", "export", "--output=t.json"},
			want: []string{"s", "taxonomy", "export", "--output=t.json"},
		},
		{
			name: "double dash stops reordering",
			args: []string{"s", "roles", "normalize", "a", "--", "--json"},
			want: []string{"s", "roles", "normalize", "a", "--", "--json"},
		},
		{
			name: "program only",
			args: []string{"s"},
			want: []string{"s"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, interspersed(app, tt.args))
		})
	}
}

func TestGradeJSON(t *testing.T) {
	dir := sourceDir(t)
	code, stdout, stderr := runCLI(t, "grade", dir, "--json", "--no-cache")
	require.Equal(t, exitOK, code, stderr)

	var res grade.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, 1, res.FilesAnalyzed)
	assert.NotEmpty(t, res.Grade)
	assert.Equal(t, grade.LetterFor(res.HealthIndex), res.Grade)
}

func TestGradeTextShowsStages(t *testing.T) {
	dir := sourceDir(t)
	code, stdout, stderr := runCLI(t, "grade", dir, "--no-cache")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Health Index")
	assert.Contains(t, stderr, "controlflow")
}

func TestGradeCachesResult(t *testing.T) {
	dir := sourceDir(t)
	code, first, stderr := runCLI(t, "grade", dir, "--json")
	require.Equal(t, exitOK, code, stderr)

	entries, err := os.ReadDir(filepath.Join(dir, ".spectrometer", "cache"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	code, second, stderr := runCLI(t, "grade", dir, "--json")
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, first, second)
}

func TestGradeMissingPathFails(t *testing.T) {
	code, _, stderr := runCLI(t, "grade", filepath.Join(t.TempDir(), "missing"), "--no-cache")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "failed")
}

func TestGradeEmptyDirectory(t *testing.T) {
	code, _, stderr := runCLI(t, "grade", t.TempDir(), "--no-cache")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "nothing to grade")
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown format", []string{"grade", ".", "--format", "yaml"}},
		{"unknown flag", []string{"grade", "--bogus"}},
		{"unknown command", []string{"frobnicate"}},
		{"full without output", []string{"full", "."}},
		{"stage without name", []string{"stage"}},
		{"unknown stage", []string{"stage", "nope", "."}},
		{"bad min confidence", []string{"discover", ".", "--min-confidence", "2"}},
		{"bad min occurrences", []string{"discover", ".", "--min-occurrences", "0"}},
		{"taxonomy out without promote", []string{"discover", ".", "--taxonomy-out", "t.json"}},
		{"roles without labels", []string{"roles", "normalize"}},
		{"bad log level", []string{"--log-level", "loud", "roles", "list"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestInvalidConfigExitsUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrometer.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0o644))

	code, _, stderr := runCLI(t, "--config", path, "roles", "list")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "config")
}

func TestFullWritesArtifacts(t *testing.T) {
	dir := sourceDir(t)
	out := filepath.Join(t.TempDir(), "out")

	code, stdout, stderr := runCLI(t, "full", dir, "--output", out)
	require.Equal(t, exitOK, code, stderr)

	for _, name := range []string{
		export.GraphFile, export.SnapshotFile, export.TaxonomyFile, export.CandidatesFile,
		export.GradeFile, export.DiscoveryFile, export.MermaidFile,
	} {
		assert.FileExists(t, filepath.Join(out, name))
		assert.Contains(t, stdout, name)
	}

	data, err := os.ReadFile(filepath.Join(out, export.SnapshotFile))
	require.NoError(t, err)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Len(t, snap.Stages, 8)
}

func TestDiscoverJSON(t *testing.T) {
	dir := sourceDir(t)
	code, stdout, stderr := runCLI(t, "discover", dir,
		"--min-occurrences", "1", "--min-confidence", "0", "--json")
	require.Equal(t, exitOK, code, stderr)

	var doc export.CandidateDocument
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Equal(t, 1, doc.MinOccurrences)
	assert.Equal(t, filepath.Base(dir), doc.Repo)
	for _, c := range doc.Candidates {
		assert.GreaterOrEqual(t, c.OccurrenceCount, 1)
	}
}

func TestDiscoverStoreAccumulates(t *testing.T) {
	dir := sourceDir(t)
	store := filepath.Join(t.TempDir(), "store")
	args := []string{"discover", dir, "--store", store, "--min-occurrences", "1", "--min-confidence", "0", "--json"}

	code, first, stderr := runCLI(t, args...)
	require.Equal(t, exitOK, code, stderr)
	code, second, stderr := runCLI(t, args...)
	require.Equal(t, exitOK, code, stderr)

	var a, b export.CandidateDocument
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	require.Equal(t, len(a.Candidates), len(b.Candidates))
	counts := make(map[string]int, len(a.Candidates))
	for _, c := range a.Candidates {
		counts[c.Signature] = c.OccurrenceCount
	}
	for _, c := range b.Candidates {
		require.Contains(t, counts, c.Signature)
		assert.Equal(t, 2*counts[c.Signature], c.OccurrenceCount, c.ASTType)
	}
}

func TestStageJSON(t *testing.T) {
	dir := sourceDir(t)
	code, stdout, stderr := runCLI(t, "stage", "controlflow", dir, "--json")
	require.Equal(t, exitOK, code, stderr)

	var res pipeline.StageResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "controlflow", res.StageName)
	assert.Equal(t, pipeline.StatusOK, res.Status)
}

func TestTaxonomyExportValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "taxonomy.json")
	code, stdout, stderr := runCLI(t, "taxonomy", "export", "--output", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NoError(t, export.Validate(export.TaxonomyFile, data))
}

func TestTaxonomyExportStdout(t *testing.T) {
	code, stdout, _ := runCLI(t, "taxonomy", "export")
	require.Equal(t, exitOK, code)
	assert.NoError(t, export.Validate(export.TaxonomyFile, []byte(stdout)))
}

func TestRolesNormalize(t *testing.T) {
	canonical := string(roles.All()[0])
	code, stdout, stderr := runCLI(t, "roles", "normalize", canonical, "definitely-not-a-role", "--json")
	require.Equal(t, exitOK, code, stderr)

	var got []roleMapping
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 2)
	assert.Equal(t, roles.Role(canonical), got[0].Role)
	assert.True(t, got[0].Canonical)
	assert.Equal(t, roles.Fallback, got[1].Role)
	assert.False(t, got[1].Canonical)
}

func TestConfigInitShowValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrometer.toml")

	code, _, stderr := runCLI(t, "config", "init", "--output", path)
	require.Equal(t, exitOK, code, stderr)
	require.FileExists(t, path)

	code, _, _ = runCLI(t, "config", "init", "--output", path)
	assert.Equal(t, exitFailed, code)

	code, stdout, stderr := runCLI(t, "--config", path, "config", "show")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, path)
	assert.Contains(t, stdout, "[discovery]")

	code, stdout, _ = runCLI(t, "--config", path, "config", "validate")
	require.Equal(t, exitOK, code)
	assert.True(t, strings.Contains(stdout, "valid"))
}

func TestMCPManifest(t *testing.T) {
	code, stdout, _ := runCLI(t, "mcp", "manifest")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, `"io.github.panbanda/spectrometer"`)
	assert.Contains(t, stdout, "SPECTROMETER_CONFIG")
}
