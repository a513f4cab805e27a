package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/spectrometer/internal/logging"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/config"
)

const sampleSource = `def process(items):
    result = []
    if items:
        result.append(transform(items))
    else:
        return None
    return result


def main():
    return process([1, 2])
`

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = false
	return NewServer("test", WithConfig(cfg), WithLogger(logging.Discard()))
}

func sampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "svc.py"), []byte(sampleSource), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil {
		t.Fatal("nil result")
	}
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return text.Text
}

func TestServerCreation(t *testing.T) {
	s := NewServer("")
	if s == nil || s.server == nil {
		t.Fatal("NewServer() returned an incomplete server")
	}
	if s.cfg == nil {
		t.Error("server should default its config")
	}
}

func TestToolDescriptions(t *testing.T) {
	for name, fn := range map[string]func() string{
		"grade":       describeGrade,
		"graph_stats": describeGraphStats,
		"discover":    describeDiscover,
	} {
		desc := fn()
		for _, section := range []string{"USE WHEN:", "INTERPRETING RESULTS:", "METRICS RETURNED:"} {
			if !strings.Contains(desc, section) {
				t.Errorf("%s description missing %s", name, section)
			}
		}
	}
}

func TestGetFormat(t *testing.T) {
	tests := []struct {
		input string
		want  output.Format
	}{
		{"", output.FormatTOON},
		{"toon", output.FormatTOON},
		{"json", output.FormatJSON},
		{"md", output.FormatMarkdown},
		{"xml", output.FormatTOON},
	}
	for _, tt := range tests {
		if got := getFormat(AnalyzeInput{Format: tt.input}); got != tt.want {
			t.Errorf("getFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGetPathDefaultsToCwd(t *testing.T) {
	if got := getPath(AnalyzeInput{}); got != "." {
		t.Errorf("getPath() = %q", got)
	}
}

func TestFormatOutputJSONIsJSON(t *testing.T) {
	out, err := formatOutput(map[string]int{"nodes": 3}, output.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]int
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("json format produced %q: %v", out, err)
	}
	md, err := formatOutput(map[string]int{"nodes": 3}, output.FormatMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(md, "```\n") {
		t.Errorf("markdown output should be fenced: %q", md)
	}
}

func TestToolError(t *testing.T) {
	res, _, err := toolError("boom")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || resultText(t, res) != "Error: boom" {
		t.Errorf("toolError() = %+v", res)
	}
}

func TestHandleGrade(t *testing.T) {
	s := testServer(t)
	res, _, err := s.handleGrade(context.Background(), nil, GradeInput{
		AnalyzeInput: AnalyzeInput{Path: sampleRepo(t), Format: "json"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("grade failed: %s", resultText(t, res))
	}

	var out GradeOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Grade == nil || out.Grade.Grade == "" {
		t.Fatalf("missing grade: %+v", out)
	}
	if len(out.Stages) != 8 {
		t.Errorf("stages = %d, want 8", len(out.Stages))
	}
}

func TestHandleGradeMissingPath(t *testing.T) {
	s := testServer(t)
	res, _, err := s.handleGrade(context.Background(), nil, GradeInput{
		AnalyzeInput: AnalyzeInput{Path: filepath.Join(t.TempDir(), "missing")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected a tool error for a missing path")
	}
}

func TestHandleGradeEmptyDir(t *testing.T) {
	s := testServer(t)
	res, _, _ := s.handleGrade(context.Background(), nil, GradeInput{
		AnalyzeInput: AnalyzeInput{Path: t.TempDir()},
	})
	if !res.IsError || !strings.Contains(resultText(t, res), "no source files") {
		t.Errorf("unexpected result %q", resultText(t, res))
	}
}

func TestHandleGraphStats(t *testing.T) {
	s := testServer(t)
	res, _, err := s.handleGraphStats(context.Background(), nil, GraphStatsInput{
		AnalyzeInput: AnalyzeInput{Path: sampleRepo(t), Format: "json"},
		Top:          2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("graph_stats failed: %s", resultText(t, res))
	}

	var out GraphStatsOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Metrics.TotalFunctions != 2 {
		t.Errorf("functions = %d, want 2", out.Metrics.TotalFunctions)
	}
	if len(out.TopRanked) != 2 {
		t.Errorf("top ranked = %d, want 2", len(out.TopRanked))
	}
	if out.TopRanked[0].Rank < out.TopRanked[1].Rank {
		t.Error("top ranked should be sorted by rank")
	}
}

func TestHandleDiscover(t *testing.T) {
	s := testServer(t)
	res, _, err := s.handleDiscover(context.Background(), nil, DiscoverInput{
		AnalyzeInput:   AnalyzeInput{Path: sampleRepo(t), Format: "json"},
		MinOccurrences: 1,
		MinConfidence:  0.01,
		Limit:          3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("discover failed: %s", resultText(t, res))
	}

	var out DiscoverOutput
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if out.FilesAnalyzed != 1 {
		t.Errorf("files = %d, want 1", out.FilesAnalyzed)
	}
	if out.MinOccurrences != 1 {
		t.Errorf("min occurrences = %d", out.MinOccurrences)
	}
	if len(out.Candidates) > 3 {
		t.Errorf("limit not applied: %d candidates", len(out.Candidates))
	}
	if out.Candidates == nil {
		t.Error("candidates should encode as an empty list")
	}
}

func TestToolsOverTransport(t *testing.T) {
	ctx := context.Background()
	s := testServer(t)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"grade", "graph_stats", "discover"} {
		if !strings.Contains(strings.Join(names, ","), want) {
			t.Errorf("tool %s not registered: %v", want, names)
		}
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "graph_stats",
		Arguments: map[string]any{"path": sampleRepo(t)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("graph_stats failed: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "total_functions") {
		t.Errorf("unexpected output:\n%s", resultText(t, res))
	}
}

func TestPrompts(t *testing.T) {
	docs, err := loadPrompts()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) == 0 {
		t.Fatal("no prompts embedded")
	}
	for _, doc := range docs {
		if doc.Description == "" {
			t.Errorf("%s: missing description", doc.Name)
		}
		if strings.HasPrefix(doc.Body, "---") {
			t.Errorf("%s: frontmatter left in body", doc.Name)
		}

		res, err := doc.handler()(context.Background(), &mcp.GetPromptRequest{})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Messages) != 1 || res.Messages[0].Role != "user" {
			t.Fatalf("%s: unexpected messages %+v", doc.Name, res.Messages)
		}
		text := res.Messages[0].Content.(*mcp.TextContent).Text
		if strings.Contains(text, "{{") {
			t.Errorf("%s: unfilled placeholder in %q", doc.Name, text)
		}
	}
}

func TestPromptRenderArguments(t *testing.T) {
	doc := promptDoc{
		Name: "p",
		Arguments: []promptArg{
			{Name: "path", Default: "."},
			{Name: "repo", Required: true},
		},
		Body: "grade {{path}} for {{repo}}",
	}

	got, err := doc.render(map[string]string{"repo": "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "grade . for acme" {
		t.Errorf("render() = %q", got)
	}

	got, err = doc.render(map[string]string{"path": "./src", "repo": "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "grade ./src for acme" {
		t.Errorf("render() = %q", got)
	}

	if _, err := doc.render(nil); err == nil {
		t.Error("expected error for missing required argument")
	}
}

func TestParsePromptWithoutFrontmatter(t *testing.T) {
	doc, err := parsePrompt([]byte("just text"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Description != "" || doc.Body != "just text" {
		t.Errorf("parsePrompt() = %+v", doc)
	}
}

func TestParsePromptBadFrontmatter(t *testing.T) {
	if _, err := parsePrompt([]byte("---\narguments: [\n---\nbody\n")); err == nil {
		t.Error("expected error for malformed frontmatter")
	}
}

func TestGenerateManifest(t *testing.T) {
	for _, version := range []string{"", "dev"} {
		data, err := GenerateManifest(version)
		if err != nil {
			t.Fatal(err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		if m.Version != "0.0.0" || m.Name != "io.github.panbanda/spectrometer" {
			t.Errorf("manifest = %+v", m)
		}
	}

	data, err := GenerateManifest("1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Packages) != 1 {
		t.Fatalf("packages = %+v", m.Packages)
	}
	pkg := m.Packages[0]
	if pkg.Transport.Type != "stdio" || pkg.Version != "1.2.3" {
		t.Errorf("package = %+v", pkg)
	}
	if len(pkg.EnvironmentVariables) != 1 || pkg.EnvironmentVariables[0].Name != "SPECTROMETER_CONFIG" {
		t.Errorf("env = %+v", pkg.EnvironmentVariables)
	}
}
