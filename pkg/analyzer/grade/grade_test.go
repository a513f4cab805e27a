package grade

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/panbanda/spectrometer/pkg/analyzer/controlflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/dataflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
)

func TestLetterFor(t *testing.T) {
	tests := []struct {
		index float64
		want  Letter
	}{
		{10, LetterA},
		{8.5, LetterA},
		{8.49, LetterB},
		{7, LetterB},
		{6.99, LetterC},
		{5.5, LetterC},
		{5.49, LetterD},
		{4, LetterD},
		{3.99, LetterF},
		{0, LetterF},
	}
	for _, tt := range tests {
		if got := LetterFor(tt.index); got != tt.want {
			t.Errorf("LetterFor(%v) = %s, want %s", tt.index, got, tt.want)
		}
	}
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	if sum := DefaultWeights().sum(); math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %f, want 1.0", sum)
	}
}

func TestResult_ComputeComposite(t *testing.T) {
	r := &Result{
		Components: ComponentScores{
			Complexity: 80,
			Purity:     90,
			Coupling:   70,
			DeadCode:   60,
			Coverage:   100,
			Taxonomy:   50,
		},
		Weights: DefaultWeights(),
	}
	r.ComputeComposite()

	// 80*.25 + 90*.20 + 70*.20 + 60*.15 + 100*.10 + 50*.10 = 76 -> 7.6
	if math.Abs(r.HealthIndex-7.6) > 1e-9 {
		t.Errorf("HealthIndex = %v, want 7.6", r.HealthIndex)
	}
	if r.Grade != LetterB {
		t.Errorf("Grade = %s, want B", r.Grade)
	}
}

func TestResult_ComputeComposite_UnnormalisedWeights(t *testing.T) {
	r := &Result{
		Components: ComponentScores{Complexity: 40, Purity: 100},
		Weights:    Weights{Complexity: 1, Purity: 1},
	}
	r.ComputeComposite()
	if r.HealthIndex != 7 {
		t.Errorf("HealthIndex = %v, want 7", r.HealthIndex)
	}

	zero := &Result{Components: ComponentScores{Complexity: 100, Purity: 100, Coupling: 100, DeadCode: 100, Coverage: 100, Taxonomy: 100}}
	zero.ComputeComposite()
	if zero.HealthIndex != 10 {
		t.Errorf("zero weights should fall back to defaults, got %v", zero.HealthIndex)
	}
}

func TestResult_CheckThresholds(t *testing.T) {
	r := &Result{HealthIndex: 6, Components: ComponentScores{Complexity: 90, Purity: 40}}
	r.CheckThresholds(Thresholds{HealthIndex: 5, Purity: 50})
	if r.Passed {
		t.Error("expected thresholds to fail on purity")
	}
	if !r.Thresholds["health_index"].Passed {
		t.Error("health_index threshold should pass")
	}
	if r.Thresholds["purity"].Passed {
		t.Error("purity threshold should fail")
	}
	if !r.Thresholds["coupling"].Passed {
		t.Error("disabled threshold should pass")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"complexity empty", NormalizeComplexity(0, 0), 100},
		{"complexity share", NormalizeComplexity(4, 3), 75},
		{"purity empty", NormalizePurity(0, 0), 100},
		{"purity mean", NormalizePurity(0.825, 10), 83},
		{"coupling", NormalizeCoupling(10, 4), 60},
		{"coupling empty", NormalizeCoupling(0, 0), 100},
		{"dead code", NormalizeDeadCode(8, 2), 75},
		{"coverage clamp", NormalizeCoverage(1.5), 100},
		{"taxonomy negative", NormalizeTaxonomy(-0.2), 0},
		{"taxonomy NaN", NormalizeTaxonomy(math.NaN()), 100},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func testGraph() *graph.CodeGraph {
	g := graph.NewCodeGraph()
	g.AddNode(graph.Node{ID: graph.FileID("a.py"), Name: "a.py", Kind: graph.KindFile, File: "a.py"})
	for _, name := range []string{"main", "helper", "_orphan"} {
		g.AddNode(graph.Node{ID: "a.py:" + name, Name: name, Kind: graph.KindFunction, File: "a.py", Parent: graph.FileID("a.py")})
	}
	g.AddEdge(graph.Edge{Source: "a.py:main", Target: "a.py:helper", Type: graph.EdgeCall, File: "a.py", Line: 2})
	g.AddEdge(graph.Edge{Source: "a.py:helper", Target: "a.py:main", Type: graph.EdgeCall, File: "a.py", Line: 5})
	return g
}

func TestGrader_Grade(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	coverage := 0.9
	in := Inputs{
		Files: 1,
		ControlFlow: &controlflow.Analysis{Summary: controlflow.Summary{
			TotalFunctions:    4,
			ComplexityRatings: map[controlflow.ComplexityRating]int{controlflow.RatingSimple: 3, controlflow.RatingComplex: 1},
		}},
		DataFlow:      &dataflow.Analysis{Summary: dataflow.Summary{TotalFunctions: 4, AvgPurity: 0.5}},
		Graph:         testGraph(),
		Discovery:     &discovery.Report{TotalNodes: 100, KnownNodes: 80, CoverageRatio: 0.8},
		ParseCoverage: &coverage,
	}
	r := New(WithClock(func() time.Time { return now })).Grade(in)

	want := ComponentScores{Complexity: 75, Purity: 50, Coupling: 50, DeadCode: 67, Coverage: 90, Taxonomy: 80}
	if r.Components != want {
		t.Errorf("Components = %+v, want %+v", r.Components, want)
	}
	if r.Nodes != 4 || r.Edges != 2 || r.Cycles != 1 || r.DeadFunctions != 1 {
		t.Errorf("graph fields = nodes %d edges %d cycles %d dead %d", r.Nodes, r.Edges, r.Cycles, r.DeadFunctions)
	}
	if r.Functions != 4 {
		t.Errorf("Functions = %d, want 4", r.Functions)
	}
	if !r.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v", r.Timestamp)
	}
	// 75*.25 + 50*.20 + 50*.20 + 67*.15 + 90*.10 + 80*.10 = 65.8 -> 6.58
	if math.Abs(r.HealthIndex-6.58) > 1e-9 || r.Grade != LetterC {
		t.Errorf("HealthIndex = %v grade %s, want 6.58 C", r.HealthIndex, r.Grade)
	}
	if !r.Passed {
		t.Error("no thresholds configured, should pass")
	}
}

func TestGrader_EmptyInputs(t *testing.T) {
	r := New().Grade(Inputs{})
	if r.HealthIndex != 10 || r.Grade != LetterA {
		t.Errorf("empty inputs = %v %s, want 10 A", r.HealthIndex, r.Grade)
	}
}

func TestResult_Render(t *testing.T) {
	r := New(WithThresholds(Thresholds{HealthIndex: 9.9})).Grade(Inputs{Graph: testGraph()})

	var txt bytes.Buffer
	if err := r.RenderText(&txt, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(txt.String(), "Grade: "+string(r.Grade)) {
		t.Errorf("text output missing grade:\n%s", txt.String())
	}
	if !strings.Contains(txt.String(), "Failed thresholds: health_index") {
		t.Errorf("text output missing failed threshold:\n%s", txt.String())
	}

	var md bytes.Buffer
	if err := r.RenderMarkdown(&md); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md.String(), "| Coupling | 50 | 0.20 |") {
		t.Errorf("markdown output missing coupling row:\n%s", md.String())
	}
}
