package discovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cat := taxonomy.MustNew().Snapshot()
	opts = append([]Option{WithClock(func() time.Time { return epoch })}, opts...)
	e := New(cat, opts...)
	t.Cleanup(e.Close)
	return e
}

func observe(t *testing.T, e *Engine, src, path string) *Partial {
	t.Helper()
	p := parser.New()
	defer p.Close()
	res, err := p.Parse(context.Background(), []byte(src), parser.LangPython, path)
	require.NoError(t, err)
	defer res.Close()
	return e.ObserveFile(res)
}

func atomOfType(p *Partial, astType string) *UnknownAtom {
	for _, a := range p.Sorted() {
		if a.ASTType == astType {
			return a
		}
	}
	return nil
}

const globalsSrc = `counter = 0

def bump():
    global counter
    counter += 1

def reset():
    global counter
    counter = 0
`

func TestObserveFile_RecordsUnknownConstructs(t *testing.T) {
	e := newEngine(t, WithRepo("demo"))
	p := observe(t, e, globalsSrc, "svc.py")

	assert.Equal(t, 1, p.Files)
	assert.Greater(t, p.TotalNodes, p.KnownNodes)
	assert.GreaterOrEqual(t, p.UnknownNodes, 2)

	a := atomOfType(p, "global_statement")
	require.NotNil(t, a, "global_statement should be unknown to the catalogue")
	assert.Equal(t, 2, a.OccurrenceCount)
	assert.Equal(t, []string{"svc.py"}, a.Files)
	assert.Equal(t, []string{"demo"}, a.Repos)
	assert.Equal(t, []string{"svc.py:4", "svc.py:8"}, a.Locations)
	assert.Equal(t, []string{"global counter"}, a.CodeSamples)
	assert.Contains(t, a.ContextIndicators, ContextFunction)
	assert.Equal(t, "GlobalStatement", a.Proposal.Name)
	assert.Equal(t, taxonomy.ContinentLogic, a.Proposal.Continent)
	assert.Equal(t, epoch, a.FirstSeen)
	assert.Len(t, a.Signature, 16)

	// Catalogued and structural types are never reported.
	assert.Nil(t, atomOfType(p, "identifier"))
	assert.Nil(t, atomOfType(p, "module"))
	assert.Nil(t, atomOfType(p, "block"))
}

func TestObserveFile_SampleTruncation(t *testing.T) {
	e := newEngine(t, WithLimits(Limits{Samples: 5, SampleChars: 6, Locations: 10}))
	p := observe(t, e, globalsSrc, "svc.py")

	a := atomOfType(p, "global_statement")
	require.NotNil(t, a)
	assert.Equal(t, []string{"global"}, a.CodeSamples)
}

func TestAnalyze_MatchesObserve(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "svc.py", globalsSrc)

	e := newEngine(t, WithRoot(dir))
	report, err := e.Analyze(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesAnalyzed)
	assert.Equal(t, "local", report.Repo)
	assert.InDelta(t, float64(report.KnownNodes)/float64(report.TotalNodes), report.CoverageRatio, 1e-9)
	assert.InDelta(t, float64(len(report.Unknown))/float64(report.TotalNodes), report.DiscoveryRate, 1e-9)

	var found bool
	for _, a := range report.Unknown {
		if a.ASTType == "global_statement" {
			found = true
			assert.Equal(t, []string{"svc.py"}, a.Files)
		}
	}
	assert.True(t, found)
}

func TestAnalyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t).Analyze(ctx, []string{"missing.py"})
	assert.ErrorIs(t, err, context.Canceled)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sampleAtom(sig string, n int, file, sample string, seen time.Time) *UnknownAtom {
	a := &UnknownAtom{
		Signature:          sig,
		ASTType:            "global_statement",
		BehaviorIndicators: []string{BehaviorAssigns},
		OccurrenceCount:    n,
		Files:              []string{file},
		Repos:              []string{"demo"},
		CodeSamples:        []string{sample},
		Locations:          []string{file + ":1"},
		Proposal:           Propose("global_statement"),
		FirstSeen:          seen,
		LastSeen:           seen,
	}
	a.Confidence = DefaultWeights.Score(a.signals())
	return a
}

func partialOf(atoms ...*UnknownAtom) *Partial {
	p := NewPartial()
	for _, a := range atoms {
		p.Files++
		p.TotalNodes += a.OccurrenceCount * 3
		p.UnknownNodes += a.OccurrenceCount
		p.Atoms[a.Signature] = a
	}
	return p
}

func TestMerge_CommutativeAndAssociative(t *testing.T) {
	e := newEngine(t)
	a := partialOf(sampleAtom("s1", 2, "a.py", "global x", epoch))
	b := partialOf(sampleAtom("s1", 3, "b.py", "global y", epoch.Add(time.Hour)), sampleAtom("s2", 1, "b.py", "z", epoch))
	c := partialOf(sampleAtom("s1", 7, "c.py", "global w", epoch.Add(-time.Hour)))

	abc := e.Merge(e.Merge(a, b), c)
	cba := e.Merge(c, e.Merge(b, a))
	bac := e.Merge(b, a, c)
	assert.Equal(t, abc, cba)
	assert.Equal(t, abc, bac)

	s1 := abc.Atoms["s1"]
	assert.Equal(t, 12, s1.OccurrenceCount)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, s1.Files)
	assert.Equal(t, []string{"global w", "global x", "global y"}, s1.CodeSamples)
	assert.Equal(t, epoch.Add(-time.Hour), s1.FirstSeen)
	assert.Equal(t, epoch.Add(time.Hour), s1.LastSeen)
	assert.Equal(t, 4, abc.Files)

	// Inputs are left untouched.
	assert.Equal(t, 2, a.Atoms["s1"].OccurrenceCount)
}

func TestMerge_OccurrenceCountNeverDecreases(t *testing.T) {
	e := newEngine(t)
	acc := NewPartial()
	prev := 0
	for i := 0; i < 20; i++ {
		acc = e.Merge(acc, partialOf(sampleAtom("s1", i%3, fmt.Sprintf("f%02d.py", i), "x", epoch)))
		got := acc.Atoms["s1"].OccurrenceCount
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestMerge_BoundedEvidence(t *testing.T) {
	lim := Limits{Samples: 2, SampleChars: 200, Locations: 3}
	e := newEngine(t, WithLimits(lim))
	var parts []*Partial
	for i := 9; i >= 0; i-- {
		parts = append(parts, partialOf(sampleAtom("s1", 1, fmt.Sprintf("f%d.py", i), fmt.Sprintf("sample %d", i), epoch)))
	}
	got := e.Merge(parts...).Atoms["s1"]
	assert.Equal(t, []string{"sample 0", "sample 1"}, got.CodeSamples)
	assert.Equal(t, []string{"f0.py:1", "f1.py:1", "f2.py:1"}, got.Locations)
	assert.Len(t, got.Files, 10)
}

func TestCandidates_Ordering(t *testing.T) {
	atoms := []*UnknownAtom{
		{Signature: "b", OccurrenceCount: 10, Confidence: 0.5},
		{Signature: "a", OccurrenceCount: 10, Confidence: 0.5},
		{Signature: "c", OccurrenceCount: 50, Confidence: 0.4},
		{Signature: "d", OccurrenceCount: 2, Confidence: 0.9},
		{Signature: "e", OccurrenceCount: 100, Confidence: 0.1},
	}
	got := Candidates(atoms, 5, 0.3)
	var sigs []string
	for _, a := range got {
		sigs = append(sigs, a.Signature)
	}
	assert.Equal(t, []string{"c", "a", "b"}, sigs)
}

func TestSignature(t *testing.T) {
	s := Signature("global_statement", []string{"global", "identifier"})
	assert.Len(t, s, 16)
	assert.Equal(t, s, Signature("global_statement", []string{"global", "identifier"}))
	assert.NotEqual(t, s, Signature("global_statement", []string{"global"}))

	long := []string{"a", "b", "c", "d", "e", "f"}
	assert.Equal(t, Signature("x", long[:5]), Signature("x", long))

	assert.Equal(t, "x→[a,b,c]", Shape("x", long))
}

func TestPropose(t *testing.T) {
	tests := []struct {
		in          string
		name        string
		continent   taxonomy.Continent
		fundamental taxonomy.Fundamental
		level       taxonomy.Level
	}{
		{"global_statement", "GlobalStatement", taxonomy.ContinentLogic, taxonomy.FundamentalStatements, taxonomy.LevelAtom},
		{"named_expression", "NamedExpression", taxonomy.ContinentLogic, taxonomy.FundamentalExpressions, taxonomy.LevelAtom},
		{"class_declaration", "ClassDeclaration", taxonomy.ContinentOrganization, taxonomy.FundamentalAggregates, taxonomy.LevelMolecule},
		{"function_definition", "FunctionDefinition", taxonomy.ContinentLogic, taxonomy.FundamentalFunctions, taxonomy.LevelMolecule},
		{"char_literal", "CharLiteral", taxonomy.ContinentData, taxonomy.FundamentalPrimitives, taxonomy.LevelAtom},
		{"future_import", "FutureImport", taxonomy.ContinentOrganization, taxonomy.FundamentalModules, taxonomy.LevelAtom},
		{"ellipsis", "Ellipsis", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p := Propose(tt.in)
			assert.Equal(t, tt.name, p.Name)
			assert.Equal(t, tt.continent, p.Continent)
			assert.Equal(t, tt.fundamental, p.Fundamental)
			assert.Equal(t, tt.level, p.Level)
		})
	}
}

func TestBehavior(t *testing.T) {
	assert.Equal(t,
		[]string{BehaviorAccessesInstance, BehaviorAssigns, BehaviorInvokes, BehaviorReturnsValue},
		Behavior("return self.x = f()"))
	assert.Equal(t, []string{BehaviorAsync, BehaviorInvokes, BehaviorIO}, Behavior("await fetch(url)"))
	assert.Empty(t, Behavior("x == y"))
}

func TestScore(t *testing.T) {
	w := DefaultWeights
	assert.InDelta(t, 0.9, w.Score(Signals{Occurrences: 150, Files: 6, HasBehavior: true, HasContext: true, HasName: true}), 1e-9)
	assert.InDelta(t, 0.1, w.Score(Signals{Occurrences: 2, Files: 1}), 1e-9)
	assert.InDelta(t, 0.0, w.Score(Signals{Occurrences: 1, Files: 1}), 1e-9)

	heavy := Weights{Occurrences: []Tier{{Above: 0, Score: 0.8}}, Behavior: 0.8}
	assert.Equal(t, 1.0, heavy.Score(Signals{Occurrences: 1, HasBehavior: true}))
}

func TestPromote(t *testing.T) {
	reg := taxonomy.MustNew()
	c := sampleAtom("s1", 12, "a.py", "global x", epoch)

	id, conflicts, err := Promote(reg, c, "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	assert.Equal(t, taxonomy.FirstDiscoveryID, id)

	def, ok := reg.Lookup("global_statement")
	require.True(t, ok)
	assert.Equal(t, "GlobalStatement", def.Name)
	assert.Equal(t, "demo", def.Source)
	assert.Equal(t, 12, def.OccurrenceCount)

	unplaced := &UnknownAtom{ASTType: "ellipsis", Proposal: Propose("ellipsis")}
	_, _, err = Promote(reg, unplaced, "demo")
	assert.ErrorIs(t, err, ErrUnclassified)
}

func TestStore_MergesOnSave(t *testing.T) {
	s, err := OpenStore(StoreConfig{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save([]*UnknownAtom{sampleAtom("s1", 2, "a.py", "global x", epoch)}))
	require.NoError(t, s.Save([]*UnknownAtom{
		sampleAtom("s1", 3, "b.py", "global y", epoch.Add(time.Hour)),
		sampleAtom("s2", 1, "b.py", "z", epoch),
	}))

	got, ok, err := s.Get("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, got.OccurrenceCount)
	assert.Equal(t, []string{"a.py", "b.py"}, got.Files)
	assert.Equal(t, epoch.Add(time.Hour), got.LastSeen.UTC())

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].Signature)
	assert.Equal(t, "s2", all[1].Signature)

	p, err := s.Partial()
	require.NoError(t, err)
	assert.Len(t, p.Atoms, 2)
}

func TestStore_PersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save([]*UnknownAtom{sampleAtom("s1", 4, "a.py", "global x", epoch)}))
	require.NoError(t, s.Close())

	s, err = OpenStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.OccurrenceCount)
}

func TestReport_Render(t *testing.T) {
	e := newEngine(t, WithRepo("demo"))
	r := e.Report(partialOf(sampleAtom("s1", 40, "a.py", "global x", epoch)))

	var md bytes.Buffer
	require.NoError(t, r.RenderMarkdown(&md))
	assert.Contains(t, md.String(), "## Coverage Statistics")
	assert.Contains(t, md.String(), "| Repository | demo |")
	assert.Contains(t, md.String(), "### 1. GlobalStatement")
	assert.Contains(t, md.String(), "| **Proposed Continent** | Logic & Flow |")

	var txt bytes.Buffer
	require.NoError(t, r.RenderText(&txt, false))
	assert.Contains(t, txt.String(), "GlobalStatement")
	assert.Same(t, r, r.RenderData())
}

func TestObserveFile_CountsKnownNodesByCategory(t *testing.T) {
	e := newEngine(t)
	p := observe(t, e, globalsSrc, "svc.py")

	assert.Positive(t, p.ByCategory[taxonomy.CategoryFunction], "function_definition is catalogued")
	assert.Positive(t, p.ByCategory[taxonomy.CategoryVariable], "identifier is catalogued")
	assert.Positive(t, p.ByCategory[taxonomy.CategoryStatement], "assignment is catalogued")
	assert.Zero(t, p.ByCategory[taxonomy.CategoryUnknown])

	sum := 0
	for _, n := range p.ByCategory {
		sum += n
	}
	assert.Equal(t, p.KnownNodes, sum)

	merged := e.Merge(p, p)
	assert.Equal(t, 2*p.ByCategory[taxonomy.CategoryFunction], merged.ByCategory[taxonomy.CategoryFunction])
	assert.Equal(t, merged.ByCategory, e.Report(merged).ByCategory)
}
