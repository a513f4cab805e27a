package dataflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/spectrometer/pkg/parser"
)

func analyzeSource(t *testing.T, a *Analyzer, lang parser.Language, src string) FileResult {
	t.Helper()
	p := parser.New()
	defer p.Close()
	res, err := p.Parse(context.Background(), []byte(src), lang, "test")
	require.NoError(t, err)
	defer res.Close()

	fr, err := a.AnalyzeTree(context.Background(), res)
	require.NoError(t, err)
	return fr
}

func singleFunction(t *testing.T, lang parser.Language, src string) FunctionResult {
	t.Helper()
	fr := analyzeSource(t, New(), lang, src)
	require.Len(t, fr.Functions, 1)
	return fr.Functions[0]
}

func TestEmptyBodyIsPure(t *testing.T) {
	fn := singleFunction(t, parser.LangPython, "def f():\n    pass\n")
	assert.Equal(t, 1.0, fn.Purity)
	assert.Equal(t, RatingPure, fn.Rating)
	assert.True(t, fn.Flow.IsPure())
	assert.Empty(t, fn.Flow.Assignments)
}

func TestCollect_NilNode(t *testing.T) {
	flow := Collect(nil, nil, parser.LangPython)
	assert.Equal(t, 1.0, flow.Purity())
	assert.True(t, flow.IsPure())
}

func TestMutationLowersPurity(t *testing.T) {
	clean := singleFunction(t, parser.LangPython, "def f(xs):\n    y = xs\n    y = 1\n")
	mutated := singleFunction(t, parser.LangPython, "def f(xs):\n    y = xs\n    y += 1\n")

	assert.Equal(t, 1.0, clean.Purity)
	assert.Less(t, mutated.Purity, clean.Purity)
	assert.InDelta(t, 1.0-1.0/3.0, mutated.Purity, 1e-9)

	aug := mutated.Flow.Assignments[1]
	assert.Equal(t, MutationAugmented, aug.Kind)
	assert.Equal(t, []string{"y"}, aug.Sources)
}

func TestAppendAndExternalCall(t *testing.T) {
	src := `def process(items):
    result = []
    if items:
        result.append(transform(items))
    else:
        return None
    return result
`
	fn := singleFunction(t, parser.LangPython, src)
	assert.Equal(t, 1, fn.Flow.MutationCount())
	assert.Empty(t, fn.Flow.SideEffects, "unknown calls are not side effects")
	assert.Greater(t, fn.Rating.Rank(), RatingPure.Rank())

	m := fn.Flow.Mutations()[0]
	assert.Equal(t, MutationMethod, m.Kind)
	assert.Equal(t, "result", m.Target)
}

func TestGlobalWriteAndIO(t *testing.T) {
	src := `def bump():
    global counter
    counter += 1
    print(counter)
`
	fn := singleFunction(t, parser.LangPython, src)
	flow := fn.Flow

	assert.Equal(t, []string{"counter"}, flow.Globals)
	require.Len(t, flow.Assignments, 1)
	assert.True(t, flow.Assignments[0].GlobalWrite)
	assert.True(t, flow.HasGlobalWrite())

	require.Len(t, flow.SideEffects, 2)
	assert.Equal(t, EffectGlobal, flow.SideEffects[0].Kind)
	assert.Equal(t, "global counter", flow.SideEffects[0].Evidence)
	assert.Equal(t, EffectIO, flow.SideEffects[1].Kind)
	assert.Equal(t, "Call to print", flow.SideEffects[1].Evidence)

	// base 1 - 3/4, then the global penalty
	assert.InDelta(t, 0.25*0.8, fn.Purity, 1e-9)
	assert.Equal(t, RatingImpure, fn.Rating)
}

func TestPlainGlobalAssignmentIsMutation(t *testing.T) {
	fn := singleFunction(t, parser.LangPython, "def f():\n    global x\n    x = 1\n")
	require.Len(t, fn.Flow.Assignments, 1)
	assert.Equal(t, MutationGlobalWrite, fn.Flow.Assignments[0].Kind)
	assert.Equal(t, 1, fn.Flow.PurityFactors().MutationKinds[MutationGlobalWrite])
}

func TestMutationKinds_Python(t *testing.T) {
	src := `def f(obj, d, xs):
    obj.name = 1
    d["k"] = 2
    del d["k"]
    xs.sort()
`
	fn := singleFunction(t, parser.LangPython, src)
	factors := fn.Flow.PurityFactors()
	assert.Equal(t, 4, factors.Assignments)
	assert.Equal(t, 4, factors.Mutations)
	assert.Equal(t, map[MutationKind]int{
		MutationAttribute: 1,
		MutationSubscript: 1,
		MutationDelete:    1,
		MutationMethod:    1,
	}, factors.MutationKinds)
	assert.InDelta(t, 0.2, factors.Score, 1e-9)
	assert.False(t, factors.Pure)
}

func TestJavaScript(t *testing.T) {
	src := `function f(arr) {
  let total = 0;
  total += 1;
  i++;
  arr.push(total);
  console.log(total);
  delete arr.x;
}`
	fn := singleFunction(t, parser.LangJavaScript, src)
	factors := fn.Flow.PurityFactors()
	assert.Equal(t, 5, factors.Assignments)
	assert.Equal(t, 4, factors.Mutations)
	assert.Equal(t, map[MutationKind]int{
		MutationAugmented: 1,
		MutationUpdate:    1,
		MutationMethod:    1,
		MutationDelete:    1,
	}, factors.MutationKinds)
	assert.Equal(t, map[EffectKind]int{EffectIO: 1}, factors.SideEffectKinds)
}

func TestGo(t *testing.T) {
	src := `package p

func f(m map[string]int, s *S) {
	x := 1
	x += 2
	m["a"] = x
	s.n = 3
	x++
	fmt.Println(x)
}
`
	fn := singleFunction(t, parser.LangGo, src)
	factors := fn.Flow.PurityFactors()
	assert.Equal(t, 5, factors.Assignments)
	assert.Equal(t, map[MutationKind]int{
		MutationAugmented: 1,
		MutationSubscript: 1,
		MutationAttribute: 1,
		MutationUpdate:    1,
	}, factors.MutationKinds)
	assert.Equal(t, map[EffectKind]int{EffectIO: 1}, factors.SideEffectKinds)
}

func TestJava(t *testing.T) {
	src := `class A {
    void f(List<Integer> xs) {
        int n = 1;
        n += 2;
        xs.add(n);
        System.out.println(n);
    }
}`
	fn := singleFunction(t, parser.LangJava, src)
	factors := fn.Flow.PurityFactors()
	assert.Equal(t, 3, factors.Assignments)
	assert.Equal(t, map[MutationKind]int{MutationAugmented: 1, MutationMethod: 1}, factors.MutationKinds)
	assert.Equal(t, map[EffectKind]int{EffectIO: 1}, factors.SideEffectKinds)
}

func TestMalformedInputNeverFails(t *testing.T) {
	fr := analyzeSource(t, New(), parser.LangPython, "def f(:\n    x = \n    y +=\n")
	for _, fn := range fr.Functions {
		assert.GreaterOrEqual(t, fn.Purity, 0.0)
		assert.LessOrEqual(t, fn.Purity, 1.0)
	}
}

func TestUnsupportedLanguageIsPure(t *testing.T) {
	fr := analyzeSource(t, New(), parser.LangRust, "fn f() { let mut x = 1; x += 1; }\n")
	require.Len(t, fr.Functions, 1)
	assert.Equal(t, 1.0, fr.Functions[0].Purity)
}

func TestClassifyCall(t *testing.T) {
	tests := []struct {
		lang   parser.Language
		callee string
		kind   EffectKind
		ok     bool
	}{
		{parser.LangPython, "print", EffectIO, true},
		{parser.LangPython, "f.write", EffectIO, true},
		{parser.LangPython, "requests.get", EffectExternal, true},
		{parser.LangPython, "os.system", EffectExternal, true},
		{parser.LangPython, "setattr", EffectGlobal, true},
		{parser.LangPython, "thread_reader", "", false},
		{parser.LangPython, "transform", "", false},
		{parser.LangTypeScript, "fetch", EffectIO, true},
		{parser.LangJavaScript, "localStorage.setItem", EffectExternal, true},
		{parser.LangGo, "http.Get", EffectExternal, true},
		{parser.LangGo, "os.Setenv", EffectGlobal, true},
		{parser.LangRust, "println", "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang)+"/"+tt.callee, func(t *testing.T) {
			kind, ok := classifyCall(tt.lang, tt.callee)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score(0, 0, 0, false))
	assert.InDelta(t, 2.0/3.0, Score(2, 1, 0, false), 1e-9)
	assert.InDelta(t, 0.8, Score(0, 0, 0, true), 1e-9)
	assert.Equal(t, 0.0, Score(0, 5, 0, false))

	w := Weights{GlobalWritePenalty: 0.5}
	assert.InDelta(t, 0.5, w.Score(0, 0, 0, true), 1e-9)
}

func TestRatePurity(t *testing.T) {
	assert.Equal(t, RatingPure, RatePurity(1))
	assert.Equal(t, RatingPure, RatePurity(0.95))
	assert.Equal(t, RatingMostlyPure, RatePurity(0.75))
	assert.Equal(t, RatingMixed, RatePurity(0.5))
	assert.Equal(t, RatingMostlyImpure, RatePurity(0.25))
	assert.Equal(t, RatingImpure, RatePurity(0.24))

	assert.Equal(t, 0, RatingPure.Rank())
	assert.Equal(t, 4, RatingImpure.Rank())
}

func TestViolations(t *testing.T) {
	a := New(WithThresholds(Thresholds{MinPurity: 0.9}))
	fr := analyzeSource(t, a, parser.LangPython, "def f(x):\n    x.y = 1\n")
	require.Len(t, fr.Functions, 1)
	require.Len(t, fr.Functions[0].Violations, 1)
	assert.Contains(t, fr.Functions[0].Violations[0], "purity 0.50 below 0.90")
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	require.NoError(t, os.WriteFile(a, []byte("def f():\n    pass\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("def g(x):\n    x.y = 1\n\ndef h():\n    print(1)\n"), 0o644))

	an := New(WithWorkers(2))
	defer an.Close()

	analysis, err := an.Analyze(context.Background(), []string{a, b})
	require.NoError(t, err)
	s := analysis.Summary
	assert.Equal(t, 2, s.TotalFiles)
	assert.Equal(t, 3, s.TotalFunctions)
	assert.Equal(t, 1, s.PureFunctions)
	assert.Equal(t, 1, s.TotalMutations)
	assert.Equal(t, 1, s.TotalSideEffects)
	assert.Equal(t, 1, s.MutationKinds[MutationAttribute])
	assert.Equal(t, 1, s.SideEffectKinds[EffectIO])
	assert.InDelta(t, (1.0+0.5+0.5)/3.0, s.AvgPurity, 1e-9)
	assert.InDelta(t, 0.5, s.MinPurity, 1e-9)

	least := analysis.LeastPure(1)
	require.Len(t, least, 1)
	assert.Equal(t, "g", least[0].Name)
}
