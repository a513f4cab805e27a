package grade

import "math"

// Each component is normalised to 0-100 where higher is better. An empty
// input scores 100: nothing measured means nothing wrong.

// NormalizeComplexity is the share of functions rated simple.
func NormalizeComplexity(totalFunctions, simpleFunctions int) int {
	return share(simpleFunctions, totalFunctions)
}

// NormalizePurity scales a mean purity in [0,1].
func NormalizePurity(avgPurity float64, functions int) int {
	if functions == 0 {
		return 100
	}
	return ratio(avgPurity)
}

// NormalizeCoupling is the share of graph nodes outside any cycle.
func NormalizeCoupling(totalNodes, nodesInCycles int) int {
	return share(totalNodes-nodesInCycles, totalNodes)
}

// NormalizeDeadCode is the share of functions reachable from an entry point.
func NormalizeDeadCode(totalFunctions, deadFunctions int) int {
	return share(totalFunctions-deadFunctions, totalFunctions)
}

// NormalizeCoverage scales a parse coverage ratio in [0,1].
func NormalizeCoverage(coverage float64) int {
	return ratio(coverage)
}

// NormalizeTaxonomy scales the share of nodes the catalogue knows.
func NormalizeTaxonomy(coverageRatio float64) int {
	return ratio(coverageRatio)
}

func share(good, total int) int {
	if total <= 0 {
		return 100
	}
	return ratio(float64(good) / float64(total))
}

func ratio(r float64) int {
	if math.IsNaN(r) {
		return 100
	}
	return clamp(int(math.Round(100*r)), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
