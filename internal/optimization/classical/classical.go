// Package classical provides the deterministic fallback heuristics the hub
// runs when a metaheuristic fails or underperforms. These are availability
// mechanisms, not quality guarantees: equal weights, even spacing, midpoints.
package classical

import (
	"github.com/quantadev/optimhub/internal/optimization"
)

// fallbackConfidence is deliberately low; fallback results should lose
// ensemble weighting against any converged solver.
const fallbackConfidence = 0.3

// Solve produces the deterministic baseline solution for a problem and
// scores it with the task's evaluator. The hub uses the outcome both as the
// fallback result and as the reference point for the advantage diagnostic.
func Solve(problem *optimization.Problem, eval optimization.Evaluator) *optimization.Outcome {
	genome := baseline(problem)
	solution := eval.Decode(genome)
	return &optimization.Outcome{
		Solution:   solution,
		Score:      eval.Score(solution),
		Confidence: fallbackConfidence,
		Quality:    fallbackConfidence,
		Iterations: 1,
	}
}

// baseline returns the undecoded baseline genome for a problem.
func baseline(problem *optimization.Problem) []float64 {
	n := problem.VariableCount
	genome := make([]float64, n)
	switch problem.Kind {
	case optimization.PortfolioAllocation:
		// equal-weight portfolio
		for i := range genome {
			genome[i] = 1 / float64(n)
		}
	case optimization.Clustering:
		// evenly spaced coordinates across [0,1]
		for i := range genome {
			genome[i] = (float64(i) + 0.5) / float64(n)
		}
	default:
		// midpoint exposure for risk scoring and generic objectives
		for i := range genome {
			genome[i] = 0.5
		}
	}
	return genome
}
