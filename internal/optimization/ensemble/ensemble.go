// Package ensemble combines outcomes from several solvers into one: each
// outcome is weighted by confidence times solver-specific quality, weights
// are normalized to one, and the solution vector and scalar metrics are
// weighted averages. The combiner introduces no randomness.
package ensemble

import (
	"gonum.org/v1/gonum/floats"

	"github.com/quantadev/optimhub/internal/optimization"
)

// Member pairs a solver's kind with its outcome, so diagnostics can name the
// contributors.
type Member struct {
	Kind    optimization.AlgorithmKind
	Outcome *optimization.Outcome
}

// Combine merges solver outcomes for the same problem. At least one member
// is required; members with non-positive weight are excluded, and when every
// weight degenerates to zero the members are weighted equally.
func Combine(problem *optimization.Problem, eval optimization.Evaluator, members []Member) (*optimization.Outcome, error) {
	if len(members) == 0 {
		return nil, optimization.NewError(optimization.KindSolverFailure, "ensemble.Combine", "no solver outcomes to combine")
	}

	n := len(members[0].Outcome.Solution)
	weights := make([]float64, len(members))
	total := 0.0
	for i, m := range members {
		w := m.Outcome.Confidence * m.Outcome.Quality
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}
	floats.Scale(1/total, weights)

	combined := &optimization.Outcome{
		Solution: make([]float64, n),
	}
	iterations := 0
	diversity := 0.0
	for i, m := range members {
		floats.AddScaled(combined.Solution, weights[i], m.Outcome.Solution)
		combined.Confidence += weights[i] * m.Outcome.Confidence
		combined.Quality += weights[i] * m.Outcome.Quality
		diversity += weights[i] * m.Outcome.Diversity
		if m.Outcome.Iterations > iterations {
			iterations = m.Outcome.Iterations
		}
	}

	// the averaged vector may leave the decoded space; re-decode and score
	// it so invariants like normalized portfolio weights still hold
	combined.Solution = eval.Decode(combined.Solution)
	combined.Score = eval.Score(combined.Solution)
	combined.Iterations = iterations
	combined.Diversity = diversity
	combined.ConvergenceHistory = bestHistory(members)
	return combined, nil
}

// bestHistory picks the convergence history of the highest-weighted member,
// a reasonable single trajectory to expose for an aggregation.
func bestHistory(members []Member) []float64 {
	var best *optimization.Outcome
	bestWeight := -1.0
	for _, m := range members {
		w := m.Outcome.Confidence * m.Outcome.Quality
		if w > bestWeight {
			bestWeight = w
			best = m.Outcome
		}
	}
	if best == nil {
		return nil
	}
	out := make([]float64, len(best.ConvergenceHistory))
	copy(out, best.ConvergenceHistory)
	return out
}
