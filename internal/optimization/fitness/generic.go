package fitness

import (
	"github.com/quantadev/optimhub/internal/optimization"
)

// genericEvaluator is the built-in surrogate for generic problems: negated
// squared distance to a target vector (default 0.5 per component). Domain
// adapters with a real objective use NewWithObjective instead.
type genericEvaluator struct {
	problem *optimization.Problem
	target  []float64
}

func newGeneric(p *optimization.Problem) *genericEvaluator {
	target := floatSlice(p.Parameters, "target")
	if len(target) != p.VariableCount {
		target = make([]float64, p.VariableCount)
		for i := range target {
			target[i] = 0.5
		}
	}
	return &genericEvaluator{problem: p, target: target}
}

func (e *genericEvaluator) Decode(genome []float64) []float64 {
	return clampCopy(genome)
}

func (e *genericEvaluator) Score(solution []float64) float64 {
	total := 0.0
	for i, x := range solution {
		d := x - e.target[i]
		total += d * d
	}
	return -total - constraintPenalty(e.problem, solution)
}
