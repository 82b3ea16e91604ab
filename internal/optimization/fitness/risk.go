package fitness

import (
	"gonum.org/v1/gonum/stat"

	"github.com/quantadev/optimhub/internal/optimization"
)

// riskEvaluator scores factor-exposure vectors: weighted closeness to the
// target exposures, minus a concentration penalty on uneven exposures.
//
// Parameters:
//
//	factorWeights       per-factor importance, optional (default 1 each)
//	targetExposures     desired exposure per factor, optional (default 0.5)
//	concentrationPenalty  weight of the exposure-variance term, default 0.5
type riskEvaluator struct {
	problem *optimization.Problem
	weights []float64
	targets []float64
	conc    float64
}

func newRisk(p *optimization.Problem) (*riskEvaluator, error) {
	n := p.VariableCount
	weights := floatSlice(p.Parameters, "factorWeights")
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	} else if len(weights) != n {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newRisk",
			"factorWeights must have %d entries, got %d", n, len(weights))
	}
	targets := floatSlice(p.Parameters, "targetExposures")
	if targets == nil {
		targets = make([]float64, n)
		for i := range targets {
			targets[i] = 0.5
		}
	} else if len(targets) != n {
		return nil, optimization.NewError(optimization.KindInvalidProblem, "fitness.newRisk",
			"targetExposures must have %d entries, got %d", n, len(targets))
	}
	return &riskEvaluator{
		problem: p,
		weights: weights,
		targets: targets,
		conc:    floatParam(p.Parameters, "concentrationPenalty", 0.5),
	}, nil
}

func (e *riskEvaluator) Decode(genome []float64) []float64 {
	return clampCopy(genome)
}

func (e *riskEvaluator) Score(solution []float64) float64 {
	deviation := 0.0
	for i, x := range solution {
		d := x - e.targets[i]
		deviation += e.weights[i] * d * d
	}
	spread := stat.Variance(solution, nil)
	score := -deviation - e.conc*spread
	return score - constraintPenalty(e.problem, solution)
}
