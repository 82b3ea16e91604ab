// Package annealing implements the simulated-annealing solver: geometric
// cooling, temperature-proportional neighborhood moves and a Metropolis
// acceptance rule widened by a tunneling term that permits larger downhill
// jumps while the temperature is high.
package annealing

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/optimization"
)

// Solver runs simulated annealing over [0,1]^n.
type Solver struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Solver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Solver{log: log}
}

func (s *Solver) Kind() optimization.AlgorithmKind {
	return optimization.AlgorithmAnnealing
}

func (s *Solver) Solve(ctx context.Context, problem *optimization.Problem, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	n := problem.VariableCount
	initialTemp := params.InitialTemperature
	if initialTemp <= 0 {
		initialTemp = 100
	}
	finalTemp := params.FinalTemperature
	if finalTemp <= 0 {
		finalTemp = 1e-3
	}
	cooling := params.CoolingRate
	if cooling <= 0 || cooling >= 1 {
		cooling = 0.95
	}
	neighbors := params.NeighborsPerTemp
	if neighbors <= 0 {
		neighbors = 5
	}
	maxSteps := params.MaxIterations
	if maxSteps <= 0 {
		maxSteps = 1000
	}
	window := params.ConvergenceWindow
	if window <= 0 {
		window = 10
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	directed := func(x []float64) float64 {
		return optimization.DirectedScore(problem.Direction, eval.Score(eval.Decode(x)))
	}

	current := make([]float64, n)
	for i := range current {
		current[i] = rng.Float64()
	}
	currentFitness := directed(current)

	// best-ever is tracked independently of the accepted walker, which may
	// wander downhill
	best := make([]float64, n)
	copy(best, current)
	bestFitness := currentFitness

	candidate := make([]float64, n)
	history := make([]float64, 0, maxSteps)
	temp := initialTemp
	step := 0

	for ; step < maxSteps && temp > finalTemp; step++ {
		if err := ctx.Err(); err != nil {
			return nil, optimization.WrapError(err, optimization.KindTimeout, "annealing.Solve", "cooling loop interrupted")
		}

		for k := 0; k < neighbors; k++ {
			copy(candidate, current)
			perturb(candidate, temp/initialTemp, rng)

			candFitness := directed(candidate)
			delta := candFitness - currentFitness

			accept := delta > 0
			if !accept {
				boltzmann := math.Exp(delta / math.Max(temp, 1e-12))
				tunneling := tunnelProbability(delta, temp, initialTemp)
				if rng.Float64() < math.Max(boltzmann, tunneling) {
					accept = true
				}
			}
			if accept {
				current, candidate = candidate, current
				currentFitness = candFitness
				if currentFitness > bestFitness {
					bestFitness = currentFitness
					copy(best, current)
				}
			}
		}

		history = append(history, bestFitness)
		if optimization.Converged(history, window, params.ConvergenceThreshold) {
			step++
			break
		}
		temp *= cooling
	}

	solution := eval.Decode(best)
	stability := optimization.TailStability(history, window)
	cooled := 1 - temp/initialTemp
	return &optimization.Outcome{
		Solution:           solution,
		Score:              eval.Score(solution),
		Confidence:         optimization.Clamp01(0.4*cooled + 0.6*stability),
		Quality:            optimization.Clamp01(0.5*stability + 0.5*cooled),
		Iterations:         step,
		ConvergenceHistory: history,
		Diversity:          temp / initialTemp,
	}, nil
}

// perturb moves each component by gaussian noise whose magnitude follows the
// normalized temperature, clamped back into [0,1].
func perturb(x []float64, tempRatio float64, rng *rand.Rand) {
	scale := 0.02 + 0.3*tempRatio
	for i := range x {
		x[i] = optimization.Clamp01(x[i] + scale*rng.NormFloat64())
	}
}

// tunnelProbability is the barrier-crossing term: at high temperature it
// dominates the Boltzmann probability for large downhill deltas, decaying to
// zero as the system cools.
func tunnelProbability(delta, temp, initialTemp float64) float64 {
	tempRatio := temp / initialTemp
	return 0.3 * tempRatio * math.Exp(delta/(2*math.Max(temp, 1e-12)))
}
