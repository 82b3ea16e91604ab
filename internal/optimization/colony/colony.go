// Package colony implements the ant-colony solver over a discretized genome
// space: a pheromone matrix indexed by (variable, bin), probabilistic
// construction proportional to pheromone^alpha * heuristic^beta, global
// evaporation and fitness-proportional deposit.
package colony

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quantadev/optimhub/internal/optimization"
)

// pheromoneFloor keeps matrix entries strictly positive so no bin is ever
// unreachable.
const pheromoneFloor = 1e-12

// pheromoneMatrix holds one row of bin weights per variable.
type pheromoneMatrix struct {
	bins int
	tau  []float64
}

func newPheromoneMatrix(variables, bins int, initial float64) *pheromoneMatrix {
	tau := make([]float64, variables*bins)
	for i := range tau {
		tau[i] = initial
	}
	return &pheromoneMatrix{bins: bins, tau: tau}
}

func (m *pheromoneMatrix) at(variable, bin int) float64 {
	return m.tau[variable*m.bins+bin]
}

func (m *pheromoneMatrix) deposit(variable, bin int, amount float64) {
	m.tau[variable*m.bins+bin] += amount
}

// evaporate decays every entry by the given fraction, flooring at
// pheromoneFloor.
func (m *pheromoneMatrix) evaporate(fraction float64) {
	keep := 1 - fraction
	for i := range m.tau {
		m.tau[i] *= keep
		if m.tau[i] < pheromoneFloor {
			m.tau[i] = pheromoneFloor
		}
	}
}

// Solver runs ant-colony optimization over [0,1]^n.
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
	return optimization.AlgorithmAntColony
}

func (s *Solver) Solve(ctx context.Context, problem *optimization.Problem, eval optimization.Evaluator, params optimization.Params) (*optimization.Outcome, error) {
	n := problem.VariableCount
	ants := params.Ants
	if ants <= 0 {
		ants = 20
	}
	bins := params.Bins
	if bins < 2 {
		bins = 10
	}
	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	window := params.ConvergenceWindow
	if window <= 0 {
		window = 10
	}
	alpha := params.Alpha
	if alpha <= 0 {
		alpha = 1.0
	}
	beta := params.Beta
	if beta <= 0 {
		beta = 2.0
	}
	evaporation := params.Evaporation
	if evaporation <= 0 || evaporation >= 1 {
		evaporation = 0.10
	}
	tau0 := params.InitialTau
	if tau0 <= 0 {
		tau0 = 1.0
	}
	depositScale := params.DepositScale
	if depositScale <= 0 {
		depositScale = 1.0
	}

	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	directed := func(x []float64) float64 {
		return optimization.DirectedScore(problem.Direction, eval.Score(eval.Decode(x)))
	}

	matrix := newPheromoneMatrix(n, bins, tau0)
	weights := make([]float64, bins)

	type antTrail struct {
		binChoices []int
		genome     []float64
		fitness    float64
	}
	trails := make([]antTrail, ants)
	for a := range trails {
		trails[a] = antTrail{
			binChoices: make([]int, n),
			genome:     make([]float64, n),
		}
	}

	best := make([]float64, n)
	bestFitness := math.Inf(-1)
	history := make([]float64, 0, maxIter)
	iter := 0

	for ; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, optimization.WrapError(err, optimization.KindTimeout, "colony.Solve", "iteration loop interrupted")
		}

		worst := math.Inf(1)
		iterBest := math.Inf(-1)
		for a := range trails {
			trail := &trails[a]
			for v := 0; v < n; v++ {
				bin := sampleBin(matrix, v, alpha, beta, weights, rng)
				trail.binChoices[v] = bin
				// uniform jitter inside the chosen bin
				trail.genome[v] = (float64(bin) + rng.Float64()) / float64(bins)
			}
			trail.fitness = directed(trail.genome)
			if trail.fitness > bestFitness {
				bestFitness = trail.fitness
				copy(best, trail.genome)
			}
			if trail.fitness > iterBest {
				iterBest = trail.fitness
			}
			if trail.fitness < worst {
				worst = trail.fitness
			}
		}

		matrix.evaporate(evaporation)

		// deposit proportional to each ant's fitness, rank-normalized so
		// amounts stay non-negative for minimization problems too
		span := iterBest - worst
		if span < 1e-12 {
			span = 1e-12
		}
		for a := range trails {
			trail := &trails[a]
			amount := depositScale * (trail.fitness - worst) / span
			if amount <= 0 {
				continue
			}
			for v, bin := range trail.binChoices {
				matrix.deposit(v, bin, amount)
			}
		}

		history = append(history, bestFitness)
		if optimization.Converged(history, window, params.ConvergenceThreshold) {
			iter++
			break
		}
	}

	solution := eval.Decode(best)
	stability := optimization.TailStability(history, window)
	return &optimization.Outcome{
		Solution:           solution,
		Score:              eval.Score(solution),
		Confidence:         optimization.Clamp01(0.5 + 0.5*stability),
		Quality:            optimization.Clamp01(0.5*stability + 0.5*concentration(matrix, n)),
		Iterations:         iter,
		ConvergenceHistory: history,
		Diversity:          1 - concentration(matrix, n),
	}, nil
}

// sampleBin draws a bin for one variable with probability proportional to
// pheromone^alpha * randomFactor^beta. The random factor stands in for a
// problem-specific heuristic, which abstract genomes do not have.
func sampleBin(m *pheromoneMatrix, variable int, alpha, beta float64, weights []float64, rng *rand.Rand) int {
	total := 0.0
	for b := 0; b < m.bins; b++ {
		w := math.Pow(m.at(variable, b), alpha) * math.Pow(0.5+0.5*rng.Float64(), beta)
		weights[b] = w
		total += w
	}
	if total <= 0 {
		return rng.Intn(m.bins)
	}
	r := rng.Float64() * total
	acc := 0.0
	for b := 0; b < m.bins; b++ {
		acc += weights[b]
		if r <= acc {
			return b
		}
	}
	return m.bins - 1
}

// concentration measures how sharply the pheromone mass has collected on few
// bins: the mean, over variables, of the max-bin share.
func concentration(m *pheromoneMatrix, variables int) float64 {
	total := 0.0
	for v := 0; v < variables; v++ {
		rowSum := 0.0
		rowMax := 0.0
		for b := 0; b < m.bins; b++ {
			t := m.at(v, b)
			rowSum += t
			if t > rowMax {
				rowMax = t
			}
		}
		if rowSum > 0 {
			total += rowMax / rowSum
		}
	}
	return total / float64(variables)
}
